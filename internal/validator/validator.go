package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var driverNameRgx = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	validator.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	validator.RegisterValidation("driver_name", validateDriverName)

	return validator
}

// decimalValue lets numeric tags such as gte and lte apply to decimal fields.
func decimalValue(field reflect.Value) any {
	if value, ok := field.Interface().(decimal.Decimal); ok {
		return value.InexactFloat64()
	}

	return nil
}

func validateDriverName(fl validator.FieldLevel) bool {
	return driverNameRgx.MatchString(fl.Field().String())
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(err.Param(), " ", ", "))
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "iso3166_1_alpha2":
		return "must be an ISO 3166-1 alpha-2 country code"
	case "url":
		return "must be a valid URL"
	case "driver_name":
		return "must be a lower case driver name"
	default:
		return "is invalid"
	}
}

// Describe flattens validator errors into one message per field.
func Describe(err error) map[string]string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"error": err.Error()}
	}

	out := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		out[fieldErr.Namespace()] = ValidationMessage(fieldErr)
	}

	return out
}
