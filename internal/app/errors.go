package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/jsonutil"
	appmiddleware "github.com/metinatakli/paygate/internal/middleware"
	appvalidator "github.com/metinatakli/paygate/internal/validator"
)

const (
	ErrInternalServer   = appmiddleware.ErrInternalServer
	ErrProviderFailure  = "The payment provider could not process the request"
	ErrFailedValidation = "One or more fields are invalid"
)

func (app *Application) logError(r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	attrs := []any{"method", method, "uri", uri}

	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) {
		attrs = append(attrs, "driver", paymentErr.Driver, "op", paymentErr.Op)
	}

	app.logger.ErrorContext(r.Context(), err.Error(), attrs...)
}

// errorResponse sends a JSON-formatted error message with the given status code.
func (app *Application) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	resp := jsonutil.ErrorResponse{
		Message:   message,
		RequestId: middleware.GetReqID(r.Context()),
		Timestamp: time.Now(),
	}

	err := jsonutil.WriteJSON(w, status, resp, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (app *Application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)
	app.errorResponse(w, r, http.StatusInternalServerError, ErrInternalServer)
}

func (app *Application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (app *Application) notFoundResponseWithErr(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusNotFound, err.Error())
}

func (app *Application) editConflictResponseWithErr(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusConflict, err.Error())
}

func (app *Application) failedValidationResponse(w http.ResponseWriter, r *http.Request, err error) {
	resp := jsonutil.ValidationErrorResponse{
		Message:   ErrFailedValidation,
		RequestId: middleware.GetReqID(r.Context()),
		Timestamp: time.Now(),
	}

	for field, issue := range appvalidator.Describe(err) {
		resp.ValidationErrors = append(resp.ValidationErrors, jsonutil.ValidationError{
			Field: field,
			Issue: issue,
		})
	}

	err = jsonutil.WriteJSON(w, http.StatusUnprocessableEntity, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// handleError maps domain and driver errors onto HTTP responses. Provider
// failures are reported as 502 so callers can tell them apart from our own.
func (app *Application) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var paymentErr *domain.PaymentError

	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		app.badRequestResponse(w, r, err)

	case errors.Is(err, domain.ErrDriverNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrRefundNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		app.notFoundResponseWithErr(w, r, err)

	case errors.Is(err, domain.ErrNotSupported):
		app.errorResponse(w, r, http.StatusNotImplemented, err.Error())

	case errors.Is(err, domain.ErrDriverUnavailable):
		app.errorResponse(w, r, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, domain.ErrEditConflict),
		errors.Is(err, domain.ErrDuplicateRefund),
		errors.Is(err, domain.ErrInvalidTransition):
		app.editConflictResponseWithErr(w, r, err)

	case errors.Is(err, domain.ErrValidation):
		app.errorResponse(w, r, http.StatusUnprocessableEntity, err.Error())

	case errors.As(err, &paymentErr):
		app.logError(r, err)
		app.errorResponse(w, r, http.StatusBadGateway, ErrProviderFailure)

	default:
		app.serverErrorResponse(w, r, err)
	}
}
