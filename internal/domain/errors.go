package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrEditConflict   = errors.New("edit conflict")

	ErrValidation              = errors.New("validation failed")
	ErrInvalidAmount           = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrUnsupportedCurrency     = fmt.Errorf("%w: unsupported currency", ErrValidation)
	ErrAmountExceedsLimit      = fmt.Errorf("%w: amount exceeds the driver limit", ErrValidation)
	ErrCountryNotAllowed       = fmt.Errorf("%w: country is not allowed", ErrValidation)
	ErrMissingIdentifier       = fmt.Errorf("%w: missing required identifier", ErrValidation)
	ErrReferenceMismatch       = fmt.Errorf("%w: payment reference does not match", ErrValidation)
	ErrRefundExceedsRefundable = fmt.Errorf("%w: refund exceeds the refundable amount", ErrValidation)
	ErrNothingToRefund         = fmt.Errorf("%w: transaction has nothing to refund", ErrValidation)
	ErrInvalidTransition       = fmt.Errorf("%w: status transition not allowed", ErrValidation)

	ErrPaymentNotFound      = errors.New("payment not found")
	ErrRefundNotFound       = errors.New("refund not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrDuplicateRefund      = errors.New("refund already recorded")

	ErrDriverNotFound    = errors.New("payment driver not registered")
	ErrDriverUnavailable = errors.New("payment driver is not configured")
	ErrNotSupported      = errors.New("operation not supported by payment driver")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrDuplicateEvent   = errors.New("webhook event already processed")
)

// PaymentError wraps transport and integration failures (network errors,
// unexpected provider responses, malformed payloads) with the driver and
// operation that produced them.
type PaymentError struct {
	Driver  string
	Op      string
	Context map[string]any
	Err     error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Driver, e.Op, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPaymentError(driver, op string, err error, context map[string]any) *PaymentError {
	return &PaymentError{
		Driver:  driver,
		Op:      op,
		Context: context,
		Err:     err,
	}
}
