package app

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/jsonutil"
	"github.com/metinatakli/paygate/internal/reconcile"
)

var errTransactionIDInvalid = errors.New("transaction id must be a UUID")

type createPaymentRequest struct {
	Driver   string            `json:"driver" validate:"omitempty,driver_name"`
	Amount   *int64            `json:"amount" validate:"required,gte=0"`
	Currency string            `json:"currency" validate:"omitempty,iso4217"`
	Customer *domain.Customer  `json:"customer"`
	Metadata map[string]string `json:"metadata" validate:"max=50"`
}

type refundRequest struct {
	// Amount zero refunds whatever is still refundable.
	Amount int64  `json:"amount" validate:"gte=0"`
	Reason string `json:"reason" validate:"max=255"`
}

type captureRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

type confirmTransferRequest struct {
	Reference      string `json:"reference" validate:"required,max=64"`
	ReceivedAmount int64  `json:"received_amount" validate:"gte=0"`
}

type confirmDeliveryRequest struct {
	CollectedAmount int64 `json:"collected_amount" validate:"gte=0"`
}

type paymentResponse struct {
	Transaction *domain.Transaction   `json:"transaction"`
	Intent      *domain.PaymentIntent `json:"intent,omitempty"`
	Refunds     []domain.Refund       `json:"refunds,omitempty"`
}

type refundResponse struct {
	Refund      *domain.Refund      `json:"refund"`
	Transaction *domain.Transaction `json:"transaction"`
}

func (app *Application) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var input createPaymentRequest

	err := jsonutil.ReadJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		input.Currency = app.payments.DefaultCurrency()
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	intent, txn, err := app.service.Checkout(r.Context(), reconcile.CheckoutRequest{
		Driver:   input.Driver,
		Amount:   *input.Amount,
		Currency: input.Currency,
		Customer: input.Customer,
		Metadata: input.Metadata,
	})
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	headers := http.Header{"Location": []string{"/payments/" + txn.ID}}

	err = jsonutil.WriteJSON(w, http.StatusCreated, paymentResponse{Transaction: txn, Intent: intent}, headers)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// GetPayment returns the stored transaction with its refunds. With ?sync=true
// the driver is asked for the current status first.
func (app *Application) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		_, err := app.service.Sync(r.Context(), id)
		if err != nil {
			app.handleError(w, r, err)
			return
		}
	}

	txn, refunds, err := app.service.Transaction(r.Context(), id)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	err = jsonutil.WriteJSON(w, http.StatusOK, paymentResponse{Transaction: txn, Refunds: refunds}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CreateRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	var input refundRequest

	err := jsonutil.ReadJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	refund, txn, err := app.service.Refund(r.Context(), id, input.Amount, input.Reason)
	if err != nil {
		if refund != nil {
			// Issued at the provider but not recorded; the refund webhook
			// brings the ledger up to date.
			app.logError(r, err)
			app.writeRefund(w, r, http.StatusAccepted, refundResponse{Refund: refund})
			return
		}
		app.handleError(w, r, err)
		return
	}

	app.writeRefund(w, r, http.StatusCreated, refundResponse{Refund: refund, Transaction: txn})
}

// CapturePayment completes a pending payment with the driver that created it.
func (app *Application) CapturePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	var input captureRequest

	if r.ContentLength != 0 {
		err := jsonutil.ReadJSON(w, r, &input)
		if err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
	}

	err := app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	txn, err := app.service.Capture(r.Context(), id, input.ReturnURL)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	err = jsonutil.WriteJSON(w, http.StatusOK, paymentResponse{Transaction: txn}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	txn, err := app.service.Cancel(r.Context(), id)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	err = jsonutil.WriteJSON(w, http.StatusOK, paymentResponse{Transaction: txn}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	var input confirmTransferRequest

	err := jsonutil.ReadJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	txn, err := app.service.ConfirmTransfer(r.Context(), id, input.Reference, input.ReceivedAmount)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	err = jsonutil.WriteJSON(w, http.StatusOK, paymentResponse{Transaction: txn}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := app.transactionID(w, r)
	if !ok {
		return
	}

	var input confirmDeliveryRequest

	err := jsonutil.ReadJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	txn, err := app.service.ConfirmDelivery(r.Context(), id, input.CollectedAmount)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	err = jsonutil.WriteJSON(w, http.StatusOK, paymentResponse{Transaction: txn}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) writeRefund(w http.ResponseWriter, r *http.Request, status int, resp refundResponse) {
	err := jsonutil.WriteJSON(w, status, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) transactionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")

	if err := uuid.Validate(id); err != nil {
		app.notFoundResponseWithErr(w, r, errTransactionIDInvalid)
		return "", false
	}

	return id, true
}
