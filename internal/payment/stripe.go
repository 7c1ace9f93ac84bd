package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeGateway is the card / 3-D Secure driver. It implements every optional
// capability.
type StripeGateway struct {
	cfg     StripeConfig
	api     *client.API
	support *Support
}

var (
	_ domain.Gateway               = (*StripeGateway)(nil)
	_ domain.SupportsRefunds       = (*StripeGateway)(nil)
	_ domain.SupportsCustomers     = (*StripeGateway)(nil)
	_ domain.SupportsSubscriptions = (*StripeGateway)(nil)
	_ domain.SupportsWebhooks      = (*StripeGateway)(nil)
)

func NewStripeGateway(cfg StripeConfig, opts ...Option) (*StripeGateway, error) {
	if err := validateConfig(DriverStripe, cfg); err != nil {
		return nil, err
	}

	o := newOptions(opts)

	if cfg.WebhookTolerance == 0 {
		cfg.WebhookTolerance = defaultStripeWebhookTolerance
	}

	backendURL := cfg.BaseURL
	if backendURL == "" {
		backendURL = stripe.APIURL
	}

	// Retries stay with the caller, who owns the idempotency key.
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(backendURL),
		HTTPClient:        o.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	return &StripeGateway{
		cfg:     cfg,
		api:     client.New(cfg.SecretKey, backends),
		support: NewSupport(DriverStripe, currenciesOrDefault(cfg.Currencies, defaultStripeCurrencies), o),
	}, nil
}

func (g *StripeGateway) Name() string {
	return DriverStripe
}

func (g *StripeGateway) DisplayName() string {
	return "Stripe"
}

func (g *StripeGateway) IsAvailable() bool {
	return g.cfg.SecretKey != ""
}

func (g *StripeGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

func (g *StripeGateway) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (_ *domain.PaymentIntent, err error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	ctx, done := g.support.Start(ctx, "create_payment_intent")
	defer func() { done(err) }()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(cur)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if customer != nil && customer.ID != "" {
		params.Customer = stripe.String(customer.ID)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_payment_intent", err, map[string]any{
			"amount":   amount,
			"currency": cur,
		})
	}

	intent := &domain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       mapStripePaymentStatus(string(pi.Status)),
		Amount:       pi.Amount,
		Currency:     domain.NormalizeCurrency(string(pi.Currency)),
		Driver:       DriverStripe,
		Metadata:     domain.CloneMetadata(pi.Metadata),
		Raw:          rawJSON(pi),
	}
	if pi.Customer != nil {
		intent.CustomerID = pi.Customer.ID
	}

	return intent, nil
}

// CapturesExisting reports that Charge confirms an existing intent when given
// its pi_ id.
func (g *StripeGateway) CapturesExisting() bool {
	return true
}

// Charge confirms an existing PaymentIntent when paymentMethod names one
// ("pi_..."), otherwise it creates and confirms a new intent for the given
// payment method. Card declines are returned as a failed result.
func (g *StripeGateway) Charge(
	ctx context.Context,
	amount int64,
	currency, paymentMethod string,
	opts domain.ChargeOptions) (_ *domain.PaymentResult, err error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	if paymentMethod == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "charge")
	defer func() { done(err) }()

	var pi *stripe.PaymentIntent
	if strings.HasPrefix(paymentMethod, "pi_") {
		params := &stripe.PaymentIntentConfirmParams{}
		params.Context = ctx
		if opts.ReturnURL != "" {
			params.ReturnURL = stripe.String(opts.ReturnURL)
		}
		if opts.IdempotencyKey != "" {
			params.SetIdempotencyKey(opts.IdempotencyKey)
		}

		pi, err = g.api.PaymentIntents.Confirm(paymentMethod, params)
	} else {
		params := &stripe.PaymentIntentParams{
			Amount:        stripe.Int64(amount),
			Currency:      stripe.String(strings.ToLower(cur)),
			PaymentMethod: stripe.String(paymentMethod),
			Confirm:       stripe.Bool(true),
		}
		params.Context = ctx
		if opts.CustomerID != "" {
			params.Customer = stripe.String(opts.CustomerID)
		}
		if opts.Description != "" {
			params.Description = stripe.String(opts.Description)
		}
		if opts.ReturnURL != "" {
			params.ReturnURL = stripe.String(opts.ReturnURL)
		}
		if opts.ManualCapture {
			params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		}
		if opts.IdempotencyKey != "" {
			params.SetIdempotencyKey(opts.IdempotencyKey)
		}
		for k, v := range opts.Metadata {
			params.AddMetadata(k, v)
		}

		pi, err = g.api.PaymentIntents.New(params)
	}

	if err != nil {
		if result, ok := stripeDeclineResult(err, amount, cur); ok {
			g.support.Logger().InfoContext(ctx, "card declined",
				"transaction_id", result.TransactionID,
				"failure_code", result.FailureCode,
			)
			return result, nil
		}

		return nil, g.support.Fail(ctx, "charge", err, map[string]any{
			"amount":         amount,
			"currency":       cur,
			"payment_method": paymentMethod,
		})
	}

	return stripePaymentResult(pi), nil
}

func (g *StripeGateway) GetPayment(ctx context.Context, transactionID string) (_ *domain.PaymentResult, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_payment")
	defer func() { done(err) }()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(transactionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "get_payment", err, map[string]any{"transaction_id": transactionID})
	}

	return stripePaymentResult(pi), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, transactionID string) (_ bool, err error) {
	if transactionID == "" {
		return false, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "cancel")
	defer func() { done(err) }()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(transactionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return false, domain.ErrPaymentNotFound
		}

		// Intents that already succeeded or were canceled cannot be canceled.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return false, nil
		}

		return false, g.support.Fail(ctx, "cancel", err, map[string]any{"transaction_id": transactionID})
	}

	return pi.Status == stripe.PaymentIntentStatusCanceled, nil
}

func mapStripePaymentStatus(status string) domain.PaymentStatus {
	switch status {
	case "succeeded":
		return domain.PaymentStatusSucceeded
	case "processing":
		return domain.PaymentStatusProcessing
	case "requires_action", "requires_confirmation":
		return domain.PaymentStatusRequiresAction
	case "requires_capture":
		return domain.PaymentStatusRequiresCapture
	case "requires_payment_method":
		return domain.PaymentStatusPending
	case "canceled":
		return domain.PaymentStatusCanceled
	default:
		return domain.PaymentStatusFailed
	}
}

var stripeRefundStatuses = domain.RefundStatusMap{
	"succeeded":       domain.RefundStatusSucceeded,
	"pending":         domain.RefundStatusPending,
	"requires_action": domain.RefundStatusRequiresAction,
	"failed":          domain.RefundStatusFailed,
	"canceled":        domain.RefundStatusCanceled,
}

func stripePaymentResult(pi *stripe.PaymentIntent) *domain.PaymentResult {
	result := &domain.PaymentResult{
		TransactionID: pi.ID,
		Status:        mapStripePaymentStatus(string(pi.Status)),
		Amount:        pi.Amount,
		Currency:      domain.NormalizeCurrency(string(pi.Currency)),
		Driver:        DriverStripe,
		Metadata:      domain.CloneMetadata(pi.Metadata),
		Raw:           rawJSON(pi),
	}

	if pi.PaymentMethod != nil {
		result.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Customer != nil {
		result.CustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		result.ReceiptURL = pi.LatestCharge.ReceiptURL
	}

	if result.Status.IsFailed() && pi.LastPaymentError != nil {
		result.FailureCode = stripeFailureCode(pi.LastPaymentError)
		result.FailureMessage = pi.LastPaymentError.Msg
	}

	return result
}

// stripeDeclineResult converts a card error into a failed PaymentResult.
func stripeDeclineResult(err error, amount int64, currency string) (*domain.PaymentResult, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Type != stripe.ErrorTypeCard {
		return nil, false
	}

	result := &domain.PaymentResult{
		Status:         domain.PaymentStatusFailed,
		Amount:         amount,
		Currency:       currency,
		Driver:         DriverStripe,
		FailureCode:    stripeFailureCode(stripeErr),
		FailureMessage: stripeErr.Msg,
	}

	if stripeErr.LastResponse != nil {
		result.Raw = json.RawMessage(stripeErr.LastResponse.RawJSON)
	}
	if stripeErr.PaymentIntent != nil {
		result.TransactionID = stripeErr.PaymentIntent.ID
	}
	if stripeErr.PaymentMethod != nil {
		result.PaymentMethodID = stripeErr.PaymentMethod.ID
	}

	return result, true
}

func stripeFailureCode(stripeErr *stripe.Error) string {
	if stripeErr.DeclineCode != "" {
		return string(stripeErr.DeclineCode)
	}
	if stripeErr.Code != "" {
		return string(stripeErr.Code)
	}

	return string(stripeErr.Type)
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}

	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func stripeTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}

	t := time.Unix(ts, 0).UTC()
	return &t
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return data
}
