package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
)

const (
	coinbaseAPIVersion      = "2018-03-22"
	coinbaseSignatureHeader = "X-CC-Webhook-Signature"

	// Coinbase keeps fixed-price charges payable for one hour.
	coinbaseChargeLifetime = time.Hour
)

// CoinbaseGateway drives Coinbase Commerce hosted charges. Buyers pay on the
// hosted page; settlement arrives through webhooks or GetPayment. Coinbase
// offers no refund API, so the driver has no refund capability.
type CoinbaseGateway struct {
	cfg     CoinbaseConfig
	baseURL string
	client  *http.Client
	support *Support
}

var (
	_ domain.Gateway          = (*CoinbaseGateway)(nil)
	_ domain.SupportsWebhooks = (*CoinbaseGateway)(nil)
)

type coinbaseTimelineEntry struct {
	Time    string `json:"time"`
	Status  string `json:"status"`
	Context string `json:"context,omitempty"`
}

type coinbaseCharge struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	Pricing   struct {
		Local *struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"local"`
	} `json:"pricing"`
	Timeline []coinbaseTimelineEntry `json:"timeline"`
	Metadata map[string]string       `json:"metadata"`
}

type coinbaseEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func NewCoinbaseGateway(cfg CoinbaseConfig, opts ...Option) (*CoinbaseGateway, error) {
	if err := validateConfig(DriverCoinbase, cfg); err != nil {
		return nil, err
	}

	o := newOptions(opts)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = coinbaseURL
	}

	return &CoinbaseGateway{
		cfg:     cfg,
		baseURL: baseURL,
		client:  o.HTTPClient,
		support: NewSupport(DriverCoinbase, currenciesOrDefault(cfg.Currencies, defaultCoinbaseCurrencies), o),
	}, nil
}

func (g *CoinbaseGateway) Name() string {
	return DriverCoinbase
}

func (g *CoinbaseGateway) DisplayName() string {
	return "Coinbase Commerce"
}

func (g *CoinbaseGateway) IsAvailable() bool {
	return g.cfg.APIKey != ""
}

func (g *CoinbaseGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

// CreatePaymentIntent creates a hosted charge. The hosted checkout URL is the
// continuation token and the charge code is the transaction id.
func (g *CoinbaseGateway) CreatePaymentIntent(
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

	charge, raw, err := g.createCharge(ctx, amount, cur, customer, metadata)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_payment_intent", err, map[string]any{"amount": amount, "currency": cur})
	}

	intent := &domain.PaymentIntent{
		ID:           charge.Code,
		ClientSecret: charge.HostedURL,
		Status:       mapCoinbaseStatus(charge.Timeline),
		Amount:       amount,
		Currency:     cur,
		Driver:       DriverCoinbase,
		Metadata:     domain.CloneMetadata(metadata),
		Raw:          raw,
	}
	if customer != nil {
		intent.CustomerID = customer.ID
	}

	expires := parseTime(charge.ExpiresAt)
	if expires.IsZero() {
		expires = g.support.Now().Add(coinbaseChargeLifetime).UTC()
	}
	intent.ExpiresAt = &expires

	return intent, nil
}

// CapturesExisting reports that Charge reads back an existing charge.
func (g *CoinbaseGateway) CapturesExisting() bool {
	return true
}

// Charge reports the state of the charge named by paymentMethod. Crypto
// payments are pushed by the buyer, so there is nothing to capture; with an
// empty paymentMethod a new charge is created instead.
func (g *CoinbaseGateway) Charge(
	ctx context.Context,
	amount int64,
	currency, paymentMethod string,
	opts domain.ChargeOptions) (_ *domain.PaymentResult, err error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	ctx, done := g.support.Start(ctx, "charge")
	defer func() { done(err) }()

	var charge *coinbaseCharge
	var raw json.RawMessage
	if paymentMethod == "" {
		metadata := domain.CloneMetadata(opts.Metadata)
		if opts.CustomerID != "" {
			metadata["customer_id"] = opts.CustomerID
		}
		charge, raw, err = g.createCharge(ctx, amount, cur, nil, metadata)
	} else {
		charge, raw, err = g.getCharge(ctx, paymentMethod)
	}

	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "charge", err, map[string]any{"charge_code": paymentMethod, "amount": amount})
	}

	result := coinbaseResult(charge, raw)
	if result.Amount == 0 {
		result.Amount = amount
		result.Currency = cur
	}
	result.CustomerID = opts.CustomerID

	return result, nil
}

func (g *CoinbaseGateway) GetPayment(ctx context.Context, transactionID string) (_ *domain.PaymentResult, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_payment")
	defer func() { done(err) }()

	charge, raw, err := g.getCharge(ctx, transactionID)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "get_payment", err, map[string]any{"charge_code": transactionID})
	}

	return coinbaseResult(charge, raw), nil
}

// Cancel cancels a charge that has not received a payment yet. Coinbase
// rejects cancellation once a payment was detected; that is reported as false.
func (g *CoinbaseGateway) Cancel(ctx context.Context, transactionID string) (_ bool, err error) {
	if transactionID == "" {
		return false, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "cancel")
	defer func() { done(err) }()

	var envelope coinbaseEnvelope
	err = g.call(ctx, http.MethodPost, "/charges/"+url.PathEscape(transactionID)+"/cancel", nil, &envelope)
	if err != nil {
		var apiErr *APIError
		if isClientError(err, &apiErr) && apiErr.StatusCode != http.StatusUnauthorized {
			g.support.Logger().InfoContext(ctx, "coinbase refused to cancel charge",
				"charge_code", transactionID,
				"status", apiErr.StatusCode,
			)
			return false, nil
		}
		return false, g.support.Fail(ctx, "cancel", err, map[string]any{"charge_code": transactionID})
	}

	return true, nil
}

func (g *CoinbaseGateway) createCharge(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (*coinbaseCharge, json.RawMessage, error) {

	name := metadata["description"]
	if name == "" {
		name = "Order payment"
	}

	chargeMetadata := domain.CloneMetadata(metadata)
	if customer != nil {
		if customer.ID != "" {
			chargeMetadata["customer_id"] = customer.ID
		}
		if customer.Name != "" {
			chargeMetadata["customer_name"] = customer.Name
		}
	}

	body := map[string]any{
		"name":         name,
		"description":  name,
		"pricing_type": "fixed_price",
		"local_price": map[string]string{
			"amount":   domain.FormatAmount(amount, currency),
			"currency": currency,
		},
		"metadata": chargeMetadata,
	}
	if g.cfg.RedirectURL != "" {
		body["redirect_url"] = g.cfg.RedirectURL
	}
	if g.cfg.CancelURL != "" {
		body["cancel_url"] = g.cfg.CancelURL
	}

	var envelope coinbaseEnvelope
	if err := g.call(ctx, http.MethodPost, "/charges", body, &envelope); err != nil {
		return nil, nil, err
	}

	return decodeCoinbaseCharge(envelope.Data)
}

func (g *CoinbaseGateway) getCharge(ctx context.Context, code string) (*coinbaseCharge, json.RawMessage, error) {
	var envelope coinbaseEnvelope
	if err := g.call(ctx, http.MethodGet, "/charges/"+url.PathEscape(code), nil, &envelope); err != nil {
		return nil, nil, err
	}

	return decodeCoinbaseCharge(envelope.Data)
}

func (g *CoinbaseGateway) call(ctx context.Context, method, endpoint string, in, out any) error {
	header := http.Header{}
	header.Set("X-CC-Api-Key", g.cfg.APIKey)
	header.Set("X-CC-Version", coinbaseAPIVersion)

	return doJSON(ctx, g.client, method, g.baseURL+endpoint, header, in, out)
}

func (g *CoinbaseGateway) WebhookSecret() string {
	return g.cfg.WebhookSecret
}

func (g *CoinbaseGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	if verifyHexHMAC(payload, headers.Get(coinbaseSignatureHeader), g.cfg.WebhookSecret) {
		return true
	}

	g.support.Logger().WarnContext(ctx, "coinbase webhook signature rejected")
	return false
}

func (g *CoinbaseGateway) ParseWebhook(payload []byte, _ http.Header) (*domain.WebhookPayload, error) {
	var body struct {
		Event *struct {
			ID        string          `json:"id"`
			Type      string          `json:"type"`
			CreatedAt string          `json:"created_at"`
			Data      json.RawMessage `json:"data"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: malformed coinbase event: %v", domain.ErrValidation, err)
	}

	if body.Event == nil || body.Event.ID == "" || len(body.Event.Data) == 0 {
		return nil, fmt.Errorf("%w: coinbase event without id or data", domain.ErrValidation)
	}

	var data map[string]any
	if err := json.Unmarshal(body.Event.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed coinbase charge: %v", domain.ErrValidation, err)
	}

	out := &domain.WebhookPayload{
		ID:        body.Event.ID,
		Type:      body.Event.Type,
		Driver:    DriverCoinbase,
		Kind:      domain.EventKindOther,
		Data:      data,
		CreatedAt: parseTime(body.Event.CreatedAt),
		Raw:       json.RawMessage(payload),
	}

	if !strings.HasPrefix(body.Event.Type, "charge:") {
		return out, nil
	}

	charge, _, err := decodeCoinbaseCharge(body.Event.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	status := mapCoinbaseStatus(charge.Timeline)
	if len(charge.Timeline) == 0 {
		status = coinbaseEventStatus(body.Event.Type)
	}

	out.Kind = domain.EventKindPayment
	out.Payment = &domain.PaymentEvent{
		TransactionID: charge.Code,
		Status:        status,
	}
	if charge.Pricing.Local != nil {
		out.Payment.Currency = domain.NormalizeCurrency(charge.Pricing.Local.Currency)
		if amount, err := domain.ParseAmount(charge.Pricing.Local.Amount, charge.Pricing.Local.Currency); err == nil {
			out.Payment.Amount = amount
		}
	}

	return out, nil
}

func decodeCoinbaseCharge(data json.RawMessage) (*coinbaseCharge, json.RawMessage, error) {
	var charge coinbaseCharge
	if err := json.Unmarshal(data, &charge); err != nil {
		return nil, nil, fmt.Errorf("decode charge: %w", err)
	}

	if charge.Code == "" {
		charge.Code = charge.ID
	}

	return &charge, data, nil
}

func coinbaseResult(charge *coinbaseCharge, raw json.RawMessage) *domain.PaymentResult {
	result := &domain.PaymentResult{
		TransactionID: charge.Code,
		Status:        mapCoinbaseStatus(charge.Timeline),
		Driver:        DriverCoinbase,
		Metadata:      domain.CloneMetadata(charge.Metadata),
		Raw:           raw,
	}

	if charge.Pricing.Local != nil {
		result.Currency = domain.NormalizeCurrency(charge.Pricing.Local.Currency)
		if amount, err := domain.ParseAmount(charge.Pricing.Local.Amount, charge.Pricing.Local.Currency); err == nil {
			result.Amount = amount
		}
	}

	if result.Status.IsFailed() && len(charge.Timeline) > 0 {
		last := charge.Timeline[len(charge.Timeline)-1]
		result.FailureCode = strings.ToLower(last.Status)
		result.FailureMessage = strings.ToLower(last.Context)
	}

	return result
}

// mapCoinbaseStatus derives the status from the last timeline entry. An empty
// timeline is a charge that was just created.
func mapCoinbaseStatus(timeline []coinbaseTimelineEntry) domain.PaymentStatus {
	if len(timeline) == 0 {
		return domain.PaymentStatusPending
	}

	switch strings.ToUpper(timeline[len(timeline)-1].Status) {
	case "NEW":
		return domain.PaymentStatusPending
	case "PENDING":
		return domain.PaymentStatusProcessing
	case "COMPLETED", "RESOLVED":
		return domain.PaymentStatusSucceeded
	case "EXPIRED":
		return domain.PaymentStatusExpired
	case "CANCELED":
		return domain.PaymentStatusCanceled
	case "UNRESOLVED", "REFUND PENDING":
		return domain.PaymentStatusRequiresAction
	case "REFUNDED":
		return domain.PaymentStatusRefunded
	default:
		return domain.PaymentStatusFailed
	}
}

func coinbaseEventStatus(eventType string) domain.PaymentStatus {
	switch eventType {
	case "charge:created":
		return domain.PaymentStatusPending
	case "charge:pending":
		return domain.PaymentStatusProcessing
	case "charge:confirmed", "charge:resolved":
		return domain.PaymentStatusSucceeded
	case "charge:delayed":
		return domain.PaymentStatusRequiresAction
	default:
		return domain.PaymentStatusFailed
	}
}

func isClientError(err error, target **APIError) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	*target = apiErr
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
