package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/refund"
	"github.com/metinatakli/paygate/internal/domain"
)

const defaultMercadoPagoMethod = "pix"

// mercadoPagoPayments is the part of the SDK payment client the driver uses.
type mercadoPagoPayments interface {
	Create(ctx context.Context, request payment.Request) (*payment.Response, error)
	Get(ctx context.Context, id int) (*payment.Response, error)
	Cancel(ctx context.Context, id int) (*payment.Response, error)
}

// mercadoPagoRefunds is the part of the SDK refund client the driver uses.
type mercadoPagoRefunds interface {
	Create(ctx context.Context, paymentID int) (*refund.Response, error)
	CreatePartialRefund(ctx context.Context, paymentID int, amount float64) (*refund.Response, error)
	Get(ctx context.Context, paymentID, refundID int) (*refund.Response, error)
	List(ctx context.Context, paymentID int) ([]refund.Response, error)
}

// MercadoPagoGateway is the Latin American card and PIX driver built on the
// official SDK. Refund ids are "paymentID/refundID" because the provider
// only addresses refunds through their payment.
type MercadoPagoGateway struct {
	cfg      MercadoPagoConfig
	payments mercadoPagoPayments
	refunds  mercadoPagoRefunds
	support  *Support
}

var (
	_ domain.Gateway          = (*MercadoPagoGateway)(nil)
	_ domain.SupportsRefunds  = (*MercadoPagoGateway)(nil)
	_ domain.SupportsWebhooks = (*MercadoPagoGateway)(nil)
)

// mercadoPagoPayment is the subset of the payment resource the driver reads.
// SDK responses are re-read through JSON so provider fields the SDK struct
// does not model are still kept in Raw.
type mercadoPagoPayment struct {
	ID                        int64          `json:"id"`
	Status                    string         `json:"status"`
	StatusDetail              string         `json:"status_detail"`
	TransactionAmount         float64        `json:"transaction_amount"`
	TransactionAmountRefunded float64        `json:"transaction_amount_refunded"`
	CurrencyID                string         `json:"currency_id"`
	DateOfExpiration          string         `json:"date_of_expiration"`
	Metadata                  map[string]any `json:"metadata"`
	Payer                     struct {
		ID    any    `json:"id"`
		Email string `json:"email"`
	} `json:"payer"`
	PointOfInteraction struct {
		TransactionData struct {
			TicketURL string `json:"ticket_url"`
			QRCode    string `json:"qr_code"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

type mercadoPagoRefund struct {
	ID          int64   `json:"id"`
	PaymentID   int64   `json:"payment_id"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	DateCreated string  `json:"date_created"`
}

func NewMercadoPagoGateway(cfg MercadoPagoConfig, opts ...Option) (*MercadoPagoGateway, error) {
	if err := validateConfig(DriverMercadoPago, cfg); err != nil {
		return nil, err
	}

	o := newOptions(opts)

	var payments mercadoPagoPayments
	var refunds mercadoPagoRefunds
	if cfg.AccessToken != "" {
		sdkConfig, err := config.New(cfg.AccessToken, config.WithHTTPClient(o.HTTPClient))
		if err != nil {
			return nil, fmt.Errorf("mercadopago sdk config: %w", err)
		}
		payments = payment.NewClient(sdkConfig)
		refunds = refund.NewClient(sdkConfig)
	}

	return newMercadoPagoGateway(cfg, payments, refunds, o), nil
}

func newMercadoPagoGateway(cfg MercadoPagoConfig, payments mercadoPagoPayments, refunds mercadoPagoRefunds, o Options) *MercadoPagoGateway {
	if cfg.WebhookTolerance == 0 {
		cfg.WebhookTolerance = defaultMercadoPagoTolerance
	}

	return &MercadoPagoGateway{
		cfg:      cfg,
		payments: payments,
		refunds:  refunds,
		support:  NewSupport(DriverMercadoPago, currenciesOrDefault(cfg.Currencies, defaultMercadoPagoCurrencies), o),
	}
}

func (g *MercadoPagoGateway) Name() string {
	return DriverMercadoPago
}

func (g *MercadoPagoGateway) DisplayName() string {
	return "Mercado Pago"
}

func (g *MercadoPagoGateway) IsAvailable() bool {
	return g.cfg.AccessToken != "" && g.payments != nil
}

func (g *MercadoPagoGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

// CreatePaymentIntent creates an asynchronous payment (PIX by default, or the
// method in metadata["payment_method_id"]). The ticket URL or QR payload is
// the continuation token.
func (g *MercadoPagoGateway) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (_ *domain.PaymentIntent, err error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	if g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "create_payment_intent")
	defer func() { done(err) }()

	method := metadata["payment_method_id"]
	if method == "" {
		method = defaultMercadoPagoMethod
	}

	body := g.paymentBody(amount, cur, method, metadata)
	if customer != nil {
		body["payer"] = mercadoPagoPayer(customer.Email, customer.Name)
	}

	view, raw, err := g.create(ctx, body)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_payment_intent", err, map[string]any{"amount": amount, "currency": cur})
	}

	token := view.PointOfInteraction.TransactionData.TicketURL
	if token == "" {
		token = view.PointOfInteraction.TransactionData.QRCode
	}
	if token == "" {
		token = view.TransactionDetails.ExternalResourceURL
	}

	intent := &domain.PaymentIntent{
		ID:           strconv.FormatInt(view.ID, 10),
		ClientSecret: token,
		Status:       mapMercadoPagoStatus(view.Status),
		Amount:       amount,
		Currency:     cur,
		Driver:       DriverMercadoPago,
		Metadata:     domain.CloneMetadata(metadata),
		Raw:          raw,
	}
	if customer != nil {
		intent.CustomerID = customer.ID
	}
	if expires := parseTime(view.DateOfExpiration); !expires.IsZero() {
		intent.ExpiresAt = &expires
	}

	return intent, nil
}

// Charge creates a card payment from a card token produced by the
// provider's client-side SDK. The payer email is read from
// metadata["payer_email"].
func (g *MercadoPagoGateway) Charge(
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

	if g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "charge")
	defer func() { done(err) }()

	body := g.paymentBody(amount, cur, "", opts.Metadata)
	body["token"] = paymentMethod
	body["installments"] = 1
	body["capture"] = !opts.ManualCapture
	if opts.Description != "" {
		body["description"] = opts.Description
	}
	if email := opts.Metadata["payer_email"]; email != "" {
		body["payer"] = mercadoPagoPayer(email, "")
	}

	view, raw, err := g.create(ctx, body)
	if err != nil {
		return nil, g.support.Fail(ctx, "charge", err, map[string]any{"amount": amount, "currency": cur})
	}

	result := mercadoPagoResult(view, raw)
	result.CustomerID = opts.CustomerID
	result.Metadata = domain.CloneMetadata(opts.Metadata)

	return result, nil
}

func (g *MercadoPagoGateway) GetPayment(ctx context.Context, transactionID string) (_ *domain.PaymentResult, err error) {
	id, err := mercadoPagoID(transactionID)
	if err != nil {
		return nil, err
	}

	if g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "get_payment")
	defer func() { done(err) }()

	resp, err := g.payments.Get(ctx, id)
	if err != nil {
		if isMercadoPagoNotFound(err) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "get_payment", err, map[string]any{"payment_id": transactionID})
	}

	view, raw, err := readMercadoPagoPayment(resp)
	if err != nil {
		return nil, g.support.Fail(ctx, "get_payment", err, nil)
	}

	return mercadoPagoResult(view, raw), nil
}

// Cancel cancels a pending, in-process or authorized payment.
func (g *MercadoPagoGateway) Cancel(ctx context.Context, transactionID string) (_ bool, err error) {
	id, err := mercadoPagoID(transactionID)
	if err != nil {
		return false, err
	}

	if g.payments == nil {
		return false, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "cancel")
	defer func() { done(err) }()

	resp, err := g.payments.Cancel(ctx, id)
	if err != nil {
		if isMercadoPagoNotFound(err) {
			return false, domain.ErrPaymentNotFound
		}
		return false, g.support.Fail(ctx, "cancel", err, map[string]any{"payment_id": transactionID})
	}

	view, _, err := readMercadoPagoPayment(resp)
	if err != nil {
		return false, g.support.Fail(ctx, "cancel", err, nil)
	}

	return mapMercadoPagoStatus(view.Status) == domain.PaymentStatusCanceled, nil
}

func (g *MercadoPagoGateway) paymentBody(amount int64, currency, method string, metadata map[string]string) map[string]any {
	body := map[string]any{
		"transaction_amount": domain.AmountToFloat(amount, currency),
		"description":        metadata["description"],
		"external_reference": metadata["order_id"],
	}
	if method != "" {
		body["payment_method_id"] = method
	}
	if g.cfg.NotificationURL != "" {
		body["notification_url"] = g.cfg.NotificationURL
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	return body
}

// create bridges a JSON body into the SDK request type, the same way the
// provider documents its payloads.
func (g *MercadoPagoGateway) create(ctx context.Context, body map[string]any) (*mercadoPagoPayment, json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payment request: %w", err)
	}

	var req payment.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, nil, fmt.Errorf("build payment request: %w", err)
	}

	resp, err := g.payments.Create(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	return readMercadoPagoPayment(resp)
}

func readMercadoPagoPayment(resp *payment.Response) (*mercadoPagoPayment, json.RawMessage, error) {
	if resp == nil {
		return nil, nil, fmt.Errorf("empty payment response")
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payment response: %w", err)
	}

	var view mercadoPagoPayment
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, nil, fmt.Errorf("decode payment response: %w", err)
	}

	return &view, raw, nil
}

func mercadoPagoResult(view *mercadoPagoPayment, raw json.RawMessage) *domain.PaymentResult {
	currency := domain.NormalizeCurrency(view.CurrencyID)

	result := &domain.PaymentResult{
		TransactionID: strconv.FormatInt(view.ID, 10),
		Status:        mapMercadoPagoStatus(view.Status),
		Amount:        domain.AmountFromFloat(view.TransactionAmount, currency),
		Currency:      currency,
		Driver:        DriverMercadoPago,
		Raw:           raw,
	}

	if view.Payer.ID != nil {
		result.CustomerID = fmt.Sprint(view.Payer.ID)
	}
	if result.Status.IsFailed() {
		result.FailureCode = view.StatusDetail
		if result.FailureCode == "" {
			result.FailureCode = view.Status
		}
	}

	return result
}

func mercadoPagoPayer(email, name string) map[string]any {
	payer := map[string]any{"email": email}
	if first, last, ok := strings.Cut(strings.TrimSpace(name), " "); ok {
		payer["first_name"] = first
		payer["last_name"] = last
	} else if name != "" {
		payer["first_name"] = name
	}

	return payer
}

func mercadoPagoID(id string) (int, error) {
	if id == "" {
		return 0, domain.ErrMissingIdentifier
	}

	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: mercadopago ids are numeric, got %q", domain.ErrValidation, id)
	}

	return n, nil
}

// isMercadoPagoNotFound matches the provider's 404 body, which the SDK
// surfaces as the error message.
func isMercadoPagoNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not_found") || strings.Contains(msg, `"status":404`)
}

func mapMercadoPagoStatus(status string) domain.PaymentStatus {
	switch strings.ToLower(status) {
	case "approved":
		return domain.PaymentStatusSucceeded
	case "authorized":
		return domain.PaymentStatusRequiresCapture
	case "pending":
		return domain.PaymentStatusPending
	case "in_process", "in_mediation":
		return domain.PaymentStatusProcessing
	case "cancelled":
		return domain.PaymentStatusCanceled
	case "refunded", "charged_back":
		return domain.PaymentStatusRefunded
	default:
		return domain.PaymentStatusFailed
	}
}
