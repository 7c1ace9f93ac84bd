package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/metinatakli/paygate/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// PayPalGateway is the redirect / wallet driver on the Orders v2 API. A payment
// is an order: CreatePaymentIntent creates it and returns the approval URL,
// Charge captures it after the buyer approved.
type PayPalGateway struct {
	cfg     PayPalConfig
	baseURL string
	client  *http.Client
	support *Support
}

var (
	_ domain.Gateway          = (*PayPalGateway)(nil)
	_ domain.SupportsRefunds  = (*PayPalGateway)(nil)
	_ domain.SupportsWebhooks = (*PayPalGateway)(nil)
)

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type paypalStatusDetails struct {
	Reason string `json:"reason"`
}

type paypalCapture struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Amount        *paypalMoney         `json:"amount"`
	StatusDetails *paypalStatusDetails `json:"status_details"`
}

type paypalRefund struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Amount        *paypalMoney         `json:"amount"`
	NoteToPayer   string               `json:"note_to_payer"`
	CreateTime    string               `json:"create_time"`
	StatusDetails *paypalStatusDetails `json:"status_details"`
	Links         []paypalLink         `json:"links"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      *paypalMoney `json:"amount,omitempty"`
	Payments    *struct {
		Captures []paypalCapture `json:"captures"`
		Refunds  []paypalRefund  `json:"refunds"`
	} `json:"payments,omitempty"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []paypalLink         `json:"links"`
	Payer         *struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func NewPayPalGateway(cfg PayPalConfig, opts ...Option) (*PayPalGateway, error) {
	if err := validateConfig(DriverPayPal, cfg); err != nil {
		return nil, err
	}

	o := newOptions(opts)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = payPalSandboxURL
		if cfg.Mode == "live" {
			baseURL = payPalLiveURL
		}
	}

	credentials := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// Token requests and API calls share the injected client's transport; the
	// token is cached until it expires.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, o.HTTPClient)
	client := credentials.Client(tokenCtx)
	client.Timeout = o.HTTPClient.Timeout

	return &PayPalGateway{
		cfg:     cfg,
		baseURL: baseURL,
		client:  client,
		support: NewSupport(DriverPayPal, currenciesOrDefault(cfg.Currencies, defaultPayPalCurrencies), o),
	}, nil
}

func (g *PayPalGateway) Name() string {
	return DriverPayPal
}

func (g *PayPalGateway) DisplayName() string {
	return "PayPal"
}

func (g *PayPalGateway) IsAvailable() bool {
	return g.cfg.ClientID != "" && g.cfg.ClientSecret != ""
}

func (g *PayPalGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

func (g *PayPalGateway) CreatePaymentIntent(
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

	experience := map[string]any{"user_action": "PAY_NOW"}
	if g.cfg.ReturnURL != "" {
		experience["return_url"] = g.cfg.ReturnURL
	}
	if g.cfg.CancelURL != "" {
		experience["cancel_url"] = g.cfg.CancelURL
	}
	if g.cfg.BrandName != "" {
		experience["brand_name"] = g.cfg.BrandName
	}

	paypalSource := map[string]any{"experience_context": experience}
	if customer != nil && customer.Email != "" {
		paypalSource["email_address"] = customer.Email
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []paypalPurchaseUnit{{
			CustomID:    metadata["order_id"],
			Description: metadata["description"],
			Amount:      &paypalMoney{CurrencyCode: cur, Value: domain.FormatAmount(amount, cur)},
		}},
		"payment_source": map[string]any{"paypal": paypalSource},
	}

	var order paypalOrder
	var raw json.RawMessage
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", nil, body, &raw); err != nil {
		return nil, g.support.Fail(ctx, "create_payment_intent", err, map[string]any{"amount": amount, "currency": cur})
	}
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, g.support.Fail(ctx, "create_payment_intent", err, nil)
	}

	intent := &domain.PaymentIntent{
		ID:           order.ID,
		ClientSecret: approvalURL(order.Links),
		Status:       mapPayPalOrderStatus(order.Status),
		Amount:       amount,
		Currency:     cur,
		Driver:       DriverPayPal,
		Metadata:     domain.CloneMetadata(metadata),
		Raw:          raw,
	}
	if customer != nil {
		intent.CustomerID = customer.ID
	}

	return intent, nil
}

// CapturesExisting reports that Charge captures an approved order.
func (g *PayPalGateway) CapturesExisting() bool {
	return true
}

// Charge captures the approved order named by paymentMethod.
func (g *PayPalGateway) Charge(
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

	header := http.Header{}
	header.Set("Prefer", "return=representation")
	if opts.IdempotencyKey != "" {
		header.Set("PayPal-Request-Id", opts.IdempotencyKey)
	}

	var raw json.RawMessage
	err = g.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(paymentMethod)+"/capture", header, struct{}{}, &raw)
	if err != nil {
		if result, ok := payPalCaptureFailure(err, paymentMethod, amount, cur); ok {
			return result, nil
		}
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}

		return nil, g.support.Fail(ctx, "charge", err, map[string]any{"order_id": paymentMethod, "amount": amount})
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, g.support.Fail(ctx, "charge", err, nil)
	}

	result := payPalOrderResult(order, raw)
	if result.Amount == 0 {
		result.Amount = amount
		result.Currency = cur
	}
	result.Metadata = domain.CloneMetadata(opts.Metadata)

	return result, nil
}

func (g *PayPalGateway) GetPayment(ctx context.Context, transactionID string) (_ *domain.PaymentResult, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_payment")
	defer func() { done(err) }()

	order, raw, err := g.getOrder(ctx, transactionID)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "get_payment", err, map[string]any{"order_id": transactionID})
	}

	return payPalOrderResult(*order, raw), nil
}

// Cancel is advisory. PayPal has no cancel call for orders; unapproved orders
// lapse on their own, so this always reports false.
func (g *PayPalGateway) Cancel(ctx context.Context, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, domain.ErrMissingIdentifier
	}

	g.support.Logger().InfoContext(ctx, "paypal orders cannot be canceled, leaving order to expire", "order_id", transactionID)

	return false, nil
}

func (g *PayPalGateway) Refund(ctx context.Context, transactionID, reason string) (*domain.Refund, error) {
	return g.refund(ctx, transactionID, 0, reason)
}

func (g *PayPalGateway) PartialRefund(ctx context.Context, transactionID string, amount int64, reason string) (*domain.Refund, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	return g.refund(ctx, transactionID, amount, reason)
}

func (g *PayPalGateway) refund(ctx context.Context, transactionID string, amount int64, reason string) (_ *domain.Refund, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "refund")
	defer func() { done(err) }()

	order, _, err := g.getOrder(ctx, transactionID)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "refund", err, map[string]any{"order_id": transactionID})
	}

	capture := completedCapture(*order)
	if capture == nil {
		return nil, fmt.Errorf("%w: order %s has no completed capture", domain.ErrNothingToRefund, transactionID)
	}

	body := map[string]any{}
	if reason != "" {
		body["note_to_payer"] = reason
	}
	if amount > 0 {
		cur := capture.Amount.CurrencyCode
		body["amount"] = paypalMoney{CurrencyCode: cur, Value: domain.FormatAmount(amount, cur)}
	}

	header := http.Header{}
	header.Set("Prefer", "return=representation")

	var r paypalRefund
	if err := g.call(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(capture.ID)+"/refund", header, body, &r); err != nil {
		return nil, g.support.Fail(ctx, "refund", err, map[string]any{"order_id": transactionID, "capture_id": capture.ID})
	}

	refund := g.toRefund(ctx, r)
	refund.TransactionID = transactionID
	if refund.Reason == "" {
		refund.Reason = reason
	}
	if refund.Amount == 0 && amount > 0 {
		refund.Amount = amount
		refund.Currency = capture.Amount.CurrencyCode
	}

	return refund, nil
}

// GetRefund looks a refund up by id. PayPal refunds only link to their
// capture, so TransactionID carries the capture id here.
func (g *PayPalGateway) GetRefund(ctx context.Context, refundID string) (_ *domain.Refund, err error) {
	if refundID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_refund")
	defer func() { done(err) }()

	var r paypalRefund
	if err := g.call(ctx, http.MethodGet, "/v2/payments/refunds/"+url.PathEscape(refundID), nil, nil, &r); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, g.support.Fail(ctx, "get_refund", err, map[string]any{"refund_id": refundID})
	}

	refund := g.toRefund(ctx, r)
	for _, link := range r.Links {
		if link.Rel == "up" {
			refund.TransactionID = path.Base(link.Href)
		}
	}

	return refund, nil
}

func (g *PayPalGateway) RefundsForTransaction(ctx context.Context, transactionID string) (_ []domain.Refund, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "list_refunds")
	defer func() { done(err) }()

	order, _, err := g.getOrder(ctx, transactionID)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "list_refunds", err, map[string]any{"order_id": transactionID})
	}

	var refunds []domain.Refund
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, r := range unit.Payments.Refunds {
			refund := g.toRefund(ctx, r)
			refund.TransactionID = transactionID
			refunds = append(refunds, *refund)
		}
	}

	return refunds, nil
}

func (g *PayPalGateway) getOrder(ctx context.Context, orderID string) (*paypalOrder, json.RawMessage, error) {
	var raw json.RawMessage
	if err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, nil, &raw); err != nil {
		return nil, nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, nil, fmt.Errorf("decode order: %w", err)
	}

	return &order, raw, nil
}

func (g *PayPalGateway) call(ctx context.Context, method, endpoint string, header http.Header, in, out any) error {
	return doJSON(ctx, g.client, method, g.baseURL+endpoint, header, in, out)
}

func (g *PayPalGateway) toRefund(ctx context.Context, r paypalRefund) *domain.Refund {
	status, ok := payPalRefundStatuses.Resolve(r.Status)
	if !ok {
		g.support.Logger().WarnContext(ctx, "unknown refund status, treating as pending", "refund_id", r.ID, "status", r.Status)
		status = domain.RefundStatusPending
	}

	refund := &domain.Refund{
		ID:        r.ID,
		Status:    status,
		Reason:    r.NoteToPayer,
		CreatedAt: parseTime(r.CreateTime),
	}
	if r.Amount != nil {
		refund.Currency = domain.NormalizeCurrency(r.Amount.CurrencyCode)
		if amount, err := domain.ParseAmount(r.Amount.Value, r.Amount.CurrencyCode); err == nil {
			refund.Amount = amount
		}
	}
	if r.StatusDetails != nil {
		refund.FailureReason = r.StatusDetails.Reason
	}

	return refund
}

var payPalRefundStatuses = domain.RefundStatusMap{
	"completed": domain.RefundStatusSucceeded,
	"pending":   domain.RefundStatusPending,
	"failed":    domain.RefundStatusFailed,
	"cancelled": domain.RefundStatusCanceled,
}

func mapPayPalOrderStatus(status string) domain.PaymentStatus {
	switch strings.ToUpper(status) {
	case "CREATED", "SAVED":
		return domain.PaymentStatusPending
	case "APPROVED":
		return domain.PaymentStatusRequiresCapture
	case "PAYER_ACTION_REQUIRED":
		return domain.PaymentStatusRequiresAction
	case "COMPLETED":
		return domain.PaymentStatusSucceeded
	case "VOIDED":
		return domain.PaymentStatusCanceled
	default:
		return domain.PaymentStatusFailed
	}
}

func mapPayPalCaptureStatus(status string) domain.PaymentStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED", "PARTIALLY_REFUNDED":
		return domain.PaymentStatusSucceeded
	case "PENDING":
		return domain.PaymentStatusProcessing
	case "REFUNDED":
		return domain.PaymentStatusRefunded
	default:
		return domain.PaymentStatusFailed
	}
}

func payPalOrderResult(order paypalOrder, raw json.RawMessage) *domain.PaymentResult {
	result := &domain.PaymentResult{
		TransactionID: order.ID,
		Status:        mapPayPalOrderStatus(order.Status),
		Driver:        DriverPayPal,
		Raw:           raw,
	}

	if order.Payer != nil {
		result.CustomerID = order.Payer.PayerID
	}

	var money *paypalMoney
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		money = unit.Amount

		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[len(unit.Payments.Captures)-1]
			result.Status = mapPayPalCaptureStatus(capture.Status)
			result.PaymentMethodID = capture.ID
			if capture.Amount != nil {
				money = capture.Amount
			}
			if result.Status.IsFailed() {
				result.FailureCode = strings.ToLower(capture.Status)
				if capture.StatusDetails != nil {
					result.FailureMessage = capture.StatusDetails.Reason
				}
			}
		}
	}

	if money != nil {
		result.Currency = domain.NormalizeCurrency(money.CurrencyCode)
		if amount, err := domain.ParseAmount(money.Value, money.CurrencyCode); err == nil {
			result.Amount = amount
		}
	}

	return result
}

// payPalCaptureFailure turns a 422 capture rejection into a result. Declined
// instruments fail; orders that still need the buyer require action.
func payPalCaptureFailure(err error, orderID string, amount int64, currency string) (*domain.PaymentResult, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		return nil, false
	}

	var body paypalErrorBody
	if json.Unmarshal(apiErr.Body, &body) != nil || len(body.Details) == 0 {
		return nil, false
	}

	issue := body.Details[0].Issue
	result := &domain.PaymentResult{
		TransactionID: orderID,
		Amount:        amount,
		Currency:      currency,
		Driver:        DriverPayPal,
		Raw:           json.RawMessage(apiErr.Body),
	}

	switch issue {
	case "PAYER_ACTION_REQUIRED", "ORDER_NOT_APPROVED":
		result.Status = domain.PaymentStatusRequiresAction
	default:
		result.Status = domain.PaymentStatusFailed
		result.FailureCode = strings.ToLower(issue)
		result.FailureMessage = body.Details[0].Description
		if result.FailureMessage == "" {
			result.FailureMessage = body.Message
		}
	}

	return result, true
}

func completedCapture(order paypalOrder) *paypalCapture {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for i := range unit.Payments.Captures {
			capture := unit.Payments.Captures[i]
			if capture.Amount == nil {
				continue
			}
			switch strings.ToUpper(capture.Status) {
			case "COMPLETED", "PARTIALLY_REFUNDED":
				return &capture
			}
		}
	}

	return nil
}

func approvalURL(links []paypalLink) string {
	for _, link := range links {
		if link.Rel == "payer-action" || link.Rel == "approve" {
			return link.Href
		}
	}

	return ""
}
