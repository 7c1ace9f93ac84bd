package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/refund"
	"github.com/metinatakli/paygate/internal/domain"
)

const (
	mercadoPagoSignatureHeader = "X-Signature"
	mercadoPagoRequestIDHeader = "X-Request-Id"
)

var mercadoPagoRefundStatuses = domain.RefundStatusMap{
	"approved":   domain.RefundStatusSucceeded,
	"in_process": domain.RefundStatusPending,
	"authorized": domain.RefundStatusPending,
	"rejected":   domain.RefundStatusFailed,
	"cancelled":  domain.RefundStatusCanceled,
}

func (g *MercadoPagoGateway) Refund(ctx context.Context, transactionID, reason string) (_ *domain.Refund, err error) {
	id, err := mercadoPagoID(transactionID)
	if err != nil {
		return nil, err
	}

	if g.refunds == nil || g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "refund")
	defer func() { done(err) }()

	currency, err := g.paymentCurrency(ctx, "refund", id, transactionID)
	if err != nil {
		return nil, err
	}

	resp, err := g.refunds.Create(ctx, id)
	if err != nil {
		return nil, g.refundError(ctx, "refund", transactionID, err)
	}

	return g.toRefund(ctx, resp, transactionID, currency, reason)
}

func (g *MercadoPagoGateway) PartialRefund(ctx context.Context, transactionID string, amount int64, reason string) (_ *domain.Refund, err error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	id, err := mercadoPagoID(transactionID)
	if err != nil {
		return nil, err
	}

	if g.refunds == nil || g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "partial_refund")
	defer func() { done(err) }()

	// The refund call takes a decimal amount, so the payment currency decides
	// the minor unit exponent.
	currency, err := g.paymentCurrency(ctx, "partial_refund", id, transactionID)
	if err != nil {
		return nil, err
	}

	resp, err := g.refunds.CreatePartialRefund(ctx, id, domain.AmountToFloat(amount, currency))
	if err != nil {
		return nil, g.refundError(ctx, "partial_refund", transactionID, err)
	}

	return g.toRefund(ctx, resp, transactionID, currency, reason)
}

// GetRefund takes a composite "paymentID/refundID" id.
func (g *MercadoPagoGateway) GetRefund(ctx context.Context, refundID string) (_ *domain.Refund, err error) {
	paymentPart, refundPart, ok := strings.Cut(refundID, "/")
	if !ok {
		return nil, fmt.Errorf("%w: mercadopago refund ids look like paymentID/refundID, got %q", domain.ErrValidation, refundID)
	}

	paymentID, err := mercadoPagoID(paymentPart)
	if err != nil {
		return nil, err
	}

	id, err := mercadoPagoID(refundPart)
	if err != nil {
		return nil, err
	}

	if g.refunds == nil || g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "get_refund")
	defer func() { done(err) }()

	resp, err := g.refunds.Get(ctx, paymentID, id)
	if err != nil {
		if isMercadoPagoNotFound(err) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, g.support.Fail(ctx, "get_refund", err, map[string]any{"refund_id": refundID})
	}

	currency, err := g.paymentCurrency(ctx, "get_refund", paymentID, paymentPart)
	if err != nil {
		return nil, err
	}

	return g.toRefund(ctx, resp, paymentPart, currency, "")
}

func (g *MercadoPagoGateway) RefundsForTransaction(ctx context.Context, transactionID string) (_ []domain.Refund, err error) {
	id, err := mercadoPagoID(transactionID)
	if err != nil {
		return nil, err
	}

	if g.refunds == nil || g.payments == nil {
		return nil, domain.ErrDriverUnavailable
	}

	ctx, done := g.support.Start(ctx, "list_refunds")
	defer func() { done(err) }()

	currency, err := g.paymentCurrency(ctx, "list_refunds", id, transactionID)
	if err != nil {
		return nil, err
	}

	list, err := g.refunds.List(ctx, id)
	if err != nil {
		return nil, g.refundError(ctx, "list_refunds", transactionID, err)
	}

	refunds := make([]domain.Refund, 0, len(list))
	for i := range list {
		r, err := g.toRefund(ctx, &list[i], transactionID, currency, "")
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *r)
	}

	return refunds, nil
}

func (g *MercadoPagoGateway) paymentCurrency(ctx context.Context, op string, id int, transactionID string) (string, error) {
	resp, err := g.payments.Get(ctx, id)
	if err != nil {
		return "", g.refundError(ctx, op, transactionID, err)
	}

	view, _, err := readMercadoPagoPayment(resp)
	if err != nil {
		return "", g.support.Fail(ctx, op, err, nil)
	}

	return domain.NormalizeCurrency(view.CurrencyID), nil
}

func (g *MercadoPagoGateway) refundError(ctx context.Context, op, transactionID string, err error) error {
	if isMercadoPagoNotFound(err) {
		return domain.ErrPaymentNotFound
	}

	return g.support.Fail(ctx, op, err, map[string]any{"payment_id": transactionID})
}

// toRefund reads the SDK response through JSON. Refund resources carry no
// currency; it comes from the refunded payment.
func (g *MercadoPagoGateway) toRefund(ctx context.Context, resp *refund.Response, transactionID, currency, reason string) (*domain.Refund, error) {
	if resp == nil {
		return nil, g.support.Fail(ctx, "refund", fmt.Errorf("empty refund response"), nil)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, g.support.Fail(ctx, "refund", err, nil)
	}

	var r mercadoPagoRefund
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, g.support.Fail(ctx, "refund", err, nil)
	}

	status, ok := mercadoPagoRefundStatuses.Resolve(r.Status)
	if !ok {
		g.support.Logger().WarnContext(ctx, "unknown refund status, treating as pending", "refund_id", r.ID, "status", r.Status)
		status = domain.RefundStatusPending
	}

	if r.PaymentID != 0 {
		transactionID = strconv.FormatInt(r.PaymentID, 10)
	}

	out := &domain.Refund{
		ID:            transactionID + "/" + strconv.FormatInt(r.ID, 10),
		TransactionID: transactionID,
		Status:        status,
		Amount:        domain.AmountFromFloat(r.Amount, currency),
		Currency:      currency,
		Reason:        reason,
		CreatedAt:     parseTime(r.DateCreated),
	}
	if out.Reason == "" {
		out.Reason = r.Reason
	}

	return out, nil
}

func (g *MercadoPagoGateway) WebhookSecret() string {
	return g.cfg.WebhookSecret
}

// VerifyWebhookSignature checks the x-signature header. The signed manifest is
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" and ts must fall within
// the webhook tolerance.
func (g *MercadoPagoGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	if g.cfg.WebhookSecret == "" {
		return false
	}

	parts := parseSignatureHeader(headers.Get(mercadoPagoSignatureHeader))
	ts, v1 := parts["ts"], parts["v1"]
	if ts == "" || v1 == "" {
		return false
	}

	dataID, err := mercadoPagoDataID(payload)
	if err != nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;",
		strings.ToLower(dataID),
		headers.Get(mercadoPagoRequestIDHeader),
		ts,
	)

	if !verifyHexHMAC([]byte(manifest), v1, g.cfg.WebhookSecret) {
		g.support.Logger().WarnContext(ctx, "mercadopago webhook signature rejected")
		return false
	}

	signedAt, ok := parseSignatureTime(ts)
	if !ok {
		return false
	}

	if age := g.support.Now().Sub(signedAt).Abs(); g.cfg.WebhookTolerance > 0 && age > g.cfg.WebhookTolerance {
		g.support.Logger().WarnContext(ctx, "mercadopago webhook timestamp outside tolerance",
			"signed_at", signedAt,
			"tolerance", g.cfg.WebhookTolerance,
		)
		return false
	}

	return true
}

// ParseWebhook reads a notification. Only data.id, x-request-id and ts are
// signed, so the event is built from those alone: it names a payment whose
// status must be read back with GetPayment. The unsigned type and action are
// kept for logging.
func (g *MercadoPagoGateway) ParseWebhook(payload []byte, headers http.Header) (*domain.WebhookPayload, error) {
	var event struct {
		Type   string          `json:"type"`
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed mercadopago notification: %v", domain.ErrValidation, err)
	}

	dataID, err := mercadoPagoDataID(payload)
	if err != nil {
		return nil, err
	}

	requestID := strings.TrimSpace(headers.Get(mercadoPagoRequestIDHeader))
	if requestID == "" {
		return nil, fmt.Errorf("%w: mercadopago notification without request id", domain.ErrValidation)
	}

	var data map[string]any
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed mercadopago data: %v", domain.ErrValidation, err)
	}

	eventType := event.Type
	if event.Action != "" {
		eventType = event.Action
	}

	out := &domain.WebhookPayload{
		ID:      dataID + "/" + requestID,
		Type:    eventType,
		Driver:  DriverMercadoPago,
		Kind:    domain.EventKindPayment,
		Data:    data,
		Payment: &domain.PaymentEvent{TransactionID: dataID},
		Raw:     json.RawMessage(payload),
	}

	ts := parseSignatureHeader(headers.Get(mercadoPagoSignatureHeader))["ts"]
	if signedAt, ok := parseSignatureTime(ts); ok {
		out.CreatedAt = signedAt.UTC()
	}

	return out, nil
}

func mercadoPagoDataID(payload []byte) (string, error) {
	var body struct {
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("%w: malformed mercadopago notification: %v", domain.ErrValidation, err)
	}

	id := rawID(body.Data.ID)
	if id == "" {
		return "", fmt.Errorf("%w: mercadopago notification without data.id", domain.ErrValidation)
	}

	return id, nil
}

// parseSignatureTime reads a unix timestamp in seconds or milliseconds.
func parseSignatureTime(ts string) (time.Time, bool) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}

	if n > 1e12 {
		return time.UnixMilli(n), true
	}

	return time.Unix(n, 0), true
}

// rawID renders a JSON id that may be a number or a string.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return strings.TrimSpace(string(raw))
}
