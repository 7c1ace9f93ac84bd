package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/metinatakli/paygate/internal/domain"
)

var payPalTransmissionHeaders = []string{
	"Paypal-Auth-Algo",
	"Paypal-Cert-Url",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Sig",
	"Paypal-Transmission-Time",
}

type paypalEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	CreateTime   string          `json:"create_time"`
	Resource     json.RawMessage `json:"resource"`
}

type paypalEventResource struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	Amount            *paypalMoney `json:"amount"`
	SubscriberID      string       `json:"subscriber_id"`
	PlanID            string       `json:"plan_id"`
	StatusUpdateTime  string       `json:"status_update_time"`
	Links             []paypalLink `json:"links"`
	SupplementaryData *struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Subscriber    *struct {
		PayerID string `json:"payer_id"`
	} `json:"subscriber"`
}

// WebhookSecret returns the webhook id PayPal signs notifications for.
func (g *PayPalGateway) WebhookSecret() string {
	return g.cfg.WebhookID
}

// VerifyWebhookSignature asks PayPal to verify the transmission. PayPal signs
// with certificates it rotates, so verification is a network round trip.
func (g *PayPalGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (ok bool) {
	if g.cfg.WebhookID == "" || !json.Valid(payload) {
		return false
	}

	for _, h := range payPalTransmissionHeaders {
		if headers.Get(h) == "" {
			return false
		}
	}

	var err error
	ctx, done := g.support.Start(ctx, "verify_webhook")
	defer func() { done(err) }()

	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err = g.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", nil, body, &resp); err != nil {
		g.support.Logger().WarnContext(ctx, "paypal webhook verification call failed", "error", err)
		return false
	}

	return resp.VerificationStatus == "SUCCESS"
}

func (g *PayPalGateway) ParseWebhook(payload []byte, _ http.Header) (*domain.WebhookPayload, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed paypal event: %v", domain.ErrValidation, err)
	}

	if event.ID == "" || len(event.Resource) == 0 {
		return nil, fmt.Errorf("%w: paypal event without id or resource", domain.ErrValidation)
	}

	var resource paypalEventResource
	if err := json.Unmarshal(event.Resource, &resource); err != nil {
		return nil, fmt.Errorf("%w: malformed paypal resource: %v", domain.ErrValidation, err)
	}

	var data map[string]any
	if err := json.Unmarshal(event.Resource, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed paypal resource: %v", domain.ErrValidation, err)
	}

	out := &domain.WebhookPayload{
		ID:        event.ID,
		Type:      event.EventType,
		Driver:    DriverPayPal,
		Kind:      domain.EventKindOther,
		Data:      data,
		CreatedAt: parseTime(event.CreateTime),
		Raw:       json.RawMessage(payload),
	}

	switch {
	case strings.HasPrefix(event.EventType, "CHECKOUT.ORDER."):
		out.Kind = domain.EventKindPayment
		out.Payment = &domain.PaymentEvent{
			TransactionID: resource.ID,
			Status:        mapPayPalOrderStatus(resource.Status),
		}
		if len(resource.PurchaseUnits) > 0 {
			setPayPalEventAmount(out.Payment, resource.PurchaseUnits[0].Amount)
		}

	case event.EventType == "PAYMENT.CAPTURE.COMPLETED",
		event.EventType == "PAYMENT.CAPTURE.DENIED",
		event.EventType == "PAYMENT.CAPTURE.PENDING",
		event.EventType == "PAYMENT.CAPTURE.DECLINED":
		transactionID := resource.ID
		if resource.SupplementaryData != nil && resource.SupplementaryData.RelatedIDs.OrderID != "" {
			transactionID = resource.SupplementaryData.RelatedIDs.OrderID
		}

		out.Kind = domain.EventKindPayment
		out.Payment = &domain.PaymentEvent{
			TransactionID: transactionID,
			Status:        mapPayPalCaptureStatus(resource.Status),
		}
		setPayPalEventAmount(out.Payment, resource.Amount)

	case event.EventType == "PAYMENT.CAPTURE.REFUNDED", strings.HasPrefix(event.EventType, "PAYMENT.REFUND."):
		status, ok := payPalRefundStatuses.Resolve(resource.Status)
		if !ok {
			status = domain.RefundStatusPending
		}

		out.Kind = domain.EventKindRefund
		out.Refund = &domain.RefundEvent{
			RefundID: resource.ID,
			Status:   status,
		}
		if resource.SupplementaryData != nil {
			out.Refund.TransactionID = resource.SupplementaryData.RelatedIDs.OrderID
		}
		if out.Refund.TransactionID == "" {
			for _, link := range resource.Links {
				if link.Rel == "up" {
					out.Refund.TransactionID = path.Base(link.Href)
				}
			}
		}
		if resource.Amount != nil {
			out.Refund.Currency = domain.NormalizeCurrency(resource.Amount.CurrencyCode)
			if amount, err := domain.ParseAmount(resource.Amount.Value, resource.Amount.CurrencyCode); err == nil {
				out.Refund.Amount = amount
			}
		}

	case strings.HasPrefix(event.EventType, "BILLING.SUBSCRIPTION."):
		out.Kind = domain.EventKindSubscription
		out.Subscription = &domain.SubscriptionEvent{
			SubscriptionID: resource.ID,
			Status:         mapPayPalSubscriptionStatus(resource.Status),
		}
		if resource.Subscriber != nil {
			out.Subscription.CustomerID = resource.Subscriber.PayerID
		}
		if out.Subscription.Status == domain.SubscriptionStatusCanceled ||
			out.Subscription.Status == domain.SubscriptionStatusExpired {
			if ended := parseTime(resource.StatusUpdateTime); !ended.IsZero() {
				out.Subscription.EndedAt = &ended
			}
		}
	}

	return out, nil
}

func setPayPalEventAmount(event *domain.PaymentEvent, money *paypalMoney) {
	if money == nil {
		return
	}

	event.Currency = domain.NormalizeCurrency(money.CurrencyCode)
	if amount, err := domain.ParseAmount(money.Value, money.CurrencyCode); err == nil {
		event.Amount = amount
	}
}

func mapPayPalSubscriptionStatus(status string) domain.SubscriptionStatus {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return domain.SubscriptionStatusActive
	case "SUSPENDED":
		return domain.SubscriptionStatusPaused
	case "CANCELLED":
		return domain.SubscriptionStatusCanceled
	case "EXPIRED":
		return domain.SubscriptionStatusExpired
	default:
		return domain.SubscriptionStatusIncomplete
	}
}
