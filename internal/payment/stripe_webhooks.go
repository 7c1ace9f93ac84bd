package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

func (g *StripeGateway) WebhookSecret() string {
	return g.cfg.WebhookSecret
}

// VerifyWebhookSignature checks the Stripe-Signature header, including the
// timestamp tolerance window.
func (g *StripeGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	secret := g.WebhookSecret()
	if secret == "" {
		return false
	}

	err := webhook.ValidatePayloadWithTolerance(payload, headers.Get(stripeSignatureHeader), secret, g.cfg.WebhookTolerance)
	if err != nil {
		g.support.Logger().WarnContext(ctx, "stripe webhook signature rejected", "error", err)
		return false
	}

	return true
}

func (g *StripeGateway) ParseWebhook(payload []byte, _ http.Header) (*domain.WebhookPayload, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed stripe event: %v", domain.ErrValidation, err)
	}

	if event.ID == "" || event.Data == nil {
		return nil, fmt.Errorf("%w: stripe event without id or data", domain.ErrValidation)
	}

	out := &domain.WebhookPayload{
		ID:        event.ID,
		Type:      string(event.Type),
		Driver:    DriverStripe,
		Kind:      domain.EventKindOther,
		Data:      event.Data.Object,
		CreatedAt: time.Unix(event.Created, 0).UTC(),
		Raw:       json.RawMessage(payload),
	}

	eventType := string(event.Type)
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: malformed payment intent: %v", domain.ErrValidation, err)
		}

		out.Kind = domain.EventKindPayment
		out.Payment = &domain.PaymentEvent{
			TransactionID: pi.ID,
			Status:        mapStripePaymentStatus(string(pi.Status)),
			Amount:        pi.Amount,
			Currency:      domain.NormalizeCurrency(string(pi.Currency)),
		}

	case strings.HasPrefix(eventType, "refund."), eventType == "charge.refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("%w: malformed refund: %v", domain.ErrValidation, err)
		}

		status, ok := stripeRefundStatuses.Resolve(string(r.Status))
		if !ok {
			status = domain.RefundStatusPending
		}

		out.Kind = domain.EventKindRefund
		out.Refund = &domain.RefundEvent{
			RefundID: r.ID,
			Status:   status,
			Amount:   r.Amount,
			Currency: domain.NormalizeCurrency(string(r.Currency)),
		}
		if r.PaymentIntent != nil {
			out.Refund.TransactionID = r.PaymentIntent.ID
		}

	case strings.HasPrefix(eventType, "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: malformed subscription: %v", domain.ErrValidation, err)
		}

		mapped := stripeSubscription(&sub)
		out.Kind = domain.EventKindSubscription
		out.Subscription = &domain.SubscriptionEvent{
			SubscriptionID: mapped.ID,
			CustomerID:     mapped.CustomerID,
			Status:         mapped.Status,
			EndedAt:        mapped.EndedAt,
		}
	}

	return out, nil
}
