package payment

import (
	"context"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

func (g *StripeGateway) Refund(ctx context.Context, transactionID, reason string) (*domain.Refund, error) {
	return g.createRefund(ctx, transactionID, nil, reason)
}

func (g *StripeGateway) PartialRefund(ctx context.Context, transactionID string, amount int64, reason string) (*domain.Refund, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	return g.createRefund(ctx, transactionID, stripe.Int64(amount), reason)
}

func (g *StripeGateway) createRefund(ctx context.Context, transactionID string, amount *int64, reason string) (_ *domain.Refund, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "refund")
	defer func() { done(err) }()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        amount,
	}
	params.Context = ctx

	// Stripe only accepts its own reason codes; anything else is kept as metadata.
	switch stripe.RefundReason(reason) {
	case stripe.RefundReasonDuplicate, stripe.RefundReasonFraudulent, stripe.RefundReasonRequestedByCustomer:
		params.Reason = stripe.String(reason)
	default:
		if reason != "" {
			params.AddMetadata("reason", reason)
		}
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, g.support.Fail(ctx, "refund", err, map[string]any{"transaction_id": transactionID})
	}

	return g.toRefund(ctx, r), nil
}

func (g *StripeGateway) GetRefund(ctx context.Context, refundID string) (_ *domain.Refund, err error) {
	if refundID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_refund")
	defer func() { done(err) }()

	params := &stripe.RefundParams{}
	params.Context = ctx

	r, err := g.api.Refunds.Get(refundID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, g.support.Fail(ctx, "get_refund", err, map[string]any{"refund_id": refundID})
	}

	return g.toRefund(ctx, r), nil
}

func (g *StripeGateway) RefundsForTransaction(ctx context.Context, transactionID string) (_ []domain.Refund, err error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "list_refunds")
	defer func() { done(err) }()

	params := &stripe.RefundListParams{PaymentIntent: stripe.String(transactionID)}
	params.Context = ctx

	var refunds []domain.Refund
	it := g.api.Refunds.List(params)
	for it.Next() {
		refunds = append(refunds, *g.toRefund(ctx, it.Refund()))
	}

	if err := it.Err(); err != nil {
		return nil, g.support.Fail(ctx, "list_refunds", err, map[string]any{"transaction_id": transactionID})
	}

	return refunds, nil
}

func (g *StripeGateway) toRefund(ctx context.Context, r *stripe.Refund) *domain.Refund {
	status, ok := stripeRefundStatuses.Resolve(string(r.Status))
	if !ok {
		g.support.Logger().WarnContext(ctx, "unknown refund status, treating as pending",
			"refund_id", r.ID,
			"status", r.Status,
		)
		status = domain.RefundStatusPending
	}

	refund := &domain.Refund{
		ID:            r.ID,
		Status:        status,
		Amount:        r.Amount,
		Currency:      domain.NormalizeCurrency(string(r.Currency)),
		Reason:        string(r.Reason),
		FailureReason: string(r.FailureReason),
		CreatedAt:     derefTime(stripeTime(r.Created)),
	}

	if refund.Reason == "" {
		refund.Reason = r.Metadata["reason"]
	}
	if r.PaymentIntent != nil {
		refund.TransactionID = r.PaymentIntent.ID
	}

	return refund
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}

	return *t
}
