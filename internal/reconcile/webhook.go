package reconcile

import (
	"context"
	"errors"
	"net/http"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/payment"
)

// HandleWebhook verifies, parses and applies an inbound notification. payload
// must be the body exactly as received. A repeated event id returns the event
// with domain.ErrDuplicateEvent and changes nothing.
func (s *Service) HandleWebhook(ctx context.Context, driver string, payload []byte, headers http.Header) (*domain.WebhookPayload, error) {
	g, err := s.drivers.Driver(driver)
	if err != nil {
		return nil, err
	}

	webhooks, err := payment.Webhooks(g)
	if err != nil {
		return nil, err
	}

	if !webhooks.VerifyWebhookSignature(ctx, payload, headers) {
		s.logger.WarnContext(ctx, "webhook rejected", "driver", driver)
		return nil, domain.ErrInvalidSignature
	}

	event, err := webhooks.ParseWebhook(payload, headers)
	if err != nil {
		return nil, err
	}

	first, err := s.events.MarkProcessed(ctx, driver, event.ID)
	if err != nil {
		return nil, err
	}
	if !first {
		s.logger.InfoContext(ctx, "duplicate webhook ignored", "driver", driver, "event_id", event.ID)
		return event, domain.ErrDuplicateEvent
	}

	if err := s.apply(ctx, g, event); err != nil {
		if forgetErr := s.events.Forget(ctx, driver, event.ID); forgetErr != nil {
			s.logger.ErrorContext(ctx, "failed to release webhook event",
				"driver", driver,
				"event_id", event.ID,
				"error", forgetErr,
			)
		}
		return event, err
	}

	s.logger.InfoContext(ctx, "webhook processed",
		"driver", driver,
		"event_id", event.ID,
		"type", event.Type,
		"kind", event.Kind,
	)

	return event, nil
}

func (s *Service) apply(ctx context.Context, g domain.Gateway, event *domain.WebhookPayload) error {
	switch event.Kind {
	case domain.EventKindPayment:
		if event.Payment == nil {
			return nil
		}
		return s.applyPayment(ctx, g, event.Payment)
	case domain.EventKindRefund:
		if event.Refund == nil {
			return nil
		}
		return s.applyRefund(ctx, g.Name(), event.Refund)
	case domain.EventKindSubscription:
		if event.Subscription == nil {
			return nil
		}
		return s.applySubscription(ctx, event.Subscription)
	default:
		s.logger.DebugContext(ctx, "webhook event not applied", "driver", g.Name(), "type", event.Type)
		return nil
	}
}

// applyPayment updates the transaction status. Events without a status only
// name the payment, so the driver is asked for it.
func (s *Service) applyPayment(ctx context.Context, g domain.Gateway, ev *domain.PaymentEvent) error {
	txn, err := s.transactions.GetByProviderID(ctx, g.Name(), ev.TransactionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		s.logger.WarnContext(ctx, "webhook for unknown payment", "driver", g.Name(), "provider_id", ev.TransactionID)
		return nil
	}
	if err != nil {
		return err
	}

	result := &domain.PaymentResult{TransactionID: ev.TransactionID, Status: ev.Status}
	if ev.Status == "" {
		result, err = g.GetPayment(ctx, ev.TransactionID)
		if err != nil {
			return err
		}
	}

	_, err = s.applyResult(ctx, txn, result)
	return err
}

// applyRefund settles a refund in the ledger. Refunds issued outside this
// service, from the provider dashboard for example, are recorded on first
// sight.
func (s *Service) applyRefund(ctx context.Context, driver string, ev *domain.RefundEvent) error {
	switch ev.Status {
	case domain.RefundStatusSucceeded:
		_, err := s.transactions.MarkRefundSucceeded(ctx, ev.RefundID)
		if err == nil || errors.Is(err, domain.ErrDuplicateRefund) {
			return nil
		}
		if !errors.Is(err, domain.ErrRefundNotFound) {
			return s.ledgerError(ctx, driver, ev, err)
		}

		return s.recordRefundEvent(ctx, driver, ev)
	case domain.RefundStatusFailed, domain.RefundStatusCanceled:
		_, err := s.transactions.ReleaseRefund(ctx, ev.RefundID, ev.Status)
		if errors.Is(err, domain.ErrRefundNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "refund update ignored",
				"driver", driver,
				"refund_id", ev.RefundID,
				"status", ev.Status,
				"error", err,
			)
			return nil
		}

		return err
	default:
		// Open refunds hold their amount; one issued through the API is
		// already stored and reserved.
		return s.recordRefundEvent(ctx, driver, ev)
	}
}

func (s *Service) recordRefundEvent(ctx context.Context, driver string, ev *domain.RefundEvent) error {
	txn, err := s.transactions.GetByProviderID(ctx, driver, ev.TransactionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		s.logger.WarnContext(ctx, "refund for unknown payment", "driver", driver, "provider_id", ev.TransactionID)
		return nil
	}
	if err != nil {
		return err
	}

	refund := &domain.Refund{
		ID:            ev.RefundID,
		TransactionID: ev.TransactionID,
		Status:        ev.Status,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		CreatedAt:     s.now().UTC(),
	}
	if refund.Currency == "" {
		refund.Currency = txn.Currency
	}

	_, err = s.transactions.RecordRefund(ctx, txn, refund)
	if err == nil || errors.Is(err, domain.ErrDuplicateRefund) {
		return nil
	}

	return s.ledgerError(ctx, driver, ev, err)
}

// ledgerError keeps a refund that would overdraw the ledger from being
// retried forever; the ledger stays as it is and the event is logged.
func (s *Service) ledgerError(ctx context.Context, driver string, ev *domain.RefundEvent, err error) error {
	if errors.Is(err, domain.ErrRefundExceedsRefundable) || errors.Is(err, domain.ErrNothingToRefund) {
		s.logger.ErrorContext(ctx, "refund does not fit the ledger",
			"driver", driver,
			"refund_id", ev.RefundID,
			"amount", ev.Amount,
			"error", err,
		)
		return nil
	}

	return err
}

// applySubscription moves the stored subscription to the reported status.
// Terminal subscriptions stay as they are.
func (s *Service) applySubscription(ctx context.Context, ev *domain.SubscriptionEvent) error {
	at := s.now().UTC()
	if ev.EndedAt != nil {
		at = *ev.EndedAt
	}

	sub, err := s.subscriptions.GetByID(ctx, ev.SubscriptionID)
	if errors.Is(err, domain.ErrRecordNotFound) || errors.Is(err, domain.ErrSubscriptionNotFound) {
		sub = &domain.Subscription{ID: ev.SubscriptionID, CustomerID: ev.CustomerID}
	} else if err != nil {
		return err
	}

	next, ok := sub.Transition(ev.Status, at)
	if !ok {
		s.logger.InfoContext(ctx, "subscription update ignored",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"reported", ev.Status,
		)
		return nil
	}

	if next.CustomerID == "" {
		next.CustomerID = ev.CustomerID
	}

	return s.subscriptions.Save(ctx, &next)
}
