package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/payment"
)

// Drivers resolves payment drivers by name. *payment.Manager implements it.
type Drivers interface {
	Driver(name string) (domain.Gateway, error)
	Default() (domain.Gateway, error)
}

// Service applies driver results and webhook events to the stored ledger.
// Drivers never hold state; everything persisted goes through here.
type Service struct {
	drivers       Drivers
	transactions  domain.TransactionRepository
	subscriptions domain.SubscriptionRepository
	events        domain.EventStore
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(
	drivers Drivers,
	transactions domain.TransactionRepository,
	subscriptions domain.SubscriptionRepository,
	events domain.EventStore,
	logger *slog.Logger) *Service {

	return &Service{
		drivers:       drivers,
		transactions:  transactions,
		subscriptions: subscriptions,
		events:        events,
		logger:        logger,
		now:           time.Now,
	}
}

type CheckoutRequest struct {
	Driver   string
	Amount   int64
	Currency string
	Customer *domain.Customer
	Metadata map[string]string
}

// Checkout creates a payment intent with the requested driver, or the default
// one, and records the pending transaction.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*domain.PaymentIntent, *domain.Transaction, error) {
	g, err := s.driverOrDefault(req.Driver)
	if err != nil {
		return nil, nil, err
	}

	if !g.IsAvailable() {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDriverUnavailable, g.Name())
	}

	intent, err := g.CreatePaymentIntent(ctx, req.Amount, req.Currency, req.Customer, req.Metadata)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	txn := &domain.Transaction{
		ID:         uuid.NewString(),
		Driver:     g.Name(),
		ProviderID: intent.ID,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Status:     domain.TransactionStatusFrom(intent.Status),
		CustomerID: intent.CustomerID,
		Metadata:   domain.CloneMetadata(intent.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "checkout started",
		"transaction_id", txn.ID,
		"driver", txn.Driver,
		"provider_id", txn.ProviderID,
		"amount", txn.Amount,
		"currency", txn.Currency,
	)

	return intent, txn, nil
}

// Refund refunds amount of a stored transaction; zero refunds whatever is
// still refundable. The request is checked against the ledger before the
// provider is called.
func (s *Service) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*domain.Refund, *domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	if amount == 0 {
		amount = txn.RefundableAmount()
		if amount == 0 {
			return nil, nil, domain.ErrNothingToRefund
		}
	}

	if err := txn.CanRefund(amount); err != nil {
		return nil, nil, err
	}

	if !txn.PaymentStatus().IsSuccessful() {
		return nil, nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, txn.ID, txn.Status)
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, nil, err
	}

	refunds, err := payment.Refunds(g)
	if err != nil {
		return nil, nil, err
	}

	var refund *domain.Refund
	if amount == txn.Amount {
		refund, err = refunds.Refund(ctx, txn.ProviderID, reason)
	} else {
		refund, err = refunds.PartialRefund(ctx, txn.ProviderID, amount, reason)
	}
	if err != nil {
		return nil, nil, err
	}

	if refund.Amount == 0 {
		refund.Amount = amount
	}
	if refund.Currency == "" {
		refund.Currency = txn.Currency
	}

	updated, err := s.transactions.RecordRefund(ctx, txn, refund)
	if err != nil {
		// The provider already accepted the refund; the ledger is behind
		// until the refund webhook arrives.
		s.logger.ErrorContext(ctx, "failed to record refund",
			"transaction_id", txn.ID,
			"refund_id", refund.ID,
			"error", err,
		)
		return refund, nil, err
	}

	s.logger.InfoContext(ctx, "refund issued",
		"transaction_id", txn.ID,
		"refund_id", refund.ID,
		"amount", refund.Amount,
		"status", refund.Status,
		"amount_refunded", updated.AmountRefunded,
	)

	return refund, updated, nil
}

// Capture completes a pending payment through the driver's Charge, which for
// capturing drivers acts on the provider id stored at checkout.
func (s *Service) Capture(ctx context.Context, transactionID, returnURL string) (*domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if !txn.PaymentStatus().IsPending() {
		return nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, txn.ID, txn.Status)
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, err
	}

	if err := payment.Captures(g); err != nil {
		return nil, err
	}

	result, err := g.Charge(ctx, txn.Amount, txn.Currency, txn.ProviderID, domain.ChargeOptions{
		CustomerID:     txn.CustomerID,
		IdempotencyKey: "capture-" + txn.ID,
		ReturnURL:      returnURL,
		Metadata:       domain.CloneMetadata(txn.Metadata),
	})
	if err != nil {
		return nil, err
	}

	return s.applyResult(ctx, txn, result)
}

// Cancel voids a pending payment at the provider and marks it canceled.
func (s *Service) Cancel(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if !txn.PaymentStatus().IsPending() {
		return nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, txn.ID, txn.Status)
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, err
	}

	canceled, err := g.Cancel(ctx, txn.ProviderID)
	if err != nil {
		return nil, err
	}
	if !canceled {
		return nil, fmt.Errorf("%w: %s could not cancel transaction %s", domain.ErrInvalidTransition, g.Name(), txn.ID)
	}

	return s.applyResult(ctx, txn, &domain.PaymentResult{
		TransactionID: txn.ProviderID,
		Status:        domain.PaymentStatusCanceled,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Driver:        g.Name(),
	})
}

// Sync asks the driver for the current status of a stored transaction and
// persists it. It is the recovery path after timeouts and lost webhooks.
func (s *Service) Sync(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, err
	}

	result, err := g.GetPayment(ctx, txn.ProviderID)
	if err != nil {
		return nil, err
	}

	return s.applyResult(ctx, txn, result)
}

// ConfirmTransfer settles a bank transfer that ops matched on the statement.
func (s *Service) ConfirmTransfer(ctx context.Context, transactionID, reference string, receivedAmount int64) (*domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, err
	}

	confirmer, err := payment.Transfers(g)
	if err != nil {
		return nil, err
	}

	result, err := confirmer.ConfirmTransfer(ctx, txn.ProviderID, reference, receivedAmount)
	if err != nil {
		return nil, err
	}

	return s.applyResult(ctx, txn, result)
}

// ConfirmDelivery settles a cash on delivery payment.
func (s *Service) ConfirmDelivery(ctx context.Context, transactionID string, collectedAmount int64) (*domain.Transaction, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	g, err := s.drivers.Driver(txn.Driver)
	if err != nil {
		return nil, err
	}

	confirmer, err := payment.Deliveries(g)
	if err != nil {
		return nil, err
	}

	result, err := confirmer.ConfirmDelivery(ctx, txn.ProviderID, collectedAmount)
	if err != nil {
		return nil, err
	}

	return s.applyResult(ctx, txn, result)
}

func (s *Service) Transaction(ctx context.Context, transactionID string) (*domain.Transaction, []domain.Refund, error) {
	txn, err := s.transaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	refunds, err := s.transactions.ListRefunds(ctx, txn.ID)
	if err != nil {
		return nil, nil, err
	}

	return txn, refunds, nil
}

func (s *Service) applyResult(ctx context.Context, txn *domain.Transaction, result *domain.PaymentResult) (*domain.Transaction, error) {
	next := txn.WithPaymentStatus(result.Status)

	metadata := domain.CloneMetadata(txn.Metadata)
	maps.Copy(metadata, result.Metadata)
	if result.FailureCode != "" {
		metadata["failure_code"] = result.FailureCode
	}
	next.Metadata = metadata

	if next.Status == txn.Status && maps.Equal(next.Metadata, txn.Metadata) {
		return txn, nil
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.transactions.UpdateStatus(ctx, &next); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "transaction status updated",
		"transaction_id", txn.ID,
		"driver", txn.Driver,
		"from", txn.Status,
		"to", next.Status,
	)

	return &next, nil
}

func (s *Service) transaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	txn, err := s.transactions.GetByID(ctx, transactionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	return txn, nil
}

func (s *Service) driverOrDefault(name string) (domain.Gateway, error) {
	if name == "" {
		return s.drivers.Default()
	}

	return s.drivers.Driver(name)
}
