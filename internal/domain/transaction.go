package domain

import (
	"context"
	"fmt"
	"time"
)

// TransactionStatus is the persisted status of a transaction. It extends
// PaymentStatus with partially_refunded, which only the ledger can derive.
type TransactionStatus string

const TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"

func TransactionStatusFrom(status PaymentStatus) TransactionStatus {
	return TransactionStatus(status)
}

func (s TransactionStatus) IsRefundState() bool {
	return s == TransactionStatusPartiallyRefunded || s == TransactionStatus(PaymentStatusRefunded)
}

type Transaction struct {
	ID             string            `json:"id"`
	Driver         string            `json:"driver"`
	ProviderID     string            `json:"provider_id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	AmountReserved int64             `json:"amount_reserved"`
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Version        int32             `json:"version"`
}

// PaymentStatus folds the ledger-only partially_refunded state back into the
// payment taxonomy.
func (t Transaction) PaymentStatus() PaymentStatus {
	if t.Status == TransactionStatusPartiallyRefunded {
		return PaymentStatusSucceeded
	}

	return PaymentStatus(t.Status)
}

// RefundableAmount is what is left after succeeded refunds and the refunds
// still pending at the provider.
func (t Transaction) RefundableAmount() int64 {
	remaining := t.Amount - t.AmountRefunded - t.AmountReserved
	if remaining < 0 {
		return 0
	}

	return remaining
}

// CanRefund checks a refund request against the ledger without changing it.
func (t Transaction) CanRefund(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	refundable := t.RefundableAmount()
	if refundable == 0 {
		return ErrNothingToRefund
	}

	if amount > refundable {
		return fmt.Errorf("%w: requested %d, refundable %d", ErrRefundExceedsRefundable, amount, refundable)
	}

	return nil
}

// ApplyRefund returns the transaction with a succeeded refund of amount added
// to the ledger and its status derived from the new refunded total.
func (t Transaction) ApplyRefund(amount int64) (Transaction, error) {
	if err := t.CanRefund(amount); err != nil {
		return t, err
	}

	next := t
	next.AmountRefunded += amount
	next.Status = DeriveRefundStatus(next.Amount, next.AmountRefunded, t.Status)

	return next, nil
}

// ReserveRefund holds amount for a refund the provider has not settled yet.
func (t Transaction) ReserveRefund(amount int64) (Transaction, error) {
	if err := t.CanRefund(amount); err != nil {
		return t, err
	}

	next := t
	next.AmountReserved += amount

	return next, nil
}

// SettleReservedRefund moves a reserved amount into the refunded total.
func (t Transaction) SettleReservedRefund(amount int64) (Transaction, error) {
	if amount <= 0 {
		return t, ErrInvalidAmount
	}
	if amount > t.AmountReserved {
		return t, fmt.Errorf("%w: settling %d, reserved %d", ErrRefundExceedsRefundable, amount, t.AmountReserved)
	}

	next := t
	next.AmountReserved -= amount
	next.AmountRefunded += amount
	next.Status = DeriveRefundStatus(next.Amount, next.AmountRefunded, t.Status)

	return next, nil
}

// ReleaseReservedRefund gives a reserved amount back after the provider
// failed or canceled the refund.
func (t Transaction) ReleaseReservedRefund(amount int64) Transaction {
	next := t
	next.AmountReserved -= amount
	if next.AmountReserved < 0 {
		next.AmountReserved = 0
	}

	return next
}

// WithPaymentStatus applies a driver-reported status. A transaction already in a
// refund state keeps it; the ledger is the only source for those.
func (t Transaction) WithPaymentStatus(status PaymentStatus) Transaction {
	if t.Status.IsRefundState() && status != PaymentStatusRefunded {
		return t
	}

	next := t
	next.Status = TransactionStatusFrom(status)

	return next
}

// DeriveRefundStatus maps a refunded total onto a transaction status. A zero
// total leaves current unchanged.
func DeriveRefundStatus(amount, refunded int64, current TransactionStatus) TransactionStatus {
	switch {
	case refunded <= 0:
		return current
	case refunded >= amount:
		return TransactionStatus(PaymentStatusRefunded)
	default:
		return TransactionStatusPartiallyRefunded
	}
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByProviderID(ctx context.Context, driver, providerID string) (*Transaction, error)
	UpdateStatus(ctx context.Context, txn *Transaction) error
	// RecordRefund stores the refund. A succeeded refund increments
	// amount_refunded, a pending one increments amount_reserved. Either write
	// is atomic and fails with ErrRefundExceedsRefundable if it would break
	// amount_refunded + amount_reserved <= amount.
	RecordRefund(ctx context.Context, txn *Transaction, refund *Refund) (*Transaction, error)
	// MarkRefundSucceeded settles a previously pending refund and applies its
	// amount to the ledger.
	MarkRefundSucceeded(ctx context.Context, refundID string) (*Transaction, error)
	// ReleaseRefund marks a pending refund failed or canceled and frees its
	// reservation. A refund that already succeeded fails with
	// ErrInvalidTransition.
	ReleaseRefund(ctx context.Context, refundID string, status RefundStatus) (*Transaction, error)
	ListRefunds(ctx context.Context, transactionID string) ([]Refund, error)
}

type SubscriptionRepository interface {
	Save(ctx context.Context, subscription *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
}

// EventStore remembers processed webhook events. MarkProcessed reports true
// the first time an event id is seen for a driver; Forget releases the id
// again so a failed delivery can be retried.
type EventStore interface {
	MarkProcessed(ctx context.Context, driver, eventID string) (bool, error)
	Forget(ctx context.Context, driver, eventID string) error
}
