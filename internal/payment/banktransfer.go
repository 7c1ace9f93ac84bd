package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/paygate/internal/domain"
)

// Metadata keys written on bank transfer payments.
const (
	MetaBankName      = "bank_name"
	MetaAccountHolder = "account_holder"
	MetaIBAN          = "iban"
	MetaBIC           = "bic"
	MetaReference     = "reference"
	MetaExpiresAt     = "expires_at"
	MetaInstructions  = "instructions"
	MetaReceived      = "received_amount"
	MetaOverpaid      = "overpaid_amount"
)

// TransferConfirmer settles a pending bank transfer once ops saw the money.
type TransferConfirmer interface {
	ConfirmTransfer(ctx context.Context, transactionID, reference string, receivedAmount int64) (*domain.PaymentResult, error)
}

// BankTransferGateway issues payment references for manual transfers. It
// never calls out; a payment only settles through ConfirmTransfer.
type BankTransferGateway struct {
	cfg          BankTransferConfig
	transactions TransactionReader
	support      *Support
}

var (
	_ domain.Gateway    = (*BankTransferGateway)(nil)
	_ TransferConfirmer = (*BankTransferGateway)(nil)
)

func NewBankTransferGateway(cfg BankTransferConfig, opts ...Option) (*BankTransferGateway, error) {
	if err := validateConfig(DriverBankTransfer, cfg); err != nil {
		return nil, err
	}

	if cfg.ExpiryDays == 0 {
		cfg.ExpiryDays = defaultBankTransferExpiryDays
	}
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = defaultReferencePrefix
	}

	o := newOptions(opts)

	return &BankTransferGateway{
		cfg:          cfg,
		transactions: o.Transactions,
		support:      NewSupport(DriverBankTransfer, currenciesOrDefault(cfg.Currencies, defaultBankTransferCurrencies), o),
	}, nil
}

func (g *BankTransferGateway) Name() string {
	return DriverBankTransfer
}

func (g *BankTransferGateway) DisplayName() string {
	return "Bank Transfer"
}

func (g *BankTransferGateway) IsAvailable() bool {
	return g.cfg.Enabled && g.cfg.IBAN != ""
}

func (g *BankTransferGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

// CreatePaymentIntent returns a pending payment carrying the bank details and
// a fresh reference. The reference doubles as the continuation token.
func (g *BankTransferGateway) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (*domain.PaymentIntent, error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	id, reference, expiresAt, meta := g.issue(amount, cur, metadata)

	intent := &domain.PaymentIntent{
		ID:           id,
		ClientSecret: reference,
		Status:       domain.PaymentStatusPending,
		Amount:       amount,
		Currency:     cur,
		Driver:       DriverBankTransfer,
		ExpiresAt:    &expiresAt,
		Metadata:     meta,
	}
	if customer != nil {
		intent.CustomerID = customer.ID
	}

	g.support.Logger().InfoContext(ctx, "bank transfer reference issued",
		"transaction_id", id,
		"reference", reference,
		"expires_at", expiresAt,
	)

	return intent, nil
}

// Charge behaves like CreatePaymentIntent: the buyer still has to wire the
// money, so the result is always pending.
func (g *BankTransferGateway) Charge(
	ctx context.Context,
	amount int64,
	currency, _ string,
	opts domain.ChargeOptions) (*domain.PaymentResult, error) {

	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return nil, err
	}

	id, reference, expiresAt, meta := g.issue(amount, cur, opts.Metadata)

	g.support.Logger().InfoContext(ctx, "bank transfer reference issued",
		"transaction_id", id,
		"reference", reference,
		"expires_at", expiresAt,
	)

	return &domain.PaymentResult{
		TransactionID: id,
		Status:        domain.PaymentStatusPending,
		Amount:        amount,
		Currency:      cur,
		Driver:        DriverBankTransfer,
		CustomerID:    opts.CustomerID,
		Metadata:      meta,
	}, nil
}

// GetPayment reads the stored transaction back. A pending transfer past its
// expiry reports Expired.
func (g *BankTransferGateway) GetPayment(ctx context.Context, transactionID string) (*domain.PaymentResult, error) {
	txn, err := lookupTransaction(ctx, g.transactions, DriverBankTransfer, transactionID)
	if err != nil {
		return nil, err
	}

	result := offlineResult(txn)
	if result.Status == domain.PaymentStatusPending {
		if expiresAt, ok := transferExpiry(txn); ok && g.support.Now().After(expiresAt) {
			result.Status = domain.PaymentStatusExpired
			result.FailureCode = "expired"
		}
	}

	return result, nil
}

func transferExpiry(txn *domain.Transaction) (time.Time, bool) {
	expiresAt, err := time.Parse(time.RFC3339, txn.Metadata[MetaExpiresAt])
	return expiresAt, err == nil
}

// Cancel voids a transfer that has not been confirmed yet. There is nothing
// to revoke at the bank.
func (g *BankTransferGateway) Cancel(ctx context.Context, transactionID string) (bool, error) {
	ok, err := cancelOffline(ctx, g.transactions, DriverBankTransfer, transactionID)
	if err != nil || !ok {
		return false, err
	}

	g.support.Logger().InfoContext(ctx, "bank transfer canceled", "transaction_id", transactionID)

	return true, nil
}

// ConfirmTransfer settles a pending transfer. The reference must match the one
// issued and the transfer must not have expired. Less than the expected amount
// fails the payment, more succeeds and records the overpayment.
func (g *BankTransferGateway) ConfirmTransfer(
	ctx context.Context,
	transactionID, reference string,
	receivedAmount int64) (*domain.PaymentResult, error) {

	if receivedAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	txn, err := lookupTransaction(ctx, g.transactions, DriverBankTransfer, transactionID)
	if err != nil {
		return nil, err
	}

	expected := txn.Metadata[MetaReference]
	if !strings.EqualFold(strings.TrimSpace(reference), expected) || expected == "" {
		return nil, domain.ErrReferenceMismatch
	}

	if status := txn.PaymentStatus(); !status.IsPending() {
		return nil, fmt.Errorf("%w: transfer %s is already %s", domain.ErrInvalidTransition, transactionID, status)
	}

	if expiresAt, ok := transferExpiry(txn); ok && g.support.Now().After(expiresAt) {
		return nil, fmt.Errorf("%w: transfer %s expired at %s", domain.ErrInvalidTransition, transactionID, expiresAt.Format(time.RFC3339))
	}

	result := offlineResult(txn)
	result.Metadata[MetaReceived] = strconv.FormatInt(receivedAmount, 10)

	switch {
	case receivedAmount < txn.Amount:
		result.Status = domain.PaymentStatusFailed
		result.FailureCode = "insufficient_amount"
		result.FailureMessage = fmt.Sprintf("received %d of %d", receivedAmount, txn.Amount)
	default:
		result.Status = domain.PaymentStatusSucceeded
		if over := receivedAmount - txn.Amount; over > 0 {
			result.Metadata[MetaOverpaid] = strconv.FormatInt(over, 10)
		}
	}

	g.support.Logger().InfoContext(ctx, "bank transfer confirmed",
		"transaction_id", transactionID,
		"received_amount", receivedAmount,
		"status", result.Status,
	)

	return result, nil
}

func (g *BankTransferGateway) issue(amount int64, currency string, metadata map[string]string) (string, string, time.Time, map[string]string) {
	id := uuid.NewString()
	reference := g.cfg.ReferencePrefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	expiresAt := g.support.Now().UTC().AddDate(0, 0, g.cfg.ExpiryDays)

	meta := domain.CloneMetadata(metadata)
	meta[MetaBankName] = g.cfg.BankName
	meta[MetaAccountHolder] = g.cfg.AccountHolder
	meta[MetaIBAN] = g.cfg.IBAN
	meta[MetaBIC] = g.cfg.BIC
	meta[MetaReference] = reference
	meta[MetaExpiresAt] = expiresAt.Format(time.RFC3339)
	meta[MetaInstructions] = fmt.Sprintf(
		"Transfer %s %s to %s (IBAN %s, BIC %s) quoting reference %s before %s.",
		domain.FormatAmount(amount, currency), currency,
		g.cfg.AccountHolder, g.cfg.IBAN, g.cfg.BIC,
		reference, expiresAt.Format("2006-01-02"),
	)

	return id, reference, expiresAt, meta
}

// cancelOffline reports whether the stored payment is still open and can be
// voided.
func cancelOffline(ctx context.Context, reader TransactionReader, driver, transactionID string) (bool, error) {
	txn, err := lookupTransaction(ctx, reader, driver, transactionID)
	if err != nil {
		return false, err
	}

	return txn.PaymentStatus().IsPending(), nil
}

func lookupTransaction(ctx context.Context, reader TransactionReader, driver, transactionID string) (*domain.Transaction, error) {
	if transactionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	if reader == nil {
		return nil, domain.ErrPaymentNotFound
	}

	txn, err := reader.GetByProviderID(ctx, driver, transactionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrPaymentNotFound
	}

	return txn, nil
}

func offlineResult(txn *domain.Transaction) *domain.PaymentResult {
	return &domain.PaymentResult{
		TransactionID: txn.ProviderID,
		Status:        txn.PaymentStatus(),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Driver:        txn.Driver,
		CustomerID:    txn.CustomerID,
		Metadata:      domain.CloneMetadata(txn.Metadata),
	}
}
