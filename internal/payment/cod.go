package payment

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/metinatakli/paygate/internal/domain"
)

const (
	MetaOrderAmount = "order_amount"
	MetaCODFee      = "cod_fee"
	MetaCollected   = "collected_amount"
	MetaCountry     = "country"
)

// DeliveryConfirmer settles a cash on delivery payment after the courier
// reported what was collected.
type DeliveryConfirmer interface {
	ConfirmDelivery(ctx context.Context, transactionID string, collectedAmount int64) (*domain.PaymentResult, error)
}

// CODGateway is cash on delivery. The fee is added on top of the order
// amount when the payment is created, and the payment stays pending until
// ConfirmDelivery.
type CODGateway struct {
	cfg          CODConfig
	transactions TransactionReader
	support      *Support
}

var (
	_ domain.Gateway    = (*CODGateway)(nil)
	_ DeliveryConfirmer = (*CODGateway)(nil)
)

func NewCODGateway(cfg CODConfig, opts ...Option) (*CODGateway, error) {
	if err := validateConfig(DriverCOD, cfg); err != nil {
		return nil, err
	}

	if cfg.FeeType == "" {
		cfg.FeeType = FeeTypeFixed
	}

	countries := make([]string, 0, len(cfg.AllowedCountries))
	for _, c := range cfg.AllowedCountries {
		countries = append(countries, strings.ToUpper(strings.TrimSpace(c)))
	}
	cfg.AllowedCountries = countries

	o := newOptions(opts)

	return &CODGateway{
		cfg:          cfg,
		transactions: o.Transactions,
		support:      NewSupport(DriverCOD, currenciesOrDefault(cfg.Currencies, defaultCODCurrencies), o),
	}, nil
}

func (g *CODGateway) Name() string {
	return DriverCOD
}

func (g *CODGateway) DisplayName() string {
	return "Cash on Delivery"
}

func (g *CODGateway) IsAvailable() bool {
	return g.cfg.Enabled
}

func (g *CODGateway) SupportedCurrencies() []string {
	return g.support.Currencies()
}

// Fee returns the delivery fee for an order amount.
func (g *CODGateway) Fee(amount int64) int64 {
	if g.cfg.FeeType == FeeTypePercentage {
		return domain.PercentOf(amount, g.cfg.Fee)
	}

	return g.cfg.Fee.IntPart()
}

// CreatePaymentIntent checks the amount limit and the destination country,
// then returns a pending payment for amount plus fee. The destination is
// metadata["country"] or the customer's address.
func (g *CODGateway) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (*domain.PaymentIntent, error) {

	country := metadata[MetaCountry]
	if country == "" && customer != nil && customer.Address != nil {
		country = customer.Address.Country
	}

	cur, err := g.check(amount, currency, country)
	if err != nil {
		return nil, err
	}

	id, total, meta := g.issue(amount, metadata)

	intent := &domain.PaymentIntent{
		ID:       id,
		Status:   domain.PaymentStatusPending,
		Amount:   total,
		Currency: cur,
		Driver:   DriverCOD,
		Metadata: meta,
	}
	if customer != nil {
		intent.CustomerID = customer.ID
	}

	g.support.Logger().InfoContext(ctx, "cash on delivery payment created",
		"transaction_id", id,
		"order_amount", amount,
		"fee", total-amount,
	)

	return intent, nil
}

// Charge is CreatePaymentIntent for callers that want a PaymentResult. The
// destination is opts.Country or metadata["country"].
func (g *CODGateway) Charge(
	ctx context.Context,
	amount int64,
	currency, _ string,
	opts domain.ChargeOptions) (*domain.PaymentResult, error) {

	country := opts.Country
	if country == "" {
		country = opts.Metadata[MetaCountry]
	}

	cur, err := g.check(amount, currency, country)
	if err != nil {
		return nil, err
	}

	id, total, meta := g.issue(amount, opts.Metadata)

	g.support.Logger().InfoContext(ctx, "cash on delivery payment created",
		"transaction_id", id,
		"order_amount", amount,
		"fee", total-amount,
	)

	return &domain.PaymentResult{
		TransactionID: id,
		Status:        domain.PaymentStatusPending,
		Amount:        total,
		Currency:      cur,
		Driver:        DriverCOD,
		CustomerID:    opts.CustomerID,
		Metadata:      meta,
	}, nil
}

func (g *CODGateway) GetPayment(ctx context.Context, transactionID string) (*domain.PaymentResult, error) {
	txn, err := lookupTransaction(ctx, g.transactions, DriverCOD, transactionID)
	if err != nil {
		return nil, err
	}

	return offlineResult(txn), nil
}

// Cancel voids a payment that has not been collected yet.
func (g *CODGateway) Cancel(ctx context.Context, transactionID string) (bool, error) {
	ok, err := cancelOffline(ctx, g.transactions, DriverCOD, transactionID)
	if err != nil || !ok {
		return false, err
	}

	g.support.Logger().InfoContext(ctx, "cash on delivery payment canceled", "transaction_id", transactionID)

	return true, nil
}

// ConfirmDelivery settles the payment. Collecting less than the total due
// fails it.
func (g *CODGateway) ConfirmDelivery(ctx context.Context, transactionID string, collectedAmount int64) (*domain.PaymentResult, error) {
	if collectedAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	txn, err := lookupTransaction(ctx, g.transactions, DriverCOD, transactionID)
	if err != nil {
		return nil, err
	}

	if status := txn.PaymentStatus(); !status.IsPending() {
		return nil, fmt.Errorf("%w: delivery %s is already %s", domain.ErrInvalidTransition, transactionID, status)
	}

	result := offlineResult(txn)
	result.Metadata[MetaCollected] = strconv.FormatInt(collectedAmount, 10)

	if collectedAmount < txn.Amount {
		result.Status = domain.PaymentStatusFailed
		result.FailureCode = "short_collection"
		result.FailureMessage = fmt.Sprintf("collected %d of %d", collectedAmount, txn.Amount)
	} else {
		result.Status = domain.PaymentStatusSucceeded
	}

	g.support.Logger().InfoContext(ctx, "cash on delivery confirmed",
		"transaction_id", transactionID,
		"collected_amount", collectedAmount,
		"status", result.Status,
	)

	return result, nil
}

// check runs the currency, amount cap and country checks. With an allow-list
// configured, an unknown destination is rejected.
func (g *CODGateway) check(amount int64, currency, country string) (string, error) {
	cur, err := g.support.Validate(amount, currency)
	if err != nil {
		return "", err
	}

	if g.cfg.MaxAmount > 0 && amount > g.cfg.MaxAmount {
		return "", fmt.Errorf("%w: %d is above %d", domain.ErrAmountExceedsLimit, amount, g.cfg.MaxAmount)
	}

	if len(g.cfg.AllowedCountries) > 0 {
		country = strings.ToUpper(strings.TrimSpace(country))
		if !slices.Contains(g.cfg.AllowedCountries, country) {
			return "", fmt.Errorf("%w: %q", domain.ErrCountryNotAllowed, country)
		}
	}

	return cur, nil
}

func (g *CODGateway) issue(amount int64, metadata map[string]string) (string, int64, map[string]string) {
	fee := g.Fee(amount)

	meta := domain.CloneMetadata(metadata)
	meta[MetaOrderAmount] = strconv.FormatInt(amount, 10)
	meta[MetaCODFee] = strconv.FormatInt(fee, 10)

	return uuid.NewString(), amount + fee, meta
}
