package payment

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/validator"
)

// Manager resolves drivers by name. Every known driver is registered, whether
// or not it has credentials; IsAvailable tells the two apart.
type Manager struct {
	drivers         map[string]domain.Gateway
	order           []string
	defaultDriver   string
	defaultCurrency string
}

// NewManager builds all drivers from cfg. With cfg.Logging off, drivers log to
// a discard handler; otherwise their logs carry cfg.Channel.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := validator.NewValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid payment config: %w", err)
	}

	o := newOptions(opts)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Logging {
		logger = o.Logger
		if cfg.Channel != "" {
			logger = logger.With("channel", cfg.Channel)
		}
	}

	driverOpts := append(slices.Clone(opts), WithLogger(logger))

	if cfg.Stripe.WebhookTolerance == 0 {
		cfg.Stripe.WebhookTolerance = cfg.WebhookTolerance
	}
	if cfg.MercadoPago.WebhookTolerance == 0 {
		cfg.MercadoPago.WebhookTolerance = cfg.WebhookTolerance
	}

	stripeGateway, err := NewStripeGateway(cfg.Stripe, driverOpts...)
	if err != nil {
		return nil, err
	}

	payPalGateway, err := NewPayPalGateway(cfg.PayPal, driverOpts...)
	if err != nil {
		return nil, err
	}

	coinbaseGateway, err := NewCoinbaseGateway(cfg.Coinbase, driverOpts...)
	if err != nil {
		return nil, err
	}

	mercadoPagoGateway, err := NewMercadoPagoGateway(cfg.MercadoPago, driverOpts...)
	if err != nil {
		return nil, err
	}

	bankTransferGateway, err := NewBankTransferGateway(cfg.BankTransfer, driverOpts...)
	if err != nil {
		return nil, err
	}

	codGateway, err := NewCODGateway(cfg.COD, driverOpts...)
	if err != nil {
		return nil, err
	}

	m := NewManagerWith(cfg.DefaultDriver,
		stripeGateway,
		payPalGateway,
		coinbaseGateway,
		mercadoPagoGateway,
		bankTransferGateway,
		codGateway,
	)
	m.defaultCurrency = domain.NormalizeCurrency(cfg.DefaultCurrency)

	logger.Info("payment drivers registered",
		"available", m.Names(true),
		"default", m.defaultDriver,
	)

	return m, nil
}

// NewManagerWith registers the given gateways as they are. The first one is
// the default when defaultDriver is empty.
func NewManagerWith(defaultDriver string, gateways ...domain.Gateway) *Manager {
	m := &Manager{
		drivers:       make(map[string]domain.Gateway, len(gateways)),
		defaultDriver: defaultDriver,
	}

	for _, g := range gateways {
		m.Register(g)
	}

	if m.defaultDriver == "" && len(m.order) > 0 {
		m.defaultDriver = m.order[0]
	}

	return m
}

// Register adds g, replacing any driver with the same name.
func (m *Manager) Register(g domain.Gateway) {
	name := g.Name()
	if _, exists := m.drivers[name]; !exists {
		m.order = append(m.order, name)
	}

	m.drivers[name] = g
}

func (m *Manager) Driver(name string) (domain.Gateway, error) {
	g, ok := m.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrDriverNotFound, name)
	}

	return g, nil
}

func (m *Manager) Default() (domain.Gateway, error) {
	return m.Driver(m.defaultDriver)
}

func (m *Manager) DefaultCurrency() string {
	return m.defaultCurrency
}

// Available returns the drivers that are configured, in registration order.
func (m *Manager) Available() []domain.Gateway {
	var out []domain.Gateway
	for _, name := range m.order {
		if g := m.drivers[name]; g.IsAvailable() {
			out = append(out, g)
		}
	}

	return out
}

// Names lists registered driver names, optionally only the available ones.
func (m *Manager) Names(availableOnly bool) []string {
	out := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if availableOnly && !m.drivers[name].IsAvailable() {
			continue
		}
		out = append(out, name)
	}

	return out
}

func Refunds(g domain.Gateway) (domain.SupportsRefunds, error) {
	return capability[domain.SupportsRefunds](g, "refunds")
}

func Customers(g domain.Gateway) (domain.SupportsCustomers, error) {
	return capability[domain.SupportsCustomers](g, "customers")
}

func Subscriptions(g domain.Gateway) (domain.SupportsSubscriptions, error) {
	return capability[domain.SupportsSubscriptions](g, "subscriptions")
}

func Webhooks(g domain.Gateway) (domain.SupportsWebhooks, error) {
	return capability[domain.SupportsWebhooks](g, "webhooks")
}

func Transfers(g domain.Gateway) (TransferConfirmer, error) {
	return capability[TransferConfirmer](g, "transfer confirmation")
}

func Deliveries(g domain.Gateway) (DeliveryConfirmer, error) {
	return capability[DeliveryConfirmer](g, "delivery confirmation")
}

// Capturer is implemented by drivers whose Charge, given the provider id of a
// payment they created, completes that payment instead of starting a new one.
type Capturer interface {
	CapturesExisting() bool
}

func Captures(g domain.Gateway) error {
	c, err := capability[Capturer](g, "capture")
	if err != nil {
		return err
	}
	if !c.CapturesExisting() {
		return fmt.Errorf("%w: %s does not support capture", domain.ErrNotSupported, g.Name())
	}

	return nil
}

func capability[T any](g domain.Gateway, name string) (T, error) {
	c, ok := g.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s does not support %s", domain.ErrNotSupported, g.Name(), name)
	}

	return c, nil
}
