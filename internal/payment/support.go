package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/metinatakli/paygate/internal/payment"

var sensitiveKeys = []string{
	"secret", "token", "key", "password", "authorization", "card", "iban", "signature",
}

// TransactionReader resolves a stored transaction by the id a driver issued
// for it. The offline drivers read their own pending payments back through it.
type TransactionReader interface {
	GetByProviderID(ctx context.Context, driver, providerID string) (*domain.Transaction, error)
}

// Options are the collaborators shared by every driver.
type Options struct {
	Logger       *slog.Logger
	HTTPClient   *http.Client
	Now          func() time.Time
	Transactions TransactionReader
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func WithTransactions(reader TransactionReader) Option {
	return func(o *Options) {
		o.Transactions = reader
	}
}

func newOptions(opts []Option) Options {
	o := Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Now:        time.Now,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Support bundles the helpers drivers share: currency validation, redacted
// error logging and call instrumentation.
type Support struct {
	driver     string
	currencies []string
	logger     *slog.Logger
	now        func() time.Time
	tracer     trace.Tracer
	calls      metric.Int64Counter
}

func NewSupport(driver string, currencies []string, opts Options) *Support {
	normalized := make([]string, 0, len(currencies))
	for _, c := range currencies {
		normalized = append(normalized, domain.NormalizeCurrency(c))
	}

	calls, err := otel.Meter(instrumentationName).Int64Counter(
		"paygate.driver.calls",
		metric.WithDescription("Number of payment driver operations"),
	)
	if err != nil {
		opts.Logger.Warn("failed to create driver call counter", "driver", driver, "error", err)
	}

	return &Support{
		driver:     driver,
		currencies: normalized,
		logger:     opts.Logger.With("driver", driver),
		now:        opts.Now,
		tracer:     otel.Tracer(instrumentationName),
		calls:      calls,
	}
}

func (s *Support) Currencies() []string {
	return append([]string(nil), s.currencies...)
}

// Validate checks amount and currency before any provider call and returns the
// normalized currency code.
func (s *Support) Validate(amount int64, currency string) (string, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return "", err
	}

	return domain.ValidateCurrency(s.currencies, currency)
}

// Start opens a span for op. The returned func records the outcome and must be
// called with the operation's final error.
func (s *Support) Start(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, s.driver+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.driver", s.driver)),
	)

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s.calls != nil {
			s.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("driver", s.driver),
				attribute.String("operation", op),
				attribute.String("outcome", outcome),
			))
		}
	}
}

// Fail logs a transport or integration failure with redacted context and
// returns it as a *domain.PaymentError. Errors that already are validation,
// not-found or payment errors pass through untouched.
func (s *Support) Fail(ctx context.Context, op string, err error, fields map[string]any) error {
	if err == nil {
		return nil
	}

	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) || passthrough(err) {
		return err
	}

	redacted := Redact(fields)
	s.logger.ErrorContext(ctx, "payment driver call failed",
		"operation", op,
		"error", err.Error(),
		"context", redacted,
	)

	return domain.NewPaymentError(s.driver, op, err, redacted)
}

func (s *Support) Logger() *slog.Logger {
	return s.logger
}

func (s *Support) Now() time.Time {
	return s.now()
}

func passthrough(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrPaymentNotFound,
		domain.ErrRefundNotFound,
		domain.ErrCustomerNotFound,
		domain.ErrSubscriptionNotFound,
		domain.ErrPlanNotFound,
		domain.ErrDriverUnavailable,
		domain.ErrNotSupported,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// Redact returns a copy of fields with credential-like values masked.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitive(k) {
			out[k] = "[REDACTED]"
			continue
		}

		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}

		out[k] = v
	}

	return out
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}

	return false
}
