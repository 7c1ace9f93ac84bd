package domain

import (
	"context"
	"net/http"
)

// Gateway is the contract every payment driver implements. Amounts are minor
// currency units; currencies are ISO 4217 codes.
type Gateway interface {
	Name() string
	DisplayName() string
	// IsAvailable reports whether the driver has the credentials it needs.
	IsAvailable() bool
	SupportedCurrencies() []string

	CreatePaymentIntent(ctx context.Context, amount int64, currency string, customer *Customer, metadata map[string]string) (*PaymentIntent, error)
	// Charge is not idempotent on its own. Pass ChargeOptions.IdempotencyKey to
	// providers that support one.
	Charge(ctx context.Context, amount int64, currency, paymentMethod string, opts ChargeOptions) (*PaymentResult, error)
	// GetPayment returns ErrPaymentNotFound when the provider has no such
	// transaction.
	GetPayment(ctx context.Context, transactionID string) (*PaymentResult, error)
	Cancel(ctx context.Context, transactionID string) (bool, error)
}

type SupportsCustomers interface {
	CreateCustomer(ctx context.Context, customer *Customer) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customer *Customer) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) (bool, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethodData, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) (bool, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethodData, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (bool, error)
}

type SupportsRefunds interface {
	Refund(ctx context.Context, transactionID, reason string) (*Refund, error)
	PartialRefund(ctx context.Context, transactionID string, amount int64, reason string) (*Refund, error)
	GetRefund(ctx context.Context, refundID string) (*Refund, error)
	RefundsForTransaction(ctx context.Context, transactionID string) ([]Refund, error)
}

type SupportsSubscriptions interface {
	CreatePlan(ctx context.Context, plan SubscriptionPlan) (*SubscriptionPlan, error)
	GetPlan(ctx context.Context, planID string) (*SubscriptionPlan, error)
	CreateSubscription(ctx context.Context, customerID, planID string, opts SubscriptionOptions) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*Subscription, error)
	PauseSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*Subscription, error)
}

// SupportsWebhooks verifies and parses inbound notifications. Both methods
// take the raw request body exactly as received. ParseWebhook output must
// only be trusted after VerifyWebhookSignature returned true.
type SupportsWebhooks interface {
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool
	ParseWebhook(payload []byte, headers http.Header) (*WebhookPayload, error)
	WebhookSecret() string
}
