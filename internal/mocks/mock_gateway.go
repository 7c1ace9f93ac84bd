package mocks

import (
	"context"
	"net/http"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockGateway fakes a driver with refund and webhook support. Its
// ConfirmTransfer and ConfirmDelivery methods let it stand in for the
// offline drivers as well.
type MockGateway struct {
	mock.Mock
	domain.Gateway
	DriverName string
}

func (m *MockGateway) Name() string {
	return m.DriverName
}

func (m *MockGateway) DisplayName() string {
	return m.DriverName
}

func (m *MockGateway) IsAvailable() bool {
	return true
}

func (m *MockGateway) SupportedCurrencies() []string {
	return []string{"USD", "EUR"}
}

func (m *MockGateway) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	customer *domain.Customer,
	metadata map[string]string) (*domain.PaymentIntent, error) {

	args := m.Called(ctx, amount, currency, customer, metadata)
	intent, _ := args.Get(0).(*domain.PaymentIntent)
	return intent, args.Error(1)
}

func (m *MockGateway) Charge(
	ctx context.Context,
	amount int64,
	currency, paymentMethod string,
	opts domain.ChargeOptions) (*domain.PaymentResult, error) {

	args := m.Called(ctx, amount, currency, paymentMethod, opts)
	result, _ := args.Get(0).(*domain.PaymentResult)
	return result, args.Error(1)
}

func (m *MockGateway) CapturesExisting() bool {
	return true
}

func (m *MockGateway) GetPayment(ctx context.Context, transactionID string) (*domain.PaymentResult, error) {
	args := m.Called(ctx, transactionID)
	result, _ := args.Get(0).(*domain.PaymentResult)
	return result, args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, transactionID, reason string) (*domain.Refund, error) {
	args := m.Called(ctx, transactionID, reason)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

func (m *MockGateway) PartialRefund(ctx context.Context, transactionID string, amount int64, reason string) (*domain.Refund, error) {
	args := m.Called(ctx, transactionID, amount, reason)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

func (m *MockGateway) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	args := m.Called(ctx, refundID)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

func (m *MockGateway) RefundsForTransaction(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	args := m.Called(ctx, transactionID)
	refunds, _ := args.Get(0).([]domain.Refund)
	return refunds, args.Error(1)
}

func (m *MockGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	args := m.Called(ctx, payload, headers)
	return args.Bool(0)
}

func (m *MockGateway) ParseWebhook(payload []byte, headers http.Header) (*domain.WebhookPayload, error) {
	args := m.Called(payload, headers)
	parsed, _ := args.Get(0).(*domain.WebhookPayload)
	return parsed, args.Error(1)
}

func (m *MockGateway) WebhookSecret() string {
	return "whsec_mock"
}

func (m *MockGateway) ConfirmTransfer(ctx context.Context, transactionID, reference string, receivedAmount int64) (*domain.PaymentResult, error) {
	args := m.Called(ctx, transactionID, reference, receivedAmount)
	result, _ := args.Get(0).(*domain.PaymentResult)
	return result, args.Error(1)
}

func (m *MockGateway) ConfirmDelivery(ctx context.Context, transactionID string, collectedAmount int64) (*domain.PaymentResult, error) {
	args := m.Called(ctx, transactionID, collectedAmount)
	result, _ := args.Get(0).(*domain.PaymentResult)
	return result, args.Error(1)
}
