package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/refund"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockMercadoPagoPayments struct {
	mock.Mock
}

func (m *mockMercadoPagoPayments) Create(ctx context.Context, request payment.Request) (*payment.Response, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*payment.Response)
	return resp, args.Error(1)
}

func (m *mockMercadoPagoPayments) Get(ctx context.Context, id int) (*payment.Response, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*payment.Response)
	return resp, args.Error(1)
}

func (m *mockMercadoPagoPayments) Cancel(ctx context.Context, id int) (*payment.Response, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*payment.Response)
	return resp, args.Error(1)
}

type mockMercadoPagoRefunds struct {
	mock.Mock
}

func (m *mockMercadoPagoRefunds) Create(ctx context.Context, paymentID int) (*refund.Response, error) {
	args := m.Called(ctx, paymentID)
	resp, _ := args.Get(0).(*refund.Response)
	return resp, args.Error(1)
}

func (m *mockMercadoPagoRefunds) CreatePartialRefund(ctx context.Context, paymentID int, amount float64) (*refund.Response, error) {
	args := m.Called(ctx, paymentID, amount)
	resp, _ := args.Get(0).(*refund.Response)
	return resp, args.Error(1)
}

func (m *mockMercadoPagoRefunds) Get(ctx context.Context, paymentID, refundID int) (*refund.Response, error) {
	args := m.Called(ctx, paymentID, refundID)
	resp, _ := args.Get(0).(*refund.Response)
	return resp, args.Error(1)
}

func (m *mockMercadoPagoRefunds) List(ctx context.Context, paymentID int) ([]refund.Response, error) {
	args := m.Called(ctx, paymentID)
	resp, _ := args.Get(0).([]refund.Response)
	return resp, args.Error(1)
}

type MercadoPagoGatewayTestSuite struct {
	suite.Suite
	payments *mockMercadoPagoPayments
	refunds  *mockMercadoPagoRefunds
	gateway  *MercadoPagoGateway
}

func TestMercadoPagoGatewaySuite(t *testing.T) {
	suite.Run(t, new(MercadoPagoGatewayTestSuite))
}

func (s *MercadoPagoGatewayTestSuite) SetupTest() {
	s.payments = new(mockMercadoPagoPayments)
	s.refunds = new(mockMercadoPagoRefunds)
	s.gateway = newMercadoPagoGateway(MercadoPagoConfig{
		AccessToken:     "APP_USR-123",
		WebhookSecret:   "mp-secret",
		NotificationURL: "https://shop.example.com/webhooks/mercadopago",
	}, s.payments, s.refunds, newOptions([]Option{WithClock(func() time.Time {
		return mpSignedAt.Add(time.Minute)
	})}))
}

func (s *MercadoPagoGatewayTestSuite) TearDownTest() {
	s.payments.AssertExpectations(s.T())
	s.refunds.AssertExpectations(s.T())
}

func (s *MercadoPagoGatewayTestSuite) TestCreatePaymentIntentPix() {
	var sent map[string]any
	s.payments.On("Create", mock.Anything, mock.AnythingOfType("payment.Request")).
		Run(func(args mock.Arguments) {
			data, err := json.Marshal(args.Get(1))
			s.Require().NoError(err)
			s.Require().NoError(json.Unmarshal(data, &sent))
		}).
		Return(mpPayment(s.T(), `{
			"id": 1234567,
			"status": "pending",
			"status_detail": "pending_waiting_transfer",
			"transaction_amount": 150.5,
			"currency_id": "BRL",
			"point_of_interaction": {"transaction_data": {"ticket_url": "https://www.mercadopago.com.br/payments/1234567/ticket", "qr_code": "000201"}}
		}`), nil)

	customer := &domain.Customer{ID: "cus_1", Email: "ana@example.com", Name: "Ana Souza"}
	intent, err := s.gateway.CreatePaymentIntent(context.Background(), 15050, "brl", customer, map[string]string{"order_id": "ord-3"})
	s.Require().NoError(err)

	s.Equal("1234567", intent.ID)
	s.Equal("https://www.mercadopago.com.br/payments/1234567/ticket", intent.ClientSecret)
	s.Equal(domain.PaymentStatusPending, intent.Status)
	s.Equal(int64(15050), intent.Amount)
	s.Equal("BRL", intent.Currency)
	s.Equal("cus_1", intent.CustomerID)

	s.Equal(150.5, sent["transaction_amount"])
	s.Equal("pix", sent["payment_method_id"])
	s.Equal("ord-3", sent["external_reference"])
	s.Equal("https://shop.example.com/webhooks/mercadopago", sent["notification_url"])
}

func (s *MercadoPagoGatewayTestSuite) TestChargeRejectedIsFailedResult() {
	s.payments.On("Create", mock.Anything, mock.AnythingOfType("payment.Request")).
		Return(mpPayment(s.T(), `{
			"id": 99,
			"status": "rejected",
			"status_detail": "cc_rejected_insufficient_amount",
			"transaction_amount": 20,
			"currency_id": "MXN"
		}`), nil)

	result, err := s.gateway.Charge(context.Background(), 2000, "MXN", "card-token-1", domain.ChargeOptions{
		Metadata: map[string]string{"payer_email": "ana@example.com"},
	})
	s.Require().NoError(err)

	s.Equal(domain.PaymentStatusFailed, result.Status)
	s.Equal("cc_rejected_insufficient_amount", result.FailureCode)
	s.Equal(int64(2000), result.Amount)
}

func (s *MercadoPagoGatewayTestSuite) TestChargeTransportFailure() {
	s.payments.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer"))

	_, err := s.gateway.Charge(context.Background(), 2000, "MXN", "card-token-1", domain.ChargeOptions{})

	var paymentErr *domain.PaymentError
	s.Require().ErrorAs(err, &paymentErr)
	s.Equal(DriverMercadoPago, paymentErr.Driver)
	s.Equal("charge", paymentErr.Op)
}

func (s *MercadoPagoGatewayTestSuite) TestGetPayment() {
	tests := []struct {
		name   string
		status string
		want   domain.PaymentStatus
	}{
		{name: "approved", status: "approved", want: domain.PaymentStatusSucceeded},
		{name: "authorized", status: "authorized", want: domain.PaymentStatusRequiresCapture},
		{name: "in mediation", status: "in_mediation", want: domain.PaymentStatusProcessing},
		{name: "charged back", status: "charged_back", want: domain.PaymentStatusRefunded},
		{name: "unknown", status: "brand_new", want: domain.PaymentStatusFailed},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.payments = new(mockMercadoPagoPayments)
			s.gateway.payments = s.payments
			s.payments.On("Get", mock.Anything, 42).
				Return(mpPayment(s.T(), `{"id": 42, "status": "`+tt.status+`", "transaction_amount": 10, "currency_id": "ARS"}`), nil)

			result, err := s.gateway.GetPayment(context.Background(), "42")
			s.Require().NoError(err)
			s.Equal(tt.want, result.Status)
			s.Equal(int64(1000), result.Amount)
		})
	}
}

func (s *MercadoPagoGatewayTestSuite) TestGetPaymentNotFound() {
	s.payments.On("Get", mock.Anything, 404404).
		Return(nil, errors.New(`{"message":"Payment not found","error":"not_found","status":404,"cause":[]}`))

	_, err := s.gateway.GetPayment(context.Background(), "404404")
	s.ErrorIs(err, domain.ErrPaymentNotFound)
}

func (s *MercadoPagoGatewayTestSuite) TestNonNumericIDIsValidationError() {
	_, err := s.gateway.GetPayment(context.Background(), "pi_123")
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *MercadoPagoGatewayTestSuite) TestCancel() {
	s.payments.On("Cancel", mock.Anything, 7).
		Return(mpPayment(s.T(), `{"id": 7, "status": "cancelled", "currency_id": "BRL"}`), nil)

	ok, err := s.gateway.Cancel(context.Background(), "7")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *MercadoPagoGatewayTestSuite) TestPartialRefundUsesPaymentCurrency() {
	s.payments.On("Get", mock.Anything, 55).
		Return(mpPayment(s.T(), `{"id": 55, "status": "approved", "transaction_amount": 5000, "currency_id": "CLP"}`), nil)
	s.refunds.On("CreatePartialRefund", mock.Anything, 55, float64(1500)).
		Return(mpRefund(s.T(), `{"id": 9001, "payment_id": 55, "amount": 1500, "status": "approved"}`), nil)

	refund, err := s.gateway.PartialRefund(context.Background(), "55", 1500, "partial return")
	s.Require().NoError(err)

	s.Equal("55/9001", refund.ID)
	s.Equal("55", refund.TransactionID)
	s.Equal(domain.RefundStatusSucceeded, refund.Status)
	s.Equal(int64(1500), refund.Amount)
	s.Equal("CLP", refund.Currency)
	s.Equal("partial return", refund.Reason)
}

func (s *MercadoPagoGatewayTestSuite) TestGetRefundCompositeID() {
	s.refunds.On("Get", mock.Anything, 55, 9001).
		Return(mpRefund(s.T(), `{"id": 9001, "payment_id": 55, "amount": 12.5, "status": "in_process"}`), nil)
	s.payments.On("Get", mock.Anything, 55).
		Return(mpPayment(s.T(), `{"id": 55, "status": "approved", "currency_id": "BRL"}`), nil)

	refund, err := s.gateway.GetRefund(context.Background(), "55/9001")
	s.Require().NoError(err)

	s.Equal(domain.RefundStatusPending, refund.Status)
	s.Equal(int64(1250), refund.Amount)

	_, err = s.gateway.GetRefund(context.Background(), "9001")
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *MercadoPagoGatewayTestSuite) TestRefundsForTransactionUnknownStatusIsPending() {
	s.payments.On("Get", mock.Anything, 55).
		Return(mpPayment(s.T(), `{"id": 55, "status": "approved", "currency_id": "BRL"}`), nil)
	s.refunds.On("List", mock.Anything, 55).Return([]refund.Response{
		*mpRefund(s.T(), `{"id": 1, "payment_id": 55, "amount": 1, "status": "approved"}`),
		*mpRefund(s.T(), `{"id": 2, "payment_id": 55, "amount": 2, "status": "mystery"}`),
	}, nil)

	refunds, err := s.gateway.RefundsForTransaction(context.Background(), "55")
	s.Require().NoError(err)
	s.Require().Len(refunds, 2)
	s.Equal(domain.RefundStatusSucceeded, refunds[0].Status)
	s.Equal(domain.RefundStatusPending, refunds[1].Status)
	s.Equal("55/2", refunds[1].ID)
}

var mpSignedAt = time.Unix(1704908010, 0)

func mpSignedHeaders(dataID, requestID, ts string) http.Header {
	headers := http.Header{}
	headers.Set("x-request-id", requestID)
	manifest := "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
	headers.Set("x-signature", "ts="+ts+",v1="+SignHexHMAC([]byte(manifest), "mp-secret"))
	return headers
}

func (s *MercadoPagoGatewayTestSuite) TestWebhookSignature() {
	payload := []byte(`{"id": 12345, "type": "payment", "action": "payment.updated", "date_created": "2024-05-01T10:00:00Z", "data": {"id": "123456789"}}`)
	headers := mpSignedHeaders("123456789", "bb56a2f1-6aae-46ac-982e-9dcd3581d08e", "1704908010")

	s.True(s.gateway.VerifyWebhookSignature(context.Background(), payload, headers))
	s.True(s.gateway.VerifyWebhookSignature(context.Background(), payload, headers))

	parsed, err := s.gateway.ParseWebhook(payload, headers)
	s.Require().NoError(err)

	s.Equal("123456789/bb56a2f1-6aae-46ac-982e-9dcd3581d08e", parsed.ID)
	s.Equal("payment.updated", parsed.Type)
	s.Equal(mpSignedAt.UTC(), parsed.CreatedAt)
	s.Require().Equal(domain.EventKindPayment, parsed.Kind)
	s.Equal("123456789", parsed.Payment.TransactionID)
	s.Empty(parsed.Payment.Status)

	headers.Set("x-request-id", "another-request")
	s.False(s.gateway.VerifyWebhookSignature(context.Background(), payload, headers))
}

func (s *MercadoPagoGatewayTestSuite) TestWebhookUnsignedFieldsDoNotChangeTheEvent() {
	headers := mpSignedHeaders("123456789", "req-1", "1704908010")

	original := []byte(`{"id": 12345, "type": "payment", "data": {"id": "123456789"}}`)
	tampered := []byte(`{"id": 99999, "type": "subscription_preapproval", "data": {"id": "123456789"}}`)

	s.True(s.gateway.VerifyWebhookSignature(context.Background(), tampered, headers))

	want, err := s.gateway.ParseWebhook(original, headers)
	s.Require().NoError(err)
	got, err := s.gateway.ParseWebhook(tampered, headers)
	s.Require().NoError(err)

	s.Equal(want.ID, got.ID)
	s.Equal(want.Kind, got.Kind)
	s.Equal(want.Payment, got.Payment)

	otherPayment := []byte(`{"id": 12345, "type": "payment", "data": {"id": "987654321"}}`)
	s.False(s.gateway.VerifyWebhookSignature(context.Background(), otherPayment, headers))
}

func (s *MercadoPagoGatewayTestSuite) TestWebhookTimestampTolerance() {
	payload := []byte(`{"type": "payment", "data": {"id": "123456789"}}`)

	tests := []struct {
		name   string
		ts     time.Time
		millis bool
		want   bool
	}{
		{name: "within tolerance", ts: mpSignedAt, want: true},
		{name: "in milliseconds", ts: mpSignedAt, millis: true, want: true},
		{name: "stale", ts: mpSignedAt.Add(-10 * time.Minute), want: false},
		{name: "from the future", ts: mpSignedAt.Add(10 * time.Minute), want: false},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			ts := strconv.FormatInt(tt.ts.Unix(), 10)
			if tt.millis {
				ts = strconv.FormatInt(tt.ts.UnixMilli(), 10)
			}

			headers := mpSignedHeaders("123456789", "req-1", ts)

			s.Equal(tt.want, s.gateway.VerifyWebhookSignature(context.Background(), payload, headers))
		})
	}
}

func (s *MercadoPagoGatewayTestSuite) TestParseWebhookRequiresSignedIdentifiers() {
	_, err := s.gateway.ParseWebhook([]byte(`{"type": "payment", "data": {}}`), mpSignedHeaders("", "req-1", "1704908010"))
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.gateway.ParseWebhook([]byte(`{"type": "payment", "data": {"id": "1"}}`), http.Header{})
	s.ErrorIs(err, domain.ErrValidation)
}

func TestMercadoPagoWithoutTokenIsUnavailable(t *testing.T) {
	gateway, err := NewMercadoPagoGateway(MercadoPagoConfig{})
	require.NoError(t, err)

	assert.False(t, gateway.IsAvailable())

	_, err = gateway.GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrDriverUnavailable)

	assert.False(t, gateway.VerifyWebhookSignature(context.Background(), []byte(`{"data":{"id":"1"}}`), http.Header{}))
}

func mpPayment(t *testing.T, body string) *payment.Response {
	t.Helper()

	var resp payment.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	return &resp
}

func mpRefund(t *testing.T, body string) *refund.Response {
	t.Helper()

	var resp refund.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	return &resp
}
