package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/mocks"
	"github.com/metinatakli/paygate/internal/payment"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var testNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type ServiceTestSuite struct {
	suite.Suite
	service       *Service
	gateway       *mocks.MockGateway
	transactions  *mocks.MockTransactionRepo
	subscriptions *mocks.MockSubscriptionRepo
	events        *mocks.MockEventStore
}

func (s *ServiceTestSuite) SetupTest() {
	s.gateway = &mocks.MockGateway{DriverName: "mock"}
	s.transactions = new(mocks.MockTransactionRepo)
	s.subscriptions = new(mocks.MockSubscriptionRepo)
	s.events = new(mocks.MockEventStore)

	s.service = NewService(
		payment.NewManagerWith("mock", s.gateway),
		s.transactions,
		s.subscriptions,
		s.events,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	s.service.now = func() time.Time { return testNow }
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func succeededTxn() *domain.Transaction {
	return &domain.Transaction{
		ID:         "txn-1",
		Driver:     "mock",
		ProviderID: "pi_1",
		Amount:     1000,
		Currency:   "USD",
		Status:     domain.TransactionStatus(domain.PaymentStatusSucceeded),
		Metadata:   map[string]string{"order_id": "42"},
	}
}

func (s *ServiceTestSuite) TestCheckout() {
	intent := &domain.PaymentIntent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Status:       domain.PaymentStatusRequiresAction,
		Amount:       1000,
		Currency:     "USD",
		Driver:       "mock",
		Metadata:     map[string]string{"order_id": "42"},
	}

	s.gateway.On("CreatePaymentIntent", mock.Anything, int64(1000), "usd", (*domain.Customer)(nil), map[string]string{"order_id": "42"}).
		Return(intent, nil)
	s.transactions.On("Create", mock.Anything, mock.MatchedBy(func(txn *domain.Transaction) bool {
		return txn.ID != "" &&
			txn.Driver == "mock" &&
			txn.ProviderID == "pi_1" &&
			txn.Amount == 1000 &&
			txn.AmountRefunded == 0 &&
			txn.Status == domain.TransactionStatus(domain.PaymentStatusRequiresAction) &&
			txn.CreatedAt.Equal(testNow)
	})).Return(nil)

	got, txn, err := s.service.Checkout(context.Background(), CheckoutRequest{
		Amount:   1000,
		Currency: "usd",
		Metadata: map[string]string{"order_id": "42"},
	})

	s.Require().NoError(err)
	s.Equal(intent, got)
	s.Equal("42", txn.Metadata["order_id"])
	s.transactions.AssertExpectations(s.T())
}

func (s *ServiceTestSuite) TestCheckoutUnknownDriver() {
	_, _, err := s.service.Checkout(context.Background(), CheckoutRequest{Driver: "nope", Amount: 1, Currency: "USD"})

	s.ErrorIs(err, domain.ErrDriverNotFound)
	s.transactions.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestCheckoutDoesNotRecordFailedIntent() {
	s.gateway.On("CreatePaymentIntent", mock.Anything, int64(1000), "XYZ", (*domain.Customer)(nil), map[string]string(nil)).
		Return(nil, domain.ErrUnsupportedCurrency)

	_, _, err := s.service.Checkout(context.Background(), CheckoutRequest{Amount: 1000, Currency: "XYZ"})

	s.ErrorIs(err, domain.ErrValidation)
	s.transactions.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestRefundSecondRefundExceedsRemainder() {
	first := succeededTxn()
	afterFirst := succeededTxn()
	afterFirst.AmountRefunded = 500
	afterFirst.Status = domain.TransactionStatusPartiallyRefunded

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(first, nil).Once()
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(afterFirst, nil).Once()

	refund := &domain.Refund{ID: "re_1", TransactionID: "pi_1", Status: domain.RefundStatusSucceeded, Amount: 500, Currency: "USD"}
	s.gateway.On("PartialRefund", mock.Anything, "pi_1", int64(500), "requested_by_customer").Return(refund, nil).Once()
	s.transactions.On("RecordRefund", mock.Anything, first, refund).Return(afterFirst, nil).Once()

	got, updated, err := s.service.Refund(context.Background(), "txn-1", 500, "requested_by_customer")
	s.Require().NoError(err)
	s.Equal("re_1", got.ID)
	s.Equal(int64(500), updated.AmountRefunded)
	s.Equal(domain.TransactionStatusPartiallyRefunded, updated.Status)

	_, _, err = s.service.Refund(context.Background(), "txn-1", 600, "requested_by_customer")
	s.ErrorIs(err, domain.ErrRefundExceedsRefundable)
	s.ErrorContains(err, "refundable 500")

	s.gateway.AssertNumberOfCalls(s.T(), "PartialRefund", 1)
	s.transactions.AssertNumberOfCalls(s.T(), "RecordRefund", 1)
}

func (s *ServiceTestSuite) TestRefundPendingRefundHoldsItsAmount() {
	first := succeededTxn()
	afterFirst := succeededTxn()
	afterFirst.AmountReserved = 500

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(first, nil).Once()
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(afterFirst, nil).Once()

	refund := &domain.Refund{ID: "re_1", TransactionID: "pi_1", Status: domain.RefundStatusPending, Amount: 500, Currency: "USD"}
	s.gateway.On("PartialRefund", mock.Anything, "pi_1", int64(500), "").Return(refund, nil).Once()
	s.transactions.On("RecordRefund", mock.Anything, first, refund).Return(afterFirst, nil).Once()

	_, updated, err := s.service.Refund(context.Background(), "txn-1", 500, "")
	s.Require().NoError(err)
	s.Equal(int64(0), updated.AmountRefunded)
	s.Equal(int64(500), updated.AmountReserved)

	_, _, err = s.service.Refund(context.Background(), "txn-1", 600, "")
	s.ErrorIs(err, domain.ErrRefundExceedsRefundable)
	s.ErrorContains(err, "refundable 500")

	s.gateway.AssertNumberOfCalls(s.T(), "PartialRefund", 1)
	s.transactions.AssertNumberOfCalls(s.T(), "RecordRefund", 1)
}

func (s *ServiceTestSuite) TestRefundWholeAmountUsesFullRefund() {
	txn := succeededTxn()
	refunded := succeededTxn()
	refunded.AmountRefunded = 1000
	refunded.Status = domain.TransactionStatus(domain.PaymentStatusRefunded)

	refund := &domain.Refund{ID: "re_2", Status: domain.RefundStatusPending}

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("Refund", mock.Anything, "pi_1", "").Return(refund, nil)
	s.transactions.On("RecordRefund", mock.Anything, txn, mock.MatchedBy(func(r *domain.Refund) bool {
		return r.Amount == 1000 && r.Currency == "USD"
	})).Return(refunded, nil)

	got, _, err := s.service.Refund(context.Background(), "txn-1", 0, "")

	s.Require().NoError(err)
	s.Equal(int64(1000), got.Amount)
	s.gateway.AssertNotCalled(s.T(), "PartialRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestRefundRejectedBeforeProviderCall() {
	pending := succeededTxn()
	pending.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	exhausted := succeededTxn()
	exhausted.AmountRefunded = 1000
	exhausted.Status = domain.TransactionStatus(domain.PaymentStatusRefunded)

	tests := []struct {
		name    string
		txn     *domain.Transaction
		repoErr error
		amount  int64
		wantErr error
	}{
		{name: "negative amount", txn: succeededTxn(), amount: -5, wantErr: domain.ErrInvalidAmount},
		{name: "more than charged", txn: succeededTxn(), amount: 1001, wantErr: domain.ErrRefundExceedsRefundable},
		{name: "nothing left", txn: exhausted, amount: 0, wantErr: domain.ErrNothingToRefund},
		{name: "not yet paid", txn: pending, amount: 100, wantErr: domain.ErrInvalidTransition},
		{name: "unknown transaction", repoErr: domain.ErrRecordNotFound, amount: 100, wantErr: domain.ErrPaymentNotFound},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.transactions.On("GetByID", mock.Anything, "txn-1").Return(tt.txn, tt.repoErr)

			_, _, err := s.service.Refund(context.Background(), "txn-1", tt.amount, "")

			s.ErrorIs(err, tt.wantErr)
			s.gateway.AssertNotCalled(s.T(), "PartialRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			s.gateway.AssertNotCalled(s.T(), "Refund", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func (s *ServiceTestSuite) TestRefundOnDriverWithoutRefunds() {
	cod, err := payment.NewCODGateway(payment.CODConfig{Enabled: true})
	s.Require().NoError(err)

	s.service.drivers = payment.NewManagerWith("", cod)

	txn := succeededTxn()
	txn.Driver = payment.DriverCOD
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)

	_, _, err = s.service.Refund(context.Background(), "txn-1", 100, "")

	s.ErrorIs(err, domain.ErrNotSupported)
}

func (s *ServiceTestSuite) TestRefundRecordFailureStillReturnsRefund() {
	txn := succeededTxn()
	refund := &domain.Refund{ID: "re_3", Status: domain.RefundStatusSucceeded, Amount: 100}

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("PartialRefund", mock.Anything, "pi_1", int64(100), "").Return(refund, nil)
	s.transactions.On("RecordRefund", mock.Anything, txn, refund).Return(nil, errors.New("connection refused"))

	got, updated, err := s.service.Refund(context.Background(), "txn-1", 100, "")

	s.Error(err)
	s.Equal(refund, got)
	s.Nil(updated)
}

func (s *ServiceTestSuite) TestCapture() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusRequiresCapture)
	txn.CustomerID = "cus_1"

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("Charge", mock.Anything, int64(1000), "USD", "pi_1", domain.ChargeOptions{
		CustomerID:     "cus_1",
		IdempotencyKey: "capture-txn-1",
		ReturnURL:      "https://shop.example/return",
		Metadata:       map[string]string{"order_id": "42"},
	}).Return(&domain.PaymentResult{TransactionID: "pi_1", Status: domain.PaymentStatusSucceeded}, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusSucceeded)
	})).Return(nil)

	got, err := s.service.Capture(context.Background(), "txn-1", "https://shop.example/return")

	s.Require().NoError(err)
	s.True(got.PaymentStatus().IsSuccessful())
}

func (s *ServiceTestSuite) TestCaptureRejected() {
	tests := []struct {
		name    string
		status  domain.PaymentStatus
		driver  string
		wantErr error
	}{
		{name: "already paid", status: domain.PaymentStatusSucceeded, driver: "mock", wantErr: domain.ErrInvalidTransition},
		{name: "already failed", status: domain.PaymentStatusFailed, driver: "mock", wantErr: domain.ErrInvalidTransition},
		{name: "offline driver", status: domain.PaymentStatusPending, driver: payment.DriverCOD, wantErr: domain.ErrNotSupported},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			cod, err := payment.NewCODGateway(payment.CODConfig{Enabled: true})
			s.Require().NoError(err)
			s.service.drivers = payment.NewManagerWith("mock", s.gateway, cod)

			txn := succeededTxn()
			txn.Status = domain.TransactionStatus(tt.status)
			txn.Driver = tt.driver
			s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)

			_, err = s.service.Capture(context.Background(), "txn-1", "")

			s.ErrorIs(err, tt.wantErr)
			s.gateway.AssertNotCalled(s.T(), "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
		})
	}
}

func (s *ServiceTestSuite) TestCancel() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusRequiresAction)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("Cancel", mock.Anything, "pi_1").Return(true, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusCanceled) &&
			next.UpdatedAt.Equal(testNow)
	})).Return(nil)

	got, err := s.service.Cancel(context.Background(), "txn-1")

	s.Require().NoError(err)
	s.Equal(domain.TransactionStatus(domain.PaymentStatusCanceled), got.Status)
}

func (s *ServiceTestSuite) TestCancelRefusedByProvider() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("Cancel", mock.Anything, "pi_1").Return(false, nil)

	_, err := s.service.Cancel(context.Background(), "txn-1")

	s.ErrorIs(err, domain.ErrInvalidTransition)
	s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestCancelSucceededPayment() {
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(succeededTxn(), nil)

	_, err := s.service.Cancel(context.Background(), "txn-1")

	s.ErrorIs(err, domain.ErrInvalidTransition)
	s.gateway.AssertNotCalled(s.T(), "Cancel", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestSync() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusProcessing)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("GetPayment", mock.Anything, "pi_1").Return(&domain.PaymentResult{
		TransactionID: "pi_1",
		Status:        domain.PaymentStatusFailed,
		FailureCode:   "card_declined",
	}, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusFailed) &&
			next.Metadata["failure_code"] == "card_declined" &&
			next.Metadata["order_id"] == "42" &&
			next.UpdatedAt.Equal(testNow)
	})).Return(nil)

	got, err := s.service.Sync(context.Background(), "txn-1")

	s.Require().NoError(err)
	s.Equal(domain.TransactionStatus(domain.PaymentStatusFailed), got.Status)
	s.Equal(domain.TransactionStatus(domain.PaymentStatusProcessing), txn.Status)
}

func (s *ServiceTestSuite) TestSyncWithoutChangeDoesNotWrite() {
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(succeededTxn(), nil)
	s.gateway.On("GetPayment", mock.Anything, "pi_1").Return(&domain.PaymentResult{Status: domain.PaymentStatusSucceeded}, nil)

	_, err := s.service.Sync(context.Background(), "txn-1")

	s.Require().NoError(err)
	s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestSyncKeepsRefundState() {
	txn := succeededTxn()
	txn.AmountRefunded = 300
	txn.Status = domain.TransactionStatusPartiallyRefunded

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("GetPayment", mock.Anything, "pi_1").Return(&domain.PaymentResult{Status: domain.PaymentStatusSucceeded}, nil)

	got, err := s.service.Sync(context.Background(), "txn-1")

	s.Require().NoError(err)
	s.Equal(domain.TransactionStatusPartiallyRefunded, got.Status)
	s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestConfirmTransfer() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("ConfirmTransfer", mock.Anything, "pi_1", "BT-1", int64(1200)).Return(&domain.PaymentResult{
		Status:   domain.PaymentStatusSucceeded,
		Metadata: map[string]string{payment.MetaOverpaid: "200"},
	}, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusSucceeded) &&
			next.Metadata[payment.MetaOverpaid] == "200"
	})).Return(nil)

	got, err := s.service.ConfirmTransfer(context.Background(), "txn-1", "BT-1", 1200)

	s.Require().NoError(err)
	s.True(got.PaymentStatus().IsSuccessful())
}

func (s *ServiceTestSuite) TestConfirmDeliveryShortCollection() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("ConfirmDelivery", mock.Anything, "pi_1", int64(900)).Return(&domain.PaymentResult{
		Status:      domain.PaymentStatusFailed,
		FailureCode: "short_collection",
	}, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.Anything).Return(nil)

	got, err := s.service.ConfirmDelivery(context.Background(), "txn-1", 900)

	s.Require().NoError(err)
	s.Equal(domain.TransactionStatus(domain.PaymentStatusFailed), got.Status)
	s.Equal("short_collection", got.Metadata["failure_code"])
}

func (s *ServiceTestSuite) TestConfirmErrorsLeaveLedgerAlone() {
	txn := succeededTxn()
	txn.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(txn, nil)
	s.gateway.On("ConfirmTransfer", mock.Anything, "pi_1", "WRONG", int64(1000)).Return(nil, domain.ErrReferenceMismatch)

	_, err := s.service.ConfirmTransfer(context.Background(), "txn-1", "WRONG", 1000)

	s.ErrorIs(err, domain.ErrReferenceMismatch)
	s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestTransactionWithRefunds() {
	s.transactions.On("GetByID", mock.Anything, "txn-1").Return(succeededTxn(), nil)
	s.transactions.On("ListRefunds", mock.Anything, "txn-1").Return([]domain.Refund{{ID: "re_1", Amount: 100}}, nil)

	txn, refunds, err := s.service.Transaction(context.Background(), "txn-1")

	s.Require().NoError(err)
	s.Equal("txn-1", txn.ID)
	s.Len(refunds, 1)
}
