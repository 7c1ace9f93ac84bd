package reconcile

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/mock"
)

var (
	webhookBody    = []byte(`{"id":"evt_1"}`)
	webhookHeaders = http.Header{"Signature": []string{"sig"}}
)

func (s *ServiceTestSuite) expectVerifiedEvent(event *domain.WebhookPayload) {
	s.gateway.On("VerifyWebhookSignature", mock.Anything, webhookBody, webhookHeaders).Return(true)
	s.gateway.On("ParseWebhook", webhookBody, webhookHeaders).Return(event, nil)
	s.events.On("MarkProcessed", mock.Anything, "mock", event.ID).Return(true, nil)
}

func (s *ServiceTestSuite) TestWebhookInvalidSignature() {
	s.gateway.On("VerifyWebhookSignature", mock.Anything, webhookBody, webhookHeaders).Return(false)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.ErrorIs(err, domain.ErrInvalidSignature)
	s.gateway.AssertNotCalled(s.T(), "ParseWebhook", mock.Anything, mock.Anything)
	s.events.AssertNotCalled(s.T(), "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookUnknownDriver() {
	_, err := s.service.HandleWebhook(context.Background(), "unknown", webhookBody, webhookHeaders)

	s.ErrorIs(err, domain.ErrDriverNotFound)
}

func (s *ServiceTestSuite) TestWebhookDuplicateChangesNothing() {
	event := &domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_1", Status: domain.PaymentStatusSucceeded},
	}

	s.gateway.On("VerifyWebhookSignature", mock.Anything, webhookBody, webhookHeaders).Return(true)
	s.gateway.On("ParseWebhook", webhookBody, webhookHeaders).Return(event, nil)
	s.events.On("MarkProcessed", mock.Anything, "mock", "evt_1").Return(false, nil)

	got, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.ErrorIs(err, domain.ErrDuplicateEvent)
	s.Equal(event, got)
	s.transactions.AssertNotCalled(s.T(), "GetByProviderID", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookPaymentEvent() {
	pending := succeededTxn()
	pending.Status = domain.TransactionStatus(domain.PaymentStatusProcessing)

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_1", Status: domain.PaymentStatusSucceeded},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(pending, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusSucceeded)
	})).Return(nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertExpectations(s.T())
	s.gateway.AssertNotCalled(s.T(), "GetPayment", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookPaymentEventWithoutStatusAsksDriver() {
	pending := succeededTxn()
	pending.Status = domain.TransactionStatus(domain.PaymentStatusPending)

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_1"},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(pending, nil)
	s.gateway.On("GetPayment", mock.Anything, "pi_1").Return(&domain.PaymentResult{Status: domain.PaymentStatusFailed}, nil)
	s.transactions.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(next *domain.Transaction) bool {
		return next.Status == domain.TransactionStatus(domain.PaymentStatusFailed)
	})).Return(nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.gateway.AssertCalled(s.T(), "GetPayment", mock.Anything, "pi_1")
}

func (s *ServiceTestSuite) TestWebhookPaymentEventNeverDowngradesRefunds() {
	refunded := succeededTxn()
	refunded.AmountRefunded = 400
	refunded.Status = domain.TransactionStatusPartiallyRefunded

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_1", Status: domain.PaymentStatusSucceeded},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(refunded, nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookForUnknownPaymentIsAcknowledged() {
	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_x", Status: domain.PaymentStatusSucceeded},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_x").Return(nil, domain.ErrRecordNotFound)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.NoError(err)
}

func (s *ServiceTestSuite) TestWebhookRefundSettlesPendingRefund() {
	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:   "evt_1",
		Kind: domain.EventKindRefund,
		Refund: &domain.RefundEvent{
			RefundID:      "re_1",
			TransactionID: "pi_1",
			Status:        domain.RefundStatusSucceeded,
			Amount:        300,
		},
	})
	s.transactions.On("MarkRefundSucceeded", mock.Anything, "re_1").Return(succeededTxn(), nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertNotCalled(s.T(), "RecordRefund", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookRefundFromDashboardIsRecorded() {
	txn := succeededTxn()

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:   "evt_1",
		Kind: domain.EventKindRefund,
		Refund: &domain.RefundEvent{
			RefundID:      "re_9",
			TransactionID: "pi_1",
			Status:        domain.RefundStatusSucceeded,
			Amount:        250,
		},
	})
	s.transactions.On("MarkRefundSucceeded", mock.Anything, "re_9").Return(nil, domain.ErrRefundNotFound)
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(txn, nil)
	s.transactions.On("RecordRefund", mock.Anything, txn, mock.MatchedBy(func(r *domain.Refund) bool {
		return r.ID == "re_9" && r.Amount == 250 && r.Currency == "USD" && r.IsSucceeded()
	})).Return(txn, nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertExpectations(s.T())
}

func (s *ServiceTestSuite) TestWebhookRefundOverLedgerIsLoggedNotRetried() {
	txn := succeededTxn()

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:     "evt_1",
		Kind:   domain.EventKindRefund,
		Refund: &domain.RefundEvent{RefundID: "re_9", TransactionID: "pi_1", Status: domain.RefundStatusSucceeded, Amount: 5000},
	})
	s.transactions.On("MarkRefundSucceeded", mock.Anything, "re_9").Return(nil, domain.ErrRefundNotFound)
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(txn, nil)
	s.transactions.On("RecordRefund", mock.Anything, txn, mock.Anything).Return(nil, domain.ErrRefundExceedsRefundable)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.NoError(err)
	s.events.AssertNotCalled(s.T(), "Forget", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookPendingRefundIsReserved() {
	txn := succeededTxn()

	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:     "evt_1",
		Kind:   domain.EventKindRefund,
		Refund: &domain.RefundEvent{RefundID: "re_1", TransactionID: "pi_1", Status: domain.RefundStatusPending, Amount: 300},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(txn, nil)
	s.transactions.On("RecordRefund", mock.Anything, txn, mock.MatchedBy(func(r *domain.Refund) bool {
		return r.ID == "re_1" && r.Amount == 300 && r.IsOpen()
	})).Return(nil, domain.ErrDuplicateRefund)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertNotCalled(s.T(), "MarkRefundSucceeded", mock.Anything, mock.Anything)
	s.events.AssertNotCalled(s.T(), "Forget", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookFailedRefundReleasesReservation() {
	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:     "evt_1",
		Kind:   domain.EventKindRefund,
		Refund: &domain.RefundEvent{RefundID: "re_1", TransactionID: "pi_1", Status: domain.RefundStatusFailed, Amount: 300},
	})
	s.transactions.On("ReleaseRefund", mock.Anything, "re_1", domain.RefundStatusFailed).Return(succeededTxn(), nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Require().NoError(err)
	s.transactions.AssertExpectations(s.T())
	s.transactions.AssertNotCalled(s.T(), "RecordRefund", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookFailedRefundAfterSuccessIsIgnored() {
	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:     "evt_1",
		Kind:   domain.EventKindRefund,
		Refund: &domain.RefundEvent{RefundID: "re_1", TransactionID: "pi_1", Status: domain.RefundStatusCanceled},
	})
	s.transactions.On("ReleaseRefund", mock.Anything, "re_1", domain.RefundStatusCanceled).Return(nil, domain.ErrInvalidTransition)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.NoError(err)
	s.events.AssertNotCalled(s.T(), "Forget", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceTestSuite) TestWebhookApplyFailureReleasesEvent() {
	s.expectVerifiedEvent(&domain.WebhookPayload{
		ID:      "evt_1",
		Kind:    domain.EventKindPayment,
		Payment: &domain.PaymentEvent{TransactionID: "pi_1", Status: domain.PaymentStatusSucceeded},
	})
	s.transactions.On("GetByProviderID", mock.Anything, "mock", "pi_1").Return(nil, errors.New("connection refused"))
	s.events.On("Forget", mock.Anything, "mock", "evt_1").Return(nil)

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.Error(err)
	s.events.AssertCalled(s.T(), "Forget", mock.Anything, "mock", "evt_1")
}

func (s *ServiceTestSuite) TestWebhookSubscriptionEvents() {
	endedAt := testNow.Add(-time.Hour)

	tests := []struct {
		name      string
		stored    *domain.Subscription
		repoErr   error
		event     domain.SubscriptionEvent
		wantSave  bool
		checkSave func(*domain.Subscription) bool
	}{
		{
			name:     "active subscription goes past due",
			stored:   &domain.Subscription{ID: "sub_1", Status: domain.SubscriptionStatusActive},
			event:    domain.SubscriptionEvent{SubscriptionID: "sub_1", Status: domain.SubscriptionStatusPastDue},
			wantSave: true,
			checkSave: func(sub *domain.Subscription) bool {
				return sub.Status == domain.SubscriptionStatusPastDue && sub.EndedAt == nil
			},
		},
		{
			name:     "cancellation ends the subscription",
			stored:   &domain.Subscription{ID: "sub_1", Status: domain.SubscriptionStatusActive},
			event:    domain.SubscriptionEvent{SubscriptionID: "sub_1", Status: domain.SubscriptionStatusCanceled, EndedAt: &endedAt},
			wantSave: true,
			checkSave: func(sub *domain.Subscription) bool {
				return sub.Status == domain.SubscriptionStatusCanceled &&
					sub.EndedAt != nil && sub.EndedAt.Equal(endedAt)
			},
		},
		{
			name:   "ended subscription is not revived",
			stored: &domain.Subscription{ID: "sub_1", Status: domain.SubscriptionStatusCanceled, EndedAt: &endedAt},
			event:  domain.SubscriptionEvent{SubscriptionID: "sub_1", Status: domain.SubscriptionStatusActive},
		},
		{
			name:     "first sight of a subscription",
			repoErr:  domain.ErrRecordNotFound,
			event:    domain.SubscriptionEvent{SubscriptionID: "sub_2", CustomerID: "cus_1", Status: domain.SubscriptionStatusTrialing},
			wantSave: true,
			checkSave: func(sub *domain.Subscription) bool {
				return sub.ID == "sub_2" && sub.CustomerID == "cus_1" && sub.Status == domain.SubscriptionStatusTrialing
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			event := tt.event
			s.expectVerifiedEvent(&domain.WebhookPayload{
				ID:           "evt_1",
				Kind:         domain.EventKindSubscription,
				Subscription: &event,
			})
			s.subscriptions.On("GetByID", mock.Anything, event.SubscriptionID).Return(tt.stored, tt.repoErr)
			if tt.wantSave {
				s.subscriptions.On("Save", mock.Anything, mock.MatchedBy(tt.checkSave)).Return(nil)
			}

			_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

			s.Require().NoError(err)
			if tt.wantSave {
				s.subscriptions.AssertExpectations(s.T())
			} else {
				s.subscriptions.AssertNotCalled(s.T(), "Save", mock.Anything, mock.Anything)
			}
		})
	}
}

func (s *ServiceTestSuite) TestWebhookOtherEventsAreAcknowledged() {
	s.expectVerifiedEvent(&domain.WebhookPayload{ID: "evt_1", Type: "customer.created", Kind: domain.EventKindOther})

	_, err := s.service.HandleWebhook(context.Background(), "mock", webhookBody, webhookHeaders)

	s.NoError(err)
}
