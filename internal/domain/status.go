package domain

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusProcessing      PaymentStatus = "processing"
	PaymentStatusRequiresAction  PaymentStatus = "requires_action"
	PaymentStatusRequiresCapture PaymentStatus = "requires_capture"
	PaymentStatusSucceeded       PaymentStatus = "succeeded"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCanceled        PaymentStatus = "canceled"
	PaymentStatusExpired         PaymentStatus = "expired"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusRequiresAction,
	PaymentStatusRequiresCapture,
	PaymentStatusSucceeded,
	PaymentStatusFailed,
	PaymentStatusCanceled,
	PaymentStatusExpired,
	PaymentStatusRefunded,
}

func PaymentStatuses() []PaymentStatus {
	return append([]PaymentStatus(nil), paymentStatuses...)
}

func (s PaymentStatus) Valid() bool {
	for _, status := range paymentStatuses {
		if s == status {
			return true
		}
	}

	return false
}

func (s PaymentStatus) IsSuccessful() bool {
	return s == PaymentStatusSucceeded
}

func (s PaymentStatus) IsPending() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusRequiresAction, PaymentStatusRequiresCapture:
		return true
	}

	return false
}

func (s PaymentStatus) IsFailed() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusExpired:
		return true
	}

	return false
}

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusExpired           SubscriptionStatus = "expired"
)

var subscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusPaused,
	SubscriptionStatusCanceled,
	SubscriptionStatusUnpaid,
	SubscriptionStatusExpired,
}

func SubscriptionStatuses() []SubscriptionStatus {
	return append([]SubscriptionStatus(nil), subscriptionStatuses...)
}

func (s SubscriptionStatus) Valid() bool {
	for _, status := range subscriptionStatuses {
		if s == status {
			return true
		}
	}

	return false
}

// IsTerminal reports statuses from which a subscription never recovers; a new
// subscription has to be created instead.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusCanceled, SubscriptionStatusExpired, SubscriptionStatusIncompleteExpired:
		return true
	}

	return false
}
