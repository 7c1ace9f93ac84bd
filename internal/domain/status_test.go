package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatusPredicates(t *testing.T) {
	tests := []struct {
		status     PaymentStatus
		successful bool
		pending    bool
		failed     bool
	}{
		{PaymentStatusPending, false, true, false},
		{PaymentStatusProcessing, false, true, false},
		{PaymentStatusRequiresAction, false, true, false},
		{PaymentStatusRequiresCapture, false, true, false},
		{PaymentStatusSucceeded, true, false, false},
		{PaymentStatusFailed, false, false, true},
		{PaymentStatusCanceled, false, false, true},
		{PaymentStatusExpired, false, false, true},
		{PaymentStatusRefunded, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.successful, tt.status.IsSuccessful())
			assert.Equal(t, tt.pending, tt.status.IsPending())
			assert.Equal(t, tt.failed, tt.status.IsFailed())
		})
	}

	assert.Len(t, PaymentStatuses(), len(tests))
	assert.False(t, PaymentStatus("authorized").Valid())
}

func TestSubscriptionStatusIsTerminal(t *testing.T) {
	terminal := map[SubscriptionStatus]bool{
		SubscriptionStatusCanceled:          true,
		SubscriptionStatusExpired:           true,
		SubscriptionStatusIncompleteExpired: true,
	}

	for _, status := range SubscriptionStatuses() {
		assert.True(t, status.Valid())
		assert.Equal(t, terminal[status], status.IsTerminal(), status)
	}

	assert.False(t, SubscriptionStatus("ended").Valid())
}
