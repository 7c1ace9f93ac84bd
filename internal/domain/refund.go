package domain

import (
	"strings"
	"time"
)

// RefundStatus is intentionally not a PaymentStatus: refund vocabularies are
// narrower and each driver validates provider values against its own
// allow-list (RefundStatusMap).
type RefundStatus string

const (
	RefundStatusPending        RefundStatus = "pending"
	RefundStatusSucceeded      RefundStatus = "succeeded"
	RefundStatusFailed         RefundStatus = "failed"
	RefundStatusCanceled       RefundStatus = "canceled"
	RefundStatusRequiresAction RefundStatus = "requires_action"
)

type Refund struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transaction_id"`
	Status        RefundStatus `json:"status"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Reason        string       `json:"reason,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (r Refund) IsSucceeded() bool {
	return r.Status == RefundStatusSucceeded
}

// IsOpen reports a refund the provider may still settle. Its amount stays
// reserved on the transaction until then.
func (r Refund) IsOpen() bool {
	return r.Status == RefundStatusPending || r.Status == RefundStatusRequiresAction
}

// RefundStatusMap is a per-provider allow-list of native refund statuses.
type RefundStatusMap map[string]RefundStatus

func (m RefundStatusMap) Resolve(native string) (RefundStatus, bool) {
	status, ok := m[strings.ToLower(strings.TrimSpace(native))]
	return status, ok
}
