package domain

import "time"

type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}

	return false
}

type SubscriptionPlan struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"product_id"`
	Name          string   `json:"name"`
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Interval      Interval `json:"interval"`
	IntervalCount int64    `json:"interval_count"`
	TrialDays     int64    `json:"trial_days,omitempty"`
	Features      []string `json:"features,omitempty"`
}

type Subscription struct {
	ID                 string             `json:"id"`
	Driver             string             `json:"driver"`
	CustomerID         string             `json:"customer_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	Amount             int64              `json:"amount"`
	Currency           string             `json:"currency"`
	Interval           Interval           `json:"interval"`
	IntervalCount      int64              `json:"interval_count"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	TrialStart         *time.Time         `json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// IsTerminal reports whether the subscription can no longer change state.
func (s Subscription) IsTerminal() bool {
	return s.EndedAt != nil || s.Status.IsTerminal()
}

func (s Subscription) IsActive(now time.Time) bool {
	if s.EndedAt != nil {
		return false
	}

	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	}

	return s.OnGracePeriod(now)
}

func (s Subscription) OnTrial(now time.Time) bool {
	if s.EndedAt != nil || s.TrialEnd == nil {
		return false
	}

	return now.Before(*s.TrialEnd)
}

// OnGracePeriod reports a subscription that was canceled at period end but whose
// paid period has not run out yet.
func (s Subscription) OnGracePeriod(now time.Time) bool {
	if s.EndedAt != nil || s.CurrentPeriodEnd == nil {
		return false
	}

	if s.CanceledAt == nil && !s.CancelAtPeriodEnd {
		return false
	}

	return now.Before(*s.CurrentPeriodEnd)
}

// Transition returns a copy of s moved to status. Terminal subscriptions are
// returned unchanged with ok=false.
func (s Subscription) Transition(status SubscriptionStatus, at time.Time) (Subscription, bool) {
	if s.IsTerminal() || !status.Valid() {
		return s, false
	}

	next := s
	next.Metadata = CloneMetadata(s.Metadata)
	next.Status = status

	if status == SubscriptionStatusCanceled && next.CanceledAt == nil {
		next.CanceledAt = &at
	}

	if status.IsTerminal() {
		next.EndedAt = &at
	}

	return next, true
}

type SubscriptionOptions struct {
	TrialDays       int64
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

type SubscriptionUpdate struct {
	PlanID            string
	CancelAtPeriodEnd *bool
	Metadata          map[string]string
}
