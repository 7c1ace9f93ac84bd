package domain

import (
	"encoding/json"
	"time"
)

// EventKind discriminates the typed part of a WebhookPayload.
type EventKind string

const (
	EventKindPayment      EventKind = "payment"
	EventKindRefund       EventKind = "refund"
	EventKindSubscription EventKind = "subscription"
	EventKindOther        EventKind = "other"
)

type PaymentEvent struct {
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
}

type RefundEvent struct {
	RefundID      string       `json:"refund_id"`
	TransactionID string       `json:"transaction_id"`
	Status        RefundStatus `json:"status"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
}

type SubscriptionEvent struct {
	SubscriptionID string             `json:"subscription_id"`
	CustomerID     string             `json:"customer_id,omitempty"`
	Status         SubscriptionStatus `json:"status"`
	EndedAt        *time.Time         `json:"ended_at,omitempty"`
}

// WebhookPayload is the provider-neutral form of an inbound notification.
// Exactly one of Payment, Refund or Subscription is set according to Kind;
// Data keeps the provider's event object for fields that are not modeled.
type WebhookPayload struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Driver       string             `json:"driver"`
	Kind         EventKind          `json:"kind"`
	Payment      *PaymentEvent      `json:"payment,omitempty"`
	Refund       *RefundEvent       `json:"refund,omitempty"`
	Subscription *SubscriptionEvent `json:"subscription,omitempty"`
	Data         map[string]any     `json:"data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	Raw          json.RawMessage    `json:"raw,omitempty"`
}
