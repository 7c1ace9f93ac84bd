package domain

import (
	"encoding/json"
	"time"
)

type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       PaymentStatus     `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Driver       string            `json:"driver"`
	CustomerID   string            `json:"customer_id,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Raw          json.RawMessage   `json:"raw,omitempty"`
}

type PaymentResult struct {
	TransactionID   string            `json:"transaction_id"`
	Status          PaymentStatus     `json:"status"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Driver          string            `json:"driver"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	FailureCode     string            `json:"failure_code,omitempty"`
	FailureMessage  string            `json:"failure_message,omitempty"`
	ReceiptURL      string            `json:"receipt_url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Raw             json.RawMessage   `json:"raw,omitempty"`
}

func (r PaymentResult) IsSuccessful() bool {
	return r.Status.IsSuccessful()
}

func (r PaymentResult) IsPending() bool {
	return r.Status.IsPending()
}

func (r PaymentResult) IsFailed() bool {
	return r.Status.IsFailed()
}

// ChargeOptions carries the optional inputs of Gateway.Charge. IdempotencyKey
// is forwarded to providers that support one; the gateway layer itself never
// de-duplicates charges.
type ChargeOptions struct {
	CustomerID     string
	IdempotencyKey string
	Description    string
	ReturnURL      string
	ManualCapture  bool
	Country        string
	Metadata       map[string]string
}

type PaymentMethodData struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Brand      string `json:"brand,omitempty"`
	Last4      string `json:"last4,omitempty"`
	ExpMonth   int64  `json:"exp_month,omitempty"`
	ExpYear    int64  `json:"exp_year,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

// CloneMetadata returns a copy so drivers never alias caller maps.
func CloneMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}

	return out
}
