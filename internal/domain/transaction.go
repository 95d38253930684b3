package domain

import (
	"time"
)

// Transaction represents an incoming transaction to be scored.
// It is created by the gateway and never mutated after creation.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Counterparty context
	MerchantID string `json:"merchantId"`
	DeviceID   string `json:"deviceId,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PredictRequest is the API request payload for transaction scoring.
type PredictRequest struct {
	TransactionID string                 `json:"transactionId,omitempty"`
	UserID        string                 `json:"userId"`
	Amount        float64                `json:"amount"`
	Currency      string                 `json:"currency"`
	MerchantID    string                 `json:"merchantId"`
	DeviceID      string                 `json:"deviceId,omitempty"`
	IPAddress     string                 `json:"ipAddress,omitempty"`
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// History is the caller-supplied window of the user's prior
	// transactions, most recent first. Optional; when absent the
	// service falls back to persisted history.
	History []*Transaction `json:"history,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *PredictRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return &Transaction{
		ID:         r.TransactionID,
		TenantID:   tenantID,
		UserID:     r.UserID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		MerchantID: r.MerchantID,
		DeviceID:   r.DeviceID,
		IPAddress:  r.IPAddress,
		Timestamp:  ts,
		CreatedAt:  now,
		Metadata:   r.Metadata,
	}
}
