package model

import "time"

type AttemptStatus string

const (
	AttemptStatusAttempting AttemptStatus = "ATTEMPTING"
	AttemptStatusSent       AttemptStatus = "SENT"
	AttemptStatusDelivered  AttemptStatus = "DELIVERED"
	AttemptStatusFailed     AttemptStatus = "FAILED"
	AttemptStatusError      AttemptStatus = "ERROR"
)

// DispatchAttempt records one outbound send for an item.
type DispatchAttempt struct {
	ID           int64         `json:"id"`
	ItemID       int64         `json:"item_id"`
	DeliveryID   string        `json:"delivery_id,omitempty"`
	Message      string        `json:"message"`
	Status       AttemptStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	AttemptedAt  time.Time     `json:"attempted_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// DeliveryStatusUpdate is an asynchronous status report from the channel.
type DeliveryStatusUpdate struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

type BlastSummary struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

type ShareLink struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
