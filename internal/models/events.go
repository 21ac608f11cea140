package models

import "time"

// Event types
const (
	EventTypeSessionCompleted = "SESSION_COMPLETED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentRefunded  = "PAYMENT_REFUNDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent is published after a session or payment transition
// has been committed.
type NotificationEvent struct {
	BaseEvent
	UserID  string                 `json:"user_id"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
