// Package gateway abstracts the external payment processor. The processor is
// the source of truth for whether money moved.
package gateway

import (
	"context"
	"errors"
)

// IntentStatus is the processor-side state of a payment intent.
type IntentStatus string

const (
	IntentRequiresConfirmation IntentStatus = "requires_confirmation"
	IntentProcessing           IntentStatus = "processing"
	IntentSucceeded            IntentStatus = "succeeded"
	IntentFailed               IntentStatus = "failed"
)

// Operation names, used for metrics labels and fault injection.
const (
	OpCreateIntent  = "create_intent"
	OpGetIntent     = "get_intent"
	OpConfirmIntent = "confirm_intent"
	OpRefund        = "refund"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, resets, 5xx.
	ErrTransient = errors.New("gateway: transient failure")
	// ErrIntentNotFound is returned for unknown intent IDs.
	ErrIntentNotFound = errors.New("gateway: intent not found")
	// ErrInvalidRequest is returned when the processor rejects parameters.
	ErrInvalidRequest = errors.New("gateway: invalid request")
)

// Intent is a processor-side pending or settled charge.
type Intent struct {
	ID            string            `json:"id"`
	Status        IntentStatus      `json:"status"`
	AmountMinor   int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerRef   string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	ClientSecret  string            `json:"client_secret"`
	FailureReason string            `json:"failure_reason,omitempty"`
	RefundedMinor int64             `json:"amount_refunded"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateIntentParams describes a new intent.
type CreateIntentParams struct {
	AmountMinor    int64
	Currency       string
	CustomerRef    string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundParams describes a refund. AmountMinor zero means the full
// remaining amount.
type RefundParams struct {
	IntentID       string
	AmountMinor    int64
	Reason         string
	IdempotencyKey string
}

// Refund is a processor-side refund.
type Refund struct {
	ID          string `json:"id"`
	IntentID    string `json:"payment_intent"`
	AmountMinor int64  `json:"amount"`
	Reason      string `json:"reason"`
}

// Gateway is the processor contract. Every call is safe to retry when it
// carries an idempotency key.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)
	Refund(ctx context.Context, params RefundParams) (*Refund, error)
}
