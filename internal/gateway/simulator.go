package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// DeclinedPaymentMethod is always declined at confirmation.
const DeclinedPaymentMethod = "pm_card_declined"

// Simulator is an in-process processor. It honours idempotency keys, declines
// DeclinedPaymentMethod, optionally declines a random fraction of
// confirmations, and can be told to fail the next calls of an operation with
// ErrTransient.
type Simulator struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	keys        map[string]string // idempotency key -> intent or refund id
	refunds     map[string]*Refund
	failures    map[string]int
	calls       map[string]int
	declineRate float64
	rng         *rand.Rand
}

// NewSimulator creates a simulator declining declineRate of confirmations.
func NewSimulator(declineRate float64) *Simulator {
	return &Simulator{
		intents:     make(map[string]*Intent),
		keys:        make(map[string]string),
		refunds:     make(map[string]*Refund),
		failures:    make(map[string]int),
		calls:       make(map[string]int),
		declineRate: declineRate,
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// FailNext makes the next n calls of op fail with ErrTransient.
func (s *Simulator) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// Calls reports how many times op was invoked, failures included.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// SetStatus overwrites an intent's status, standing in for the processor
// settling a charge on its own schedule.
func (s *Simulator) SetStatus(intentID string, status IntentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[intentID]; ok {
		in.Status = status
	}
}

// caller holds s.mu
func (s *Simulator) enter(op string) error {
	s.calls[op]++
	if s.failures[op] > 0 {
		s.failures[op]--
		return fmt.Errorf("%s: %w", op, ErrTransient)
	}
	return nil
}

func (s *Simulator) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpCreateIntent); err != nil {
		return nil, err
	}
	if params.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	if params.IdempotencyKey != "" {
		if id, ok := s.keys[params.IdempotencyKey]; ok {
			cp := *s.intents[id]
			return &cp, nil
		}
	}

	id := "pi_" + uuid.New().String()
	in := &Intent{
		ID:            id,
		Status:        IntentRequiresConfirmation,
		AmountMinor:   params.AmountMinor,
		Currency:      params.Currency,
		CustomerRef:   params.CustomerRef,
		PaymentMethod: params.PaymentMethod,
		ClientSecret:  id + "_secret_" + uuid.New().String()[:8],
		Metadata:      params.Metadata,
	}
	s.intents[id] = in
	if params.IdempotencyKey != "" {
		s.keys[params.IdempotencyKey] = id
	}

	cp := *in
	return &cp, nil
}

func (s *Simulator) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpGetIntent); err != nil {
		return nil, err
	}
	in, ok := s.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *Simulator) ConfirmIntent(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpConfirmIntent); err != nil {
		return nil, err
	}
	in, ok := s.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}

	if in.Status == IntentRequiresConfirmation {
		switch {
		case in.PaymentMethod == DeclinedPaymentMethod:
			in.Status = IntentFailed
			in.FailureReason = "card_declined"
		case s.declineRate > 0 && s.rng.Float64() < s.declineRate:
			in.Status = IntentFailed
			in.FailureReason = "simulated_decline"
		default:
			in.Status = IntentSucceeded
		}
	}

	cp := *in
	return &cp, nil
}

func (s *Simulator) Refund(ctx context.Context, params RefundParams) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpRefund); err != nil {
		return nil, err
	}

	if params.IdempotencyKey != "" {
		if id, ok := s.keys[params.IdempotencyKey]; ok {
			if r, ok := s.refunds[id]; ok {
				cp := *r
				return &cp, nil
			}
		}
	}

	in, ok := s.intents[params.IntentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if in.Status != IntentSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %s", ErrInvalidRequest, in.ID, in.Status)
	}

	remaining := in.AmountMinor - in.RefundedMinor
	amount := params.AmountMinor
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, fmt.Errorf("%w: refund amount %d exceeds remaining %d", ErrInvalidRequest, amount, remaining)
	}

	in.RefundedMinor += amount
	r := &Refund{
		ID:          "re_" + uuid.New().String(),
		IntentID:    in.ID,
		AmountMinor: amount,
		Reason:      params.Reason,
	}
	s.refunds[r.ID] = r
	if params.IdempotencyKey != "" {
		s.keys[params.IdempotencyKey] = r.ID
	}

	cp := *r
	return &cp, nil
}
