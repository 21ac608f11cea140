package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-service/internal/util"

	"go.uber.org/zap"
)

// Retrying retries ErrTransient failures of the wrapped gateway a bounded
// number of times with linear backoff. Other errors return immediately.
type Retrying struct {
	next     Gateway
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRetrying wraps next. attempts below one are treated as one.
func NewRetrying(next Gateway, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		logger:   util.GetLogger(),
	}
}

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := util.StartSpan(ctx, "Gateway."+op)
	defer span.End()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := fn(ctx)
		util.GatewayCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		if attempt >= r.attempts {
			span.RecordError(err)
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		util.GatewayRetriesTotal.WithLabelValues(op).Inc()
		r.logger.Warn("Gateway call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
}

func (r *Retrying) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	var in *Intent
	err := r.do(ctx, OpCreateIntent, func(ctx context.Context) error {
		var err error
		in, err = r.next.CreateIntent(ctx, params)
		return err
	})
	return in, err
}

func (r *Retrying) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var in *Intent
	err := r.do(ctx, OpGetIntent, func(ctx context.Context) error {
		var err error
		in, err = r.next.GetIntent(ctx, intentID)
		return err
	})
	return in, err
}

func (r *Retrying) ConfirmIntent(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	var in *Intent
	err := r.do(ctx, OpConfirmIntent, func(ctx context.Context) error {
		var err error
		in, err = r.next.ConfirmIntent(ctx, intentID, idempotencyKey)
		return err
	})
	return in, err
}

func (r *Retrying) Refund(ctx context.Context, params RefundParams) (*Refund, error) {
	var ref *Refund
	err := r.do(ctx, OpRefund, func(ctx context.Context) error {
		var err error
		ref, err = r.next.Refund(ctx, params)
		return err
	})
	return ref, err
}
