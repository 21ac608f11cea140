package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-service/internal/gateway"
	"parking-service/internal/models"
	"parking-service/internal/pricing"
	"parking-service/internal/store"
	"parking-service/internal/util"

	"go.uber.org/zap"
)

const defaultRefundReason = "requested_by_customer"

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Checked   int
	Succeeded int
	Failed    int
	Errors    int
}

// PaymentOrchestrator settles completed sessions against the payment
// gateway. The gateway is the source of truth for money movement; local
// records follow it, either inline or through Reconcile.
type PaymentOrchestrator struct {
	store    PaymentStore
	gateway  gateway.Gateway
	notifier Notifier
	currency string
	now      Clock
	logger   *zap.Logger
}

// NewPaymentOrchestrator creates a payment orchestrator. clock may be nil.
func NewPaymentOrchestrator(store PaymentStore, gw gateway.Gateway, notifier Notifier, currency string, clock Clock) *PaymentOrchestrator {
	if clock == nil {
		clock = utcNow
	}
	if currency == "" {
		currency = "usd"
	}
	return &PaymentOrchestrator{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		currency: currency,
		now:      clock,
		logger:   util.GetLogger(),
	}
}

// idempotencyKey is stable across retries of one payment attempt. A failed
// attempt moves the session on to a fresh key.
func idempotencyKey(sessionID string, attempt int) string {
	return fmt.Sprintf("session-%s-attempt-%d", sessionID, attempt)
}

// CreateIntent opens a gateway intent for a completed session's cost and
// records it as pending. Re-invocations return the pending record instead of
// charging twice.
func (o *PaymentOrchestrator) CreateIntent(ctx context.Context, userID, sessionID, paymentMethod string) (*models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.CreateIntent")
	defer span.End()

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}
	if err := requireID("payment_method", paymentMethod); err != nil {
		return nil, err
	}

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, models.ErrNotOwner
	}
	if sess.Status != models.SessionStatusCompleted || sess.Cost == nil {
		return nil, models.ErrSessionNotPayable
	}

	pending, err := o.store.GetPaymentForSession(ctx, sessionID, models.PaymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending payment: %w", err)
	}
	if pending != nil {
		return pending, nil
	}

	failed, err := o.store.CountPayments(ctx, sessionID, models.PaymentStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed payments: %w", err)
	}
	key := idempotencyKey(sessionID, failed+1)
	amount := *sess.Cost

	intent, err := o.gateway.CreateIntent(ctx, gateway.CreateIntentParams{
		AmountMinor:    pricing.ToMinorUnits(amount),
		Currency:       o.currency,
		CustomerRef:    userID,
		PaymentMethod:  paymentMethod,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"session_id": sessionID,
			"user_id":    userID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	now := o.now()
	record, err := o.store.CreatePayment(ctx, &models.PaymentRecord{
		ID:             intent.ID,
		UserID:         userID,
		SessionID:      sessionID,
		Amount:         amount,
		Currency:       o.currency,
		PaymentMethod:  paymentMethod,
		Status:         models.PaymentStatusPending,
		IdempotencyKey: key,
		ClientSecret:   intent.ClientSecret,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	util.PaymentIntentsCreatedTotal.Inc()
	o.logger.Info("Payment intent created",
		zap.String("payment_id", record.ID),
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Float64("amount", amount))

	return record, nil
}

// Confirm settles a pending payment. An intent the gateway already reports
// as succeeded is applied locally without a second confirm call. A declined
// payment comes back with status failed and a nil error; the session stays
// completed and payable.
func (o *PaymentOrchestrator) Confirm(ctx context.Context, userID, sessionID, paymentID string) (*models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.Confirm")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := requireID("payment_id", paymentID); err != nil {
		return nil, err
	}
	record, err := o.Get(ctx, paymentID, userID)
	if err != nil {
		return nil, err
	}
	if sessionID != "" && record.SessionID != sessionID {
		return nil, models.ValidationError{Field: "session_id", Msg: "does not match payment"}
	}

	switch record.Status {
	case models.PaymentStatusSucceeded, models.PaymentStatusRefunded, models.PaymentStatusFailed:
		return record, nil
	}

	intent, err := o.gateway.GetIntent(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment intent: %w", err)
	}

	if intent.Status != gateway.IntentSucceeded && intent.Status != gateway.IntentFailed {
		intent, err = o.gateway.ConfirmIntent(ctx, paymentID, "confirm-"+paymentID)
		if err != nil {
			util.PaymentConfirmationsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to confirm payment intent: %w", err)
		}
	}

	switch intent.Status {
	case gateway.IntentSucceeded:
		return o.applySucceeded(ctx, record)
	case gateway.IntentFailed:
		return o.applyFailed(ctx, record, intent.FailureReason)
	default:
		util.PaymentConfirmationsTotal.WithLabelValues("processing").Inc()
		return record, nil
	}
}

// applySucceeded records gateway success. A local failure here is not the
// caller's problem: the money moved, so the caller sees succeeded and the
// reconciler finishes the write.
func (o *PaymentOrchestrator) applySucceeded(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	if err := o.markSucceeded(ctx, record); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.store.GetPayment(ctx, record.ID)
		}
		util.ReconciliationPendingTotal.Inc()
		o.logger.Error("Failed to record payment success, deferring to reconciliation",
			zap.String("payment_id", record.ID),
			zap.String("session_id", record.SessionID),
			zap.Error(err))
		record.Status = models.PaymentStatusSucceeded
	}
	return record, nil
}

// markSucceeded moves the payment to succeeded and its session to paid in
// one store transition, then notifies.
func (o *PaymentOrchestrator) markSucceeded(ctx context.Context, record *models.PaymentRecord) error {
	now := o.now()
	sessionPaid, err := o.store.MarkPaymentSucceeded(ctx, record.ID, now)
	if err != nil {
		return err
	}

	record.Status = models.PaymentStatusSucceeded
	record.FailureReason = nil
	record.SucceededAt = &now
	record.UpdatedAt = now

	util.PaymentConfirmationsTotal.WithLabelValues("succeeded").Inc()
	o.logger.Info("Payment succeeded",
		zap.String("payment_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.Bool("session_paid", sessionPaid),
		zap.Float64("amount", record.Amount))

	o.notify(record.UserID, models.EventTypePaymentSucceeded, map[string]interface{}{
		"payment_id": record.ID,
		"session_id": record.SessionID,
		"amount":     record.Amount,
	})
	return nil
}

func (o *PaymentOrchestrator) applyFailed(ctx context.Context, record *models.PaymentRecord, reason string) (*models.PaymentRecord, error) {
	if reason == "" {
		reason = "declined"
	}
	now := o.now()
	if err := o.store.MarkPaymentFailed(ctx, record.ID, reason, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.store.GetPayment(ctx, record.ID)
		}
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}

	record.Status = models.PaymentStatusFailed
	record.FailureReason = &reason
	record.UpdatedAt = now

	util.PaymentConfirmationsTotal.WithLabelValues("failed").Inc()
	o.logger.Warn("Payment failed",
		zap.String("payment_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("reason", reason))

	o.notify(record.UserID, models.EventTypePaymentFailed, map[string]interface{}{
		"payment_id": record.ID,
		"session_id": record.SessionID,
		"reason":     reason,
	})
	return record, nil
}

// Refund returns money for a succeeded payment. amount zero refunds in full.
func (o *PaymentOrchestrator) Refund(ctx context.Context, userID, paymentID string, amount float64, reason string) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.Refund")
	defer span.End()

	if err := requireID("payment_id", paymentID); err != nil {
		return nil, err
	}
	record, err := o.Get(ctx, paymentID, userID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.PaymentStatusSucceeded {
		return nil, models.ErrPaymentNotRefundable
	}

	if amount == 0 {
		amount = record.Amount
	}
	amount = pricing.Round(amount)
	if amount <= 0 || amount > record.Amount {
		return nil, models.ValidationError{
			Field: "amount",
			Msg:   fmt.Sprintf("must be greater than 0 and at most %.2f", record.Amount),
		}
	}
	if reason == "" {
		reason = defaultRefundReason
	}

	gwRefund, err := o.gateway.Refund(ctx, gateway.RefundParams{
		IntentID:       paymentID,
		AmountMinor:    pricing.ToMinorUnits(amount),
		Reason:         reason,
		IdempotencyKey: "refund-" + paymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	refund := &models.Refund{
		ID:        gwRefund.ID,
		PaymentID: paymentID,
		Amount:    pricing.FromMinorUnits(gwRefund.AmountMinor),
		Reason:    reason,
		CreatedAt: o.now(),
	}
	if err := o.store.MarkPaymentRefunded(ctx, refund); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			// The gateway refund is keyed by payment, so a retry returns the
			// same refund and lands this write.
			o.logger.Error("Failed to record gateway refund",
				zap.String("payment_id", paymentID),
				zap.String("refund_id", refund.ID),
				zap.Error(err))
			return nil, fmt.Errorf("failed to record refund: %w", err)
		}
		// A concurrent refund with the same idempotency key already landed.
		current, getErr := o.store.GetPayment(ctx, paymentID)
		if getErr != nil {
			return nil, getErr
		}
		if current.RefundID == nil || *current.RefundID != refund.ID {
			return nil, models.ErrPaymentNotRefundable
		}
		return refund, nil
	}

	util.PaymentRefundsTotal.Inc()
	o.logger.Info("Payment refunded",
		zap.String("payment_id", paymentID),
		zap.String("refund_id", refund.ID),
		zap.Float64("amount", refund.Amount))

	o.notify(record.UserID, models.EventTypePaymentRefunded, map[string]interface{}{
		"payment_id": paymentID,
		"refund_id":  refund.ID,
		"amount":     refund.Amount,
	})
	return refund, nil
}

// Get returns one of the caller's payments.
func (o *PaymentOrchestrator) Get(ctx context.Context, paymentID, userID string) (*models.PaymentRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	record, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, models.ErrNotOwner
	}
	return record, nil
}

// List returns the caller's payment history, newest first.
func (o *PaymentOrchestrator) List(ctx context.Context, userID string, limit, offset int) ([]models.PaymentRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}
	return o.store.ListPayments(ctx, userID, limit, offset)
}

// Reconcile brings payments still pending at cutoff in line with the
// gateway. It never confirms or charges; it only reads gateway state. Each
// checked record moves behind the rest of the pending set, so repeated passes
// cover every pending payment however many stay unresolved. pace, if set, is
// called before each gateway read.
func (o *PaymentOrchestrator) Reconcile(ctx context.Context, cutoff time.Time, limit int, pace func(context.Context) error) (ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.Reconcile")
	defer span.End()

	var result ReconcileResult
	pending, err := o.store.ListPaymentsByStatus(ctx, models.PaymentStatusPending, cutoff, limit)
	if err != nil {
		return result, fmt.Errorf("failed to list pending payments: %w", err)
	}

	for i := range pending {
		record := &pending[i]
		if pace != nil {
			if err := pace(ctx); err != nil {
				return result, err
			}
		}
		result.Checked++
		if err := o.store.MarkPaymentReconciled(ctx, record.ID, o.now()); err != nil {
			o.logger.Warn("Failed to stamp reconciliation check",
				zap.String("payment_id", record.ID),
				zap.Error(err))
		}

		intent, err := o.gateway.GetIntent(ctx, record.ID)
		if err != nil {
			result.Errors++
			o.logger.Warn("Reconciliation could not read intent",
				zap.String("payment_id", record.ID),
				zap.Error(err))
			continue
		}

		switch intent.Status {
		case gateway.IntentSucceeded:
			if err := o.markSucceeded(ctx, record); err != nil {
				if !errors.Is(err, store.ErrConflict) {
					result.Errors++
					o.logger.Error("Reconciliation could not record payment success",
						zap.String("payment_id", record.ID),
						zap.Error(err))
				}
				continue
			}
			result.Succeeded++
			util.ReconciliationRepairsTotal.WithLabelValues("succeeded").Inc()
		case gateway.IntentFailed:
			if _, err := o.applyFailed(ctx, record, intent.FailureReason); err != nil {
				result.Errors++
				continue
			}
			result.Failed++
			util.ReconciliationRepairsTotal.WithLabelValues("failed").Inc()
		}
	}

	if result.Checked > 0 {
		o.logger.Info("Reconciliation pass finished",
			zap.Int("checked", result.Checked),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("errors", result.Errors))
	}
	return result, nil
}

func (o *PaymentOrchestrator) notify(userID, eventType string, payload map[string]interface{}) {
	if o.notifier != nil {
		o.notifier.Notify(userID, eventType, payload)
	}
}
