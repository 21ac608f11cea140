package worker

import (
	"context"
	"fmt"
	"time"

	"parking-service/internal/broker"
	"parking-service/internal/models"
	"parking-service/internal/service"
	"parking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const reconcileLockName = "payment-reconcile"

// Locker is a cross-replica mutex with a lease.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

// PaymentReconciler is the reconciliation pass of the payment orchestrator.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, cutoff time.Time, limit int, pace func(context.Context) error) (service.ReconcileResult, error)
}

// ReconcilerConfig holds reconciler tuning.
type ReconcilerConfig struct {
	Interval   time.Duration
	Grace      time.Duration
	BatchSize  int
	RatePerSec float64
}

// Reconciler periodically repairs payments left pending after a gateway
// call. Only the replica holding the lock runs a pass.
type Reconciler struct {
	payments PaymentReconciler
	locker   Locker
	cfg      ReconcilerConfig
	limiter  *rate.Limiter
	owner    string
	now      func() time.Time
	logger   *zap.Logger
}

// NewReconciler creates a reconciler. locker may be nil for a single
// replica.
func NewReconciler(payments PaymentReconciler, locker Locker, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Reconciler{
		payments: payments,
		locker:   locker,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		owner:    uuid.New().String(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   util.GetLogger(),
	}
}

// Start runs passes every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting payment reconciler", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce runs a single pass. It reports false when another replica holds
// the lock.
func (r *Reconciler) RunOnce(ctx context.Context) (bool, error) {
	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, reconcileLockName, r.owner, r.cfg.Interval)
		if err != nil {
			return false, fmt.Errorf("failed to acquire reconcile lock: %w", err)
		}
		if !ok {
			r.logger.Debug("Reconcile lock held elsewhere, skipping pass")
			return false, nil
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.Background(), reconcileLockName, r.owner); err != nil {
				r.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	cutoff := r.now().Add(-r.cfg.Grace)
	if _, err := r.payments.Reconcile(ctx, cutoff, r.cfg.BatchSize, r.limiter.Wait); err != nil {
		return true, err
	}
	return true, nil
}

// ExpiredSweeper releases lapsed reservations.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ExpirySweeper returns lapsed reservations' spots to available. Readers
// already treat them as available; the sweep keeps stored status tidy.
type ExpirySweeper struct {
	spots    ExpiredSweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewExpirySweeper creates an expiry sweeper
func NewExpirySweeper(spots ExpiredSweeper, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{spots: spots, interval: interval, logger: util.GetLogger()}
}

// Start sweeps every interval until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reservation expiry sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping reservation expiry sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.spots.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// EventLog remembers which events were already delivered.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PushSender delivers a notification to the user's device.
type PushSender interface {
	Send(ctx context.Context, event *models.NotificationEvent) error
}

// MessageSource is a stream of broker messages.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker turns notification events into push deliveries, at
// most once per event id.
type NotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	events       EventLog
	sender       PushSender
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, events EventLog, sender PushSender) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		sender:       sender,
		logger:       util.GetLogger(),
	}

	for _, eventType := range []string{
		models.EventTypeSessionCompleted,
		models.EventTypePaymentSucceeded,
		models.EventTypePaymentFailed,
		models.EventTypePaymentRefunded,
	} {
		w.eventHandler.On(eventType, w.deliver)
	}
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

func (w *NotificationWorker) deliver(ctx context.Context, event *models.NotificationEvent) error {
	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
	}
	if processed {
		w.logger.Debug("Event already delivered", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.sender.Send(ctx, event); err != nil {
		return fmt.Errorf("failed to send push for event %s: %w", event.EventID, err)
	}

	return w.events.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// LogSender stands in for a push provider by logging each delivery.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed push sender
func NewLogSender() *LogSender {
	return &LogSender{logger: util.GetLogger()}
}

func (s *LogSender) Send(ctx context.Context, event *models.NotificationEvent) error {
	s.logger.Info("Push notification",
		zap.String("user_id", event.UserID),
		zap.String("type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.Any("payload", event.Payload))
	return nil
}
