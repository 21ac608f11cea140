package notify

import (
	"context"
	"sync"
	"time"

	"parking-service/internal/models"
	"parking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives notification events.
type Sink interface {
	PublishNotification(ctx context.Context, event *models.NotificationEvent) error
}

// Dispatcher sends notifications without ever blocking or failing the
// caller. Callers invoke Notify only after their state change committed.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Each send gets its own context bounded
// by timeout, detached from the request that triggered it.
func NewDispatcher(sink Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  util.GetLogger(),
	}
}

// Notify schedules delivery of eventType to userID and returns immediately.
func (d *Dispatcher) Notify(userID, eventType string, payload map[string]interface{}) {
	if d == nil || d.sink == nil {
		return
	}

	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		UserID:  userID,
		Payload: payload,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				util.NotificationsFailedTotal.WithLabelValues(eventType).Inc()
				d.logger.Error("Notification sink panicked",
					zap.String("event_type", eventType),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.PublishNotification(ctx, event); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(eventType).Inc()
			d.logger.Error("Failed to send notification",
				zap.String("user_id", userID),
				zap.String("event_type", eventType),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
