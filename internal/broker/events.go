package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"parking-service/internal/models"
	"parking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers an encoded event under a partition key.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing notification events
type EventPublisher struct {
	publisher Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(publisher Publisher) *EventPublisher {
	return &EventPublisher{publisher: publisher}
}

// PublishNotification publishes a notification keyed by user so a user's
// events stay ordered.
func (ep *EventPublisher) PublishNotification(ctx context.Context, event *models.NotificationEvent) error {
	key := fmt.Sprintf("user-%s", event.UserID)
	return ep.publisher.PublishEvent(ctx, key, event)
}

// NotificationHandlerFunc processes one decoded notification.
type NotificationHandlerFunc func(context.Context, *models.NotificationEvent) error

// EventHandler routes incoming events by type
type EventHandler struct {
	handlers map[string]NotificationHandlerFunc
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: make(map[string]NotificationHandlerFunc),
		logger:   util.GetLogger(),
	}
}

// On registers a handler for an event type
func (eh *EventHandler) On(eventType string, handler NotificationHandlerFunc) {
	eh.handlers[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", event.EventType),
		zap.String("event_id", event.EventID))

	handler, ok := eh.handlers[event.EventType]
	if !ok {
		eh.logger.Warn("Unhandled event type", zap.String("type", event.EventType))
		return nil
	}
	return handler(ctx, &event)
}
