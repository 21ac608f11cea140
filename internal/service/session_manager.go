package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-service/internal/models"
	"parking-service/internal/pricing"
	"parking-service/internal/store"
	"parking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartSessionRequest carries the inputs of a session start.
type StartSessionRequest struct {
	UserID        string
	Location      models.Location
	HourlyRate    float64
	ReservationID string
}

// SessionManager owns the parking session state machine:
//
//	active -> completed -> paid
//	active -> cancelled
//
// Each transition is a conditional write on status = active, so at most one
// terminal transition ever lands for a session.
type SessionManager struct {
	store    SessionStore
	calc     pricing.Calculator
	notifier Notifier
	now      Clock
	logger   *zap.Logger
}

// NewSessionManager creates a session manager. clock may be nil.
func NewSessionManager(store SessionStore, calc pricing.Calculator, notifier Notifier, clock Clock) *SessionManager {
	if clock == nil {
		clock = utcNow
	}
	return &SessionManager{
		store:    store,
		calc:     calc,
		notifier: notifier,
		now:      clock,
		logger:   util.GetLogger(),
	}
}

// Start opens an active session at the caller's location with a fixed rate.
func (m *SessionManager) Start(ctx context.Context, req StartSessionRequest) (*models.ParkingSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionManager.Start")
	defer span.End()

	if err := requireUser(req.UserID); err != nil {
		return nil, err
	}
	if req.HourlyRate <= 0 {
		return nil, models.ErrInvalidRate
	}
	if err := validateCoordinate(req.Location.Coordinate()); err != nil {
		return nil, err
	}

	now := m.now()
	sess := &models.ParkingSession{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Location:   req.Location,
		HourlyRate: req.HourlyRate,
		StartTime:  now,
		Status:     models.SessionStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if req.ReservationID != "" {
		res, err := m.store.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return nil, err
		}
		if res.UserID != req.UserID {
			return nil, models.ErrNotOwner
		}
		if res.ConsumedAt != nil {
			return nil, models.ErrSpotUnavailable
		}
		if !now.Before(res.ReservedUntil) {
			return nil, models.ErrReservationExpired
		}
		resID, spotID := res.ID, res.SpotID
		sess.ReservationID = &resID
		sess.SpotID = &spotID
	}

	if err := m.store.StartSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrConflict) && sess.SpotID != nil {
			return nil, m.classifyStartConflict(ctx, *sess.SpotID, now)
		}
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	util.SessionsStartedTotal.Inc()
	m.logger.Info("Session started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", sess.UserID),
		zap.Float64("hourly_rate", sess.HourlyRate))

	return sess, nil
}

// classifyStartConflict explains why the reserved spot could not be
// occupied.
func (m *SessionManager) classifyStartConflict(ctx context.Context, spotID string, now time.Time) error {
	spot, err := m.store.GetSpot(ctx, spotID)
	if err != nil {
		return models.ErrSpotUnavailable
	}
	if spot.ReservationExpired(now) {
		return models.ErrReservationExpired
	}
	return models.ErrSpotUnavailable
}

// Get returns one of the caller's sessions.
func (m *SessionManager) Get(ctx context.Context, sessionID, userID string) (*models.ParkingSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, models.ErrNotOwner
	}
	return sess, nil
}

// List returns the caller's session history, newest first.
func (m *SessionManager) List(ctx context.Context, userID string, filter models.SessionFilter) ([]models.ParkingSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", models.SessionStatusActive, models.SessionStatusCompleted,
		models.SessionStatusCancelled, models.SessionStatusPaid:
	default:
		return nil, models.ValidationError{Field: "status", Msg: "unknown session status"}
	}

	limit, offset, err := normalizePage(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset

	return m.store.ListSessions(ctx, userID, filter)
}

// Stats returns the caller's account counters.
func (m *SessionManager) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return m.store.GetUserStats(ctx, userID)
}

// Extend adds extraMinutes to an active session and refreshes its advisory
// cost estimate. The estimate never feeds the final charge.
func (m *SessionManager) Extend(ctx context.Context, sessionID, userID string, extraMinutes int) (*models.ParkingSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionManager.Extend")
	defer span.End()

	if extraMinutes < 1 || extraMinutes > MaxExtensionMinutes {
		return nil, models.ValidationError{
			Field: "extra_minutes",
			Msg:   fmt.Sprintf("must be between 1 and %d", MaxExtensionMinutes),
		}
	}

	sess, err := m.activeSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	planned := elapsedMinutes(sess.StartTime, now) + sess.ExtensionMinutes + extraMinutes
	estimate, err := m.calc.Cost(planned, sess.HourlyRate)
	if err != nil {
		return nil, err
	}
	estimate = pricing.Round(estimate)

	if err := m.store.ExtendSession(ctx, sessionID, extraMinutes, estimate, now); err != nil {
		return nil, m.transitionError("extend", err)
	}

	sess.ExtensionMinutes += extraMinutes
	sess.EstimatedCost = &estimate
	sess.UpdatedAt = now

	m.logger.Info("Session extended",
		zap.String("session_id", sessionID),
		zap.Int("extra_minutes", extraMinutes),
		zap.Float64("estimated_cost", estimate))

	return sess, nil
}

// End completes an active session, fixing its duration and cost. A second
// End on the same session fails with ErrSessionNotActive and leaves the
// stored cost untouched.
func (m *SessionManager) End(ctx context.Context, sessionID, userID string) (*models.ParkingSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionManager.End")
	defer span.End()

	sess, err := m.activeSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	minutes := elapsedMinutes(sess.StartTime, now)
	raw, err := m.calc.Cost(minutes, sess.HourlyRate)
	if err != nil {
		return nil, fmt.Errorf("failed to price session %s: %w", sessionID, err)
	}
	cost := pricing.Round(raw)

	if err := m.store.CompleteSession(ctx, sessionID, now, minutes, cost); err != nil {
		return nil, m.transitionError("end", err)
	}

	sess.Status = models.SessionStatusCompleted
	sess.EndTime = &now
	sess.DurationMinutes = &minutes
	sess.Cost = &cost
	sess.UpdatedAt = now

	util.SessionsCompletedTotal.Inc()
	util.SessionBilledAmount.Observe(cost)
	m.logger.Info("Session completed",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("duration_minutes", minutes),
		zap.Float64("cost", cost))

	m.notify(sess.UserID, models.EventTypeSessionCompleted, map[string]interface{}{
		"session_id":       sess.ID,
		"duration_minutes": minutes,
		"cost":             cost,
	})

	return sess, nil
}

// Cancel abandons an active session without billing it.
func (m *SessionManager) Cancel(ctx context.Context, sessionID, userID string) (*models.ParkingSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionManager.Cancel")
	defer span.End()

	sess, err := m.activeSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if err := m.store.CancelSession(ctx, sessionID, now); err != nil {
		return nil, m.transitionError("cancel", err)
	}

	sess.Status = models.SessionStatusCancelled
	sess.UpdatedAt = now

	util.SessionsCancelledTotal.Inc()
	m.logger.Info("Session cancelled",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))

	return sess, nil
}

func (m *SessionManager) activeSession(ctx context.Context, sessionID, userID string) (*models.ParkingSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, models.ErrNotOwner
	}
	if sess.Status != models.SessionStatusActive {
		return nil, models.ErrSessionNotActive
	}
	return sess, nil
}

func (m *SessionManager) transitionError(transition string, err error) error {
	if errors.Is(err, store.ErrConflict) {
		util.SessionTransitionConflicts.WithLabelValues(transition).Inc()
		return models.ErrSessionNotActive
	}
	return fmt.Errorf("failed to %s session: %w", transition, err)
}

func (m *SessionManager) notify(userID, eventType string, payload map[string]interface{}) {
	if m.notifier != nil {
		m.notifier.Notify(userID, eventType, payload)
	}
}

// elapsedMinutes is the whole minutes between start and now, floored.
func elapsedMinutes(start, now time.Time) int {
	return int(now.Sub(start) / time.Minute)
}
