package service

import (
	"context"
	"time"

	"parking-service/internal/geo"
	"parking-service/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// Notifier is told about committed transitions. It must not block.
type Notifier interface {
	Notify(userID, eventType string, payload map[string]interface{})
}

// SpotStore is the persistence contract of the spot locator.
type SpotStore interface {
	GetSpot(ctx context.Context, id string) (*models.ParkingSpot, error)
	ListCandidateSpots(ctx context.Context, box geo.Box, now time.Time) ([]models.ParkingSpot, error)
	ReserveSpot(ctx context.Context, res *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore is the persistence contract of the session manager.
type SessionStore interface {
	GetSpot(ctx context.Context, id string) (*models.ParkingSpot, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	StartSession(ctx context.Context, sess *models.ParkingSession) error
	GetSession(ctx context.Context, id string) (*models.ParkingSession, error)
	ListSessions(ctx context.Context, userID string, filter models.SessionFilter) ([]models.ParkingSession, error)
	ExtendSession(ctx context.Context, id string, extraMinutes int, estimate float64, at time.Time) error
	CompleteSession(ctx context.Context, id string, endTime time.Time, durationMinutes int, cost float64) error
	CancelSession(ctx context.Context, id string, at time.Time) error
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
}

// PaymentStore is the persistence contract of the payment orchestrator.
type PaymentStore interface {
	GetSession(ctx context.Context, id string) (*models.ParkingSession, error)
	CreatePayment(ctx context.Context, p *models.PaymentRecord) (*models.PaymentRecord, error)
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
	GetPaymentForSession(ctx context.Context, sessionID, status string) (*models.PaymentRecord, error)
	CountPayments(ctx context.Context, sessionID, status string) (int, error)
	ListPayments(ctx context.Context, userID string, limit, offset int) ([]models.PaymentRecord, error)
	ListPaymentsByStatus(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.PaymentRecord, error)
	MarkPaymentReconciled(ctx context.Context, id string, at time.Time) error
	MarkPaymentSucceeded(ctx context.Context, id string, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id, reason string, at time.Time) error
	MarkPaymentRefunded(ctx context.Context, refund *models.Refund) error
}
