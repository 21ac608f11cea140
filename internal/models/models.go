package models

import (
	"time"

	"parking-service/internal/geo"
)

// Session statuses
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
	SessionStatusPaid      = "paid"
)

// Spot statuses
const (
	SpotStatusAvailable = "available"
	SpotStatusReserved  = "reserved"
	SpotStatusOccupied  = "occupied"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Location describes where a session takes place.
type Location struct {
	Latitude     float64 `db:"latitude" json:"latitude"`
	Longitude    float64 `db:"longitude" json:"longitude"`
	Address      string  `db:"address" json:"address"`
	Organization string  `db:"organization" json:"organization"`
	Floor        string  `db:"floor" json:"floor,omitempty"`
	SpotLabel    string  `db:"spot_label" json:"spot_label,omitempty"`
}

// Coordinate returns the location as a geo coordinate.
func (l Location) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// ParkingSession is one billed occupancy period.
// Cost and DurationMinutes are set only on the completed transition.
type ParkingSession struct {
	Location `json:"location"`

	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	SpotID           *string    `db:"spot_id" json:"spot_id,omitempty"`
	ReservationID    *string    `db:"reservation_id" json:"reservation_id,omitempty"`
	HourlyRate       float64    `db:"hourly_rate" json:"hourly_rate"`
	StartTime        time.Time  `db:"start_time" json:"start_time"`
	EndTime          *time.Time `db:"end_time" json:"end_time,omitempty"`
	DurationMinutes  *int       `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Cost             *float64   `db:"cost" json:"cost,omitempty"`
	EstimatedCost    *float64   `db:"estimated_cost" json:"estimated_cost,omitempty"`
	ExtensionMinutes int        `db:"extension_minutes" json:"extension_minutes"`
	Status           string     `db:"status" json:"status"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ParkingSpot is a physical place that can be reserved and occupied.
type ParkingSpot struct {
	ID            string     `db:"id" json:"id"`
	Latitude      float64    `db:"latitude" json:"latitude"`
	Longitude     float64    `db:"longitude" json:"longitude"`
	Label         string     `db:"label" json:"label,omitempty"`
	Organization  string     `db:"organization" json:"organization,omitempty"`
	HourlyRate    float64    `db:"hourly_rate" json:"hourly_rate"`
	Status        string     `db:"status" json:"status"`
	ReservedBy    *string    `db:"reserved_by" json:"reserved_by,omitempty"`
	ReservedUntil *time.Time `db:"reserved_until" json:"reserved_until,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Coordinate returns the spot position.
func (s *ParkingSpot) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// IsAvailable reports whether the spot can be reserved at now. A reservation
// whose hold has elapsed counts as available regardless of stored status.
func (s *ParkingSpot) IsAvailable(now time.Time) bool {
	switch s.Status {
	case SpotStatusAvailable:
		return true
	case SpotStatusReserved:
		return s.ReservationExpired(now)
	default:
		return false
	}
}

// ReservationExpired reports whether a reserved spot's hold has elapsed.
func (s *ParkingSpot) ReservationExpired(now time.Time) bool {
	return s.Status == SpotStatusReserved &&
		(s.ReservedUntil == nil || !now.Before(*s.ReservedUntil))
}

// SpotWithDistance is a search hit.
type SpotWithDistance struct {
	ParkingSpot
	DistanceMeters float64 `json:"distance_meters"`
}

// Reservation is a time-bounded hold on a spot.
type Reservation struct {
	ID              string     `db:"id" json:"id"`
	SpotID          string     `db:"spot_id" json:"spot_id"`
	UserID          string     `db:"user_id" json:"user_id"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	ReservedUntil   time.Time  `db:"reserved_until" json:"reserved_until"`
	ConsumedAt      *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
}

// PaymentRecord mirrors a gateway payment intent locally. ID is the
// gateway-assigned intent id.
type PaymentRecord struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	SessionID      string     `db:"session_id" json:"session_id"`
	Amount         float64    `db:"amount" json:"amount"`
	Currency       string     `db:"currency" json:"currency"`
	PaymentMethod  string     `db:"payment_method" json:"payment_method"`
	Status         string     `db:"status" json:"status"`
	IdempotencyKey string     `db:"idempotency_key" json:"-"`
	ClientSecret   string     `db:"client_secret" json:"client_secret,omitempty"`
	FailureReason  *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	RefundID       *string    `db:"refund_id" json:"refund_id,omitempty"`
	RefundAmount   *float64   `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundReason   *string    `db:"refund_reason" json:"refund_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	SucceededAt    *time.Time `db:"succeeded_at" json:"succeeded_at,omitempty"`
	ReconciledAt   *time.Time `db:"reconciled_at" json:"-"`
}

// Refund is the bookkeeping written when a payment is refunded.
type Refund struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStats holds the increment-only account counters.
type UserStats struct {
	UserID            string    `db:"user_id" json:"user_id"`
	TotalSessions     int64     `db:"total_sessions" json:"total_sessions"`
	SessionsCompleted int64     `db:"sessions_completed" json:"sessions_completed"`
	TotalSpent        float64   `db:"total_spent" json:"total_spent"`
	PaymentsCompleted int64     `db:"payments_completed" json:"payments_completed"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// SessionFilter narrows history listings.
type SessionFilter struct {
	Status string
	Limit  int
	Offset int
}

