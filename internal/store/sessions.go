package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// StartSession inserts a new active session. When the session references a
// reservation, the reserved spot is occupied and the reservation consumed in
// the same transaction; a stale or foreign hold yields ErrConflict.
func (s *Store) StartSession(ctx context.Context, sess *models.ParkingSession) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if sess.ReservationID != nil && sess.SpotID != nil {
			err := expectOne(tx.ExecContext(ctx, `
				UPDATE parking_spots
				SET status = 'occupied', reserved_by = NULL, reserved_until = NULL, updated_at = $3
				WHERE id = $1 AND status = 'reserved' AND reserved_by = $2 AND reserved_until > $3`,
				*sess.SpotID, sess.UserID, sess.StartTime))
			if err != nil {
				return err
			}

			err = expectOne(tx.ExecContext(ctx,
				"UPDATE reservations SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL",
				*sess.ReservationID, sess.StartTime))
			if err != nil {
				return err
			}
		}

		query := `
			INSERT INTO parking_sessions (
				id, user_id, latitude, longitude, address, organization, floor, spot_label,
				spot_id, reservation_id, hourly_rate, start_time, extension_minutes, status,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $12, $12)`

		_, err := tx.ExecContext(ctx, query,
			sess.ID, sess.UserID, sess.Latitude, sess.Longitude, sess.Address, sess.Organization,
			sess.Floor, sess.SpotLabel, sess.SpotID, sess.ReservationID, sess.HourlyRate,
			sess.StartTime, sess.Status)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		return addUserStats(ctx, tx, models.UserStats{UserID: sess.UserID, TotalSessions: 1}, sess.StartTime)
	})
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*models.ParkingSession, error) {
	var sess models.ParkingSession
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM parking_sessions WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return &sess, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, filter models.SessionFilter) ([]models.ParkingSession, error) {
	sessions := []models.ParkingSession{}
	var err error
	if filter.Status != "" {
		err = s.db.SelectContext(ctx, &sessions, `
			SELECT * FROM parking_sessions
			WHERE user_id = $1 AND status = $2
			ORDER BY start_time DESC LIMIT $3 OFFSET $4`,
			userID, filter.Status, filter.Limit, filter.Offset)
	} else {
		err = s.db.SelectContext(ctx, &sessions, `
			SELECT * FROM parking_sessions
			WHERE user_id = $1
			ORDER BY start_time DESC LIMIT $2 OFFSET $3`,
			userID, filter.Limit, filter.Offset)
	}
	return sessions, err
}

// ExtendSession adds extension minutes and stores a fresh estimate on an
// active session.
func (s *Store) ExtendSession(ctx context.Context, id string, extraMinutes int, estimate float64, at time.Time) error {
	return expectOne(s.db.ExecContext(ctx, `
		UPDATE parking_sessions
		SET extension_minutes = extension_minutes + $2, estimated_cost = $3, updated_at = $4
		WHERE id = $1 AND status = 'active'`,
		id, extraMinutes, estimate, at))
}

// CompleteSession applies the active -> completed transition, freeing any
// occupied spot and bumping the completion counter atomically.
func (s *Store) CompleteSession(ctx context.Context, id string, endTime time.Time, durationMinutes int, cost float64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			UserID string  `db:"user_id"`
			SpotID *string `db:"spot_id"`
		}
		err := tx.QueryRowxContext(ctx, `
			UPDATE parking_sessions
			SET status = 'completed', end_time = $2, duration_minutes = $3, cost = $4, updated_at = $2
			WHERE id = $1 AND status = 'active'
			RETURNING user_id, spot_id`,
			id, endTime, durationMinutes, cost).StructScan(&row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}

		if err := releaseSpot(ctx, tx, row.SpotID, endTime); err != nil {
			return err
		}

		return addUserStats(ctx, tx, models.UserStats{UserID: row.UserID, SessionsCompleted: 1}, endTime)
	})
}

// CancelSession applies the active -> cancelled transition.
func (s *Store) CancelSession(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var spotID *string
		err := tx.QueryRowxContext(ctx, `
			UPDATE parking_sessions
			SET status = 'cancelled', updated_at = $2
			WHERE id = $1 AND status = 'active'
			RETURNING spot_id`,
			id, at).Scan(&spotID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}

		return releaseSpot(ctx, tx, spotID, at)
	})
}

func releaseSpot(ctx context.Context, tx *sqlx.Tx, spotID *string, at time.Time) error {
	if spotID == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE parking_spots SET status = 'available', updated_at = $2 WHERE id = $1 AND status = 'occupied'",
		*spotID, at)
	if err != nil {
		return fmt.Errorf("failed to release spot: %w", err)
	}
	return nil
}
