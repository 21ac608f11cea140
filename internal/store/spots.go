package store

import (
	"context"
	"fmt"
	"time"

	"parking-service/internal/geo"
	"parking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertSpot seeds or refreshes a spot's static attributes.
func (s *Store) UpsertSpot(ctx context.Context, spot *models.ParkingSpot) error {
	query := `
		INSERT INTO parking_spots (id, latitude, longitude, label, organization, hourly_rate, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			label = EXCLUDED.label,
			organization = EXCLUDED.organization,
			hourly_rate = EXCLUDED.hourly_rate,
			updated_at = NOW()`

	status := spot.Status
	if status == "" {
		status = models.SpotStatusAvailable
	}
	_, err := s.db.ExecContext(ctx, query,
		spot.ID, spot.Latitude, spot.Longitude, spot.Label, spot.Organization, spot.HourlyRate, status)
	return err
}

// GetSpot retrieves a spot by ID
func (s *Store) GetSpot(ctx context.Context, id string) (*models.ParkingSpot, error) {
	var spot models.ParkingSpot
	err := s.db.GetContext(ctx, &spot, "SELECT * FROM parking_spots WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "spot", id)
	}
	return &spot, nil
}

// ListCandidateSpots returns spots inside box that are available at now,
// counting elapsed reservations as available.
func (s *Store) ListCandidateSpots(ctx context.Context, box geo.Box, now time.Time) ([]models.ParkingSpot, error) {
	lngFilter := "longitude BETWEEN $3 AND $4"
	if box.WrapsAntimeridian() {
		lngFilter = "(longitude >= $3 OR longitude <= $4)"
	}
	query := `
		SELECT * FROM parking_spots
		WHERE latitude BETWEEN $1 AND $2
		  AND ` + lngFilter + `
		  AND (status = 'available' OR (status = 'reserved' AND reserved_until <= $5))`

	var spots []models.ParkingSpot
	err := s.db.SelectContext(ctx, &spots, query, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, now)
	return spots, err
}

// ReserveSpot moves a spot to reserved and records the reservation in one
// transaction. The write only lands if the spot is available or its previous
// hold has elapsed.
func (s *Store) ReserveSpot(ctx context.Context, res *models.Reservation) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := expectOne(tx.ExecContext(ctx, `
			UPDATE parking_spots
			SET status = 'reserved', reserved_by = $2, reserved_until = $3, updated_at = $4
			WHERE id = $1
			  AND (status = 'available' OR (status = 'reserved' AND reserved_until <= $4))`,
			res.SpotID, res.UserID, res.ReservedUntil, res.StartTime))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (id, spot_id, user_id, duration_minutes, start_time, reserved_until)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			res.ID, res.SpotID, res.UserID, res.DurationMinutes, res.StartTime, res.ReservedUntil)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
}

// GetReservation retrieves a reservation by ID
func (s *Store) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	err := s.db.GetContext(ctx, &res, "SELECT * FROM reservations WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return &res, nil
}

// ExpireReservations returns every spot whose hold elapsed before now to
// available and reports how many were released.
func (s *Store) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parking_spots
		SET status = 'available', reserved_by = NULL, reserved_until = NULL, updated_at = $1
		WHERE status = 'reserved' AND reserved_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
