package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"parking-service/internal/geo"
	"parking-service/internal/models"
	"parking-service/internal/store"
	"parking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// contentionHoldTTL bounds the fast-path hold taken while a reserve is in
// flight. The database write remains the authority.
const contentionHoldTTL = 5 * time.Second

// SpotHolder is a fast, best-effort mutual exclusion in front of the
// database reservation.
type SpotHolder interface {
	HoldSpot(ctx context.Context, spotID, userID string, ttl time.Duration) (bool, error)
	ReleaseSpot(ctx context.Context, spotID, userID string) error
}

// SpotLocatorOptions configures search and reservation bounds.
type SpotLocatorOptions struct {
	MaxResults            int
	MaxRadiusMeters       float64
	MaxReservationMinutes int
	Clock                 Clock
}

// SpotLocator finds nearby available spots and reserves them.
type SpotLocator struct {
	store  SpotStore
	holder SpotHolder
	opts   SpotLocatorOptions
	logger *zap.Logger
}

// NewSpotLocator creates a spot locator. holder may be nil.
func NewSpotLocator(store SpotStore, holder SpotHolder, opts SpotLocatorOptions) *SpotLocator {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.MaxRadiusMeters <= 0 {
		opts.MaxRadiusMeters = 20000
	}
	if opts.MaxReservationMinutes <= 0 {
		opts.MaxReservationMinutes = 120
	}
	if opts.Clock == nil {
		opts.Clock = utcNow
	}
	return &SpotLocator{
		store:  store,
		holder: holder,
		opts:   opts,
		logger: util.GetLogger(),
	}
}

// FindSpots returns available spots within radiusMeters of center, nearest
// first, at most maxResults of them.
func (l *SpotLocator) FindSpots(ctx context.Context, center geo.Coordinate, radiusMeters float64, maxResults int) ([]models.SpotWithDistance, error) {
	ctx, span := util.StartSpan(ctx, "SpotLocator.FindSpots")
	defer span.End()

	if err := validateCoordinate(center); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 || radiusMeters > l.opts.MaxRadiusMeters {
		return nil, models.ValidationError{
			Field: "radius",
			Msg:   fmt.Sprintf("must be between 0 and %.0f meters", l.opts.MaxRadiusMeters),
		}
	}
	if maxResults == 0 {
		maxResults = l.opts.MaxResults
	}
	if maxResults < 0 || maxResults > l.opts.MaxResults {
		return nil, models.ValidationError{
			Field: "limit",
			Msg:   fmt.Sprintf("must be between 1 and %d", l.opts.MaxResults),
		}
	}

	now := l.opts.Clock()
	candidates, err := l.store.ListCandidateSpots(ctx, geo.BoundingBox(center, radiusMeters), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list spots: %w", err)
	}

	hits := make([]models.SpotWithDistance, 0, len(candidates))
	for _, spot := range candidates {
		if !spot.IsAvailable(now) {
			continue
		}
		d := geo.DistanceMeters(center, spot.Coordinate())
		if d > radiusMeters {
			continue
		}
		if spot.ReservationExpired(now) {
			// present the lapsed hold as what it is: available
			spot.Status = models.SpotStatusAvailable
			spot.ReservedBy = nil
			spot.ReservedUntil = nil
		}
		hits = append(hits, models.SpotWithDistance{ParkingSpot: spot, DistanceMeters: d})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].DistanceMeters == hits[j].DistanceMeters {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].DistanceMeters < hits[j].DistanceMeters
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	return hits, nil
}

// Reserve places a time-bounded hold on spotID for userID. Of any number of
// concurrent calls against one available spot exactly one succeeds; the
// others get ErrSpotUnavailable.
func (l *SpotLocator) Reserve(ctx context.Context, spotID, userID string, durationMinutes int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "SpotLocator.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SpotReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := requireID("spot_id", spotID); err != nil {
		return nil, err
	}
	if durationMinutes < 1 || durationMinutes > l.opts.MaxReservationMinutes {
		return nil, models.ValidationError{
			Field: "duration_minutes",
			Msg:   fmt.Sprintf("must be between 1 and %d", l.opts.MaxReservationMinutes),
		}
	}

	now := l.opts.Clock()
	spot, err := l.store.GetSpot(ctx, spotID)
	if err != nil {
		return nil, err
	}
	if !spot.IsAvailable(now) {
		util.SpotReservationsTotal.WithLabelValues("unavailable").Inc()
		return nil, models.ErrSpotUnavailable
	}

	if l.holder != nil {
		held, err := l.holder.HoldSpot(ctx, spotID, userID, contentionHoldTTL)
		switch {
		case err != nil:
			l.logger.Warn("Spot hold failed, relying on database",
				zap.String("spot_id", spotID),
				zap.Error(err))
		case !held:
			util.SpotReservationsTotal.WithLabelValues("contended").Inc()
			return nil, models.ErrSpotUnavailable
		default:
			defer l.releaseHold(spotID, userID)
		}
	}

	res := &models.Reservation{
		ID:              uuid.New().String(),
		SpotID:          spotID,
		UserID:          userID,
		DurationMinutes: durationMinutes,
		StartTime:       now,
		ReservedUntil:   now.Add(time.Duration(durationMinutes) * time.Minute),
	}

	if err := l.store.ReserveSpot(ctx, res); err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.SpotReservationsTotal.WithLabelValues("unavailable").Inc()
			return nil, models.ErrSpotUnavailable
		}
		util.SpotReservationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to reserve spot: %w", err)
	}

	util.SpotReservationsTotal.WithLabelValues("reserved").Inc()
	l.logger.Info("Spot reserved",
		zap.String("spot_id", spotID),
		zap.String("user_id", userID),
		zap.String("reservation_id", res.ID),
		zap.Time("reserved_until", res.ReservedUntil))

	return res, nil
}

// SweepExpired returns every lapsed reservation's spot to available.
func (l *SpotLocator) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.store.ExpireReservations(ctx, l.opts.Clock())
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	if n > 0 {
		util.ReservationsExpiredTotal.Add(float64(n))
		l.logger.Info("Expired reservations released", zap.Int64("count", n))
	}
	return n, nil
}

func (l *SpotLocator) releaseHold(spotID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.holder.ReleaseSpot(ctx, spotID, userID); err != nil {
		l.logger.Warn("Failed to release spot hold",
			zap.String("spot_id", spotID),
			zap.Error(err))
	}
}
