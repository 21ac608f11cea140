package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"parking-service/internal/geo"
	"parking-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestExtendSessionConflictWhenNotActive(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_sessions")).
		WithArgs("sess-1", 30, 5.0, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ExtendSession(context.Background(), "sess-1", 30, 5.0, now)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSessionReleasesSpotAndCountsCompletion(t *testing.T) {
	s, mock := newMockStore(t)
	end := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE parking_sessions")).
		WithArgs("sess-1", end, 90, 3.75).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "spot_id"}).AddRow("user-1", "spot-9"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots SET status = 'available'")).
		WithArgs("spot-9", end).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_stats")).
		WithArgs("user-1", int64(0), int64(1), 0.0, int64(0), end).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CompleteSession(context.Background(), "sess-1", end, 90, 3.75)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSessionSecondCallConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	end := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE parking_sessions")).
		WithArgs("sess-1", end, 90, 3.75).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "spot_id"}))
	mock.ExpectRollback()

	err := s.CompleteSession(context.Background(), "sess-1", end, 90, 3.75)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSpotConflictRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	res := &models.Reservation{
		ID:              "res-1",
		SpotID:          "spot-1",
		UserID:          "user-1",
		DurationMinutes: 60,
		StartTime:       now,
		ReservedUntil:   now.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots")).
		WithArgs("spot-1", "user-1", res.ReservedUntil, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.ReserveSpot(context.Background(), res)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentRefundedRequiresSucceeded(t *testing.T) {
	s, mock := newMockStore(t)
	refund := &models.Refund{ID: "re_1", PaymentID: "pi_1", Amount: 3.75, Reason: "requested_by_customer", CreatedAt: time.Now()}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("pi_1", "re_1", 3.75, "requested_by_customer", refund.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkPaymentRefunded(context.Background(), refund)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM parking_sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryReserveIsExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, m.UpsertSpot(ctx, &models.ParkingSpot{ID: "spot-1", Latitude: 1, Longitude: 1}))

	first := &models.Reservation{ID: "r1", SpotID: "spot-1", UserID: "a", StartTime: now, ReservedUntil: now.Add(time.Hour)}
	second := &models.Reservation{ID: "r2", SpotID: "spot-1", UserID: "b", StartTime: now, ReservedUntil: now.Add(time.Hour)}

	require.NoError(t, m.ReserveSpot(ctx, first))
	assert.ErrorIs(t, m.ReserveSpot(ctx, second), ErrConflict)

	// once the first hold lapses the spot can be taken again
	later := &models.Reservation{ID: "r3", SpotID: "spot-1", UserID: "b", StartTime: now.Add(61 * time.Minute), ReservedUntil: now.Add(2 * time.Hour)}
	assert.NoError(t, m.ReserveSpot(ctx, later))
}

func TestMemoryCreatePaymentIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := &models.PaymentRecord{ID: "pi_1", SessionID: "s1", UserID: "u1", Amount: 3.75, Status: models.PaymentStatusPending, IdempotencyKey: "k", CreatedAt: time.Now()}

	first, err := m.CreatePayment(ctx, p)
	require.NoError(t, err)

	dup := *p
	dup.ID = "pi_2"
	second, err := m.CreatePayment(ctx, &dup)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, err := m.CountPayments(ctx, "s1", models.PaymentStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkPaymentSucceededPaysSessionAndCountsSpend(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("pi_1", at).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "session_id", "amount"}).AddRow("user-1", "sess-1", 3.75))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_sessions SET status = 'paid'")).
		WithArgs("sess-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_stats")).
		WithArgs("user-1", int64(0), int64(0), 3.75, int64(1), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	paid, err := s.MarkPaymentSucceeded(context.Background(), "pi_1", at)
	require.NoError(t, err)
	assert.True(t, paid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentSucceededTwiceConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("pi_1", at).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "session_id", "amount"}))
	mock.ExpectRollback()

	_, err := s.MarkPaymentSucceeded(context.Background(), "pi_1", at)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSessionWithLapsedReservationConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	spotID, resID := "spot-1", "res-1"
	sess := &models.ParkingSession{
		ID:            "sess-1",
		UserID:        "user-1",
		SpotID:        &spotID,
		ReservationID: &resID,
		HourlyRate:    2.5,
		StartTime:     now,
		Status:        models.SessionStatusActive,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots")).
		WithArgs("spot-1", "user-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.StartSession(context.Background(), sess)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSpotDefaultsToAvailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_spots")).
		WithArgs("spot-1", 40.7, -74.0, "A1", "City Garage", 2.5, models.SpotStatusAvailable).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertSpot(context.Background(), &models.ParkingSpot{
		ID: "spot-1", Latitude: 40.7, Longitude: -74.0, Label: "A1", Organization: "City Garage", HourlyRate: 2.5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireReservationsReportsCount(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ExpireReservations(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestListCandidateSpotsWrapsAntimeridian(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	box := geo.BoundingBox(geo.Coordinate{Latitude: -17, Longitude: 179.995}, 5000)
	require.True(t, box.WrapsAntimeridian())

	mock.ExpectQuery(regexp.QuoteMeta("(longitude >= $3 OR longitude <= $4)")).
		WithArgs(box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "latitude", "longitude"}).AddRow("spot-1", -17.0, -179.995))

	spots, err := s.ListCandidateSpots(context.Background(), box, now)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "spot-1", spots[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCandidateSpotsPlainBox(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	box := geo.BoundingBox(geo.Coordinate{Latitude: 40.7128, Longitude: -74.006}, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("longitude BETWEEN $3 AND $4")).
		WithArgs(box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	spots, err := s.ListCandidateSpots(context.Background(), box, now)
	require.NoError(t, err)
	assert.Empty(t, spots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentsByStatusRotatesReconciled(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY reconciled_at ASC NULLS FIRST, updated_at ASC")).
		WithArgs(models.PaymentStatusPending, cutoff, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("pay-3", "pending"))

	payments, err := s.ListPaymentsByStatus(context.Background(), models.PaymentStatusPending, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pay-3", payments[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentReconciledLeavesUpdatedAt(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET reconciled_at = $2 WHERE id = $1 AND status = 'pending'")).
		WithArgs("pay-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkPaymentReconciled(context.Background(), "pay-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryReconciledPaymentsMoveBehind(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"pay-1", "pay-2", "pay-3"} {
		_, err := m.CreatePayment(ctx, &models.PaymentRecord{
			ID:             id,
			UserID:         "user-1",
			SessionID:      "sess-" + id,
			Status:         models.PaymentStatusPending,
			IdempotencyKey: "key-" + id,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			UpdatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	cutoff := base.Add(time.Minute)
	first, err := m.ListPaymentsByStatus(ctx, models.PaymentStatusPending, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "pay-1", first[0].ID)
	assert.Equal(t, "pay-2", first[1].ID)

	for _, p := range first {
		require.NoError(t, m.MarkPaymentReconciled(ctx, p.ID, cutoff))
	}

	next, err := m.ListPaymentsByStatus(ctx, models.PaymentStatusPending, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "pay-3", next[0].ID)
	assert.Equal(t, "pay-1", next[1].ID)
}
