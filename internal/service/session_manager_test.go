package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parking-service/internal/models"
	"parking-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSession(t *testing.T, m *SessionManager, userID string, rate float64) *models.ParkingSession {
	t.Helper()
	sess, err := m.Start(context.Background(), StartSessionRequest{
		UserID:     userID,
		Location:   downtown,
		HourlyRate: rate,
	})
	require.NoError(t, err)
	return sess
}

func TestStartSession(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	m := newSessionManager(mem, clock, nil)

	sess := startSession(t, m, "alice", 2.50)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Equal(t, clock.Now(), sess.StartTime)
	assert.Nil(t, sess.Cost)
	assert.Nil(t, sess.DurationMinutes)
	assert.Nil(t, sess.EndTime)

	stats, err := m.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSessions)
}

func TestStartSessionRejectsBadInput(t *testing.T) {
	m := newSessionManager(store.NewMemory(), newFakeClock(), nil)
	ctx := context.Background()

	_, err := m.Start(ctx, StartSessionRequest{UserID: "alice", Location: downtown, HourlyRate: 0})
	assert.ErrorIs(t, err, models.ErrInvalidRate)

	_, err = m.Start(ctx, StartSessionRequest{UserID: "alice", Location: downtown, HourlyRate: -1})
	assert.ErrorIs(t, err, models.ErrInvalidRate)

	bad := downtown
	bad.Longitude = 200
	_, err = m.Start(ctx, StartSessionRequest{UserID: "alice", Location: bad, HourlyRate: 2.5})
	assert.True(t, models.IsValidation(err))

	_, err = m.Start(ctx, StartSessionRequest{Location: downtown, HourlyRate: 2.5})
	assert.True(t, models.IsValidation(err))
}

func TestEndAfterNinetyMinutes(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	m := newSessionManager(mem, clock, notifier)

	sess := startSession(t, m, "alice", 2.50)
	clock.Advance(90 * time.Minute)

	ended, err := m.End(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, ended.Status)
	require.NotNil(t, ended.DurationMinutes)
	assert.Equal(t, 90, *ended.DurationMinutes)
	require.NotNil(t, ended.Cost)
	assert.InDelta(t, 3.75, *ended.Cost, 1e-9)
	assert.Equal(t, clock.Now(), *ended.EndTime)

	assert.Equal(t, []string{models.EventTypeSessionCompleted}, notifier.types())

	stored, err := mem.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.75, *stored.Cost, 1e-9)
}

func TestEndAfterOneMinuteChargesMinimum(t *testing.T) {
	clock := newFakeClock()
	m := newSessionManager(store.NewMemory(), clock, nil)

	sess := startSession(t, m, "alice", 2.50)
	clock.Advance(time.Minute + 30*time.Second)

	ended, err := m.End(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, *ended.DurationMinutes)
	assert.InDelta(t, 2.50, *ended.Cost, 1e-9)
}

func TestSecondEndFailsAndKeepsCost(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	m := newSessionManager(mem, clock, notifier)
	ctx := context.Background()

	sess := startSession(t, m, "alice", 4.00)
	clock.Advance(60 * time.Minute)
	_, err := m.End(ctx, sess.ID, "alice")
	require.NoError(t, err)

	clock.Advance(5 * time.Hour)
	_, err = m.End(ctx, sess.ID, "alice")
	assert.ErrorIs(t, err, models.ErrSessionNotActive)

	stored, err := mem.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.00, *stored.Cost, 1e-9)
	assert.Equal(t, 60, *stored.DurationMinutes)
	assert.Len(t, notifier.types(), 1)
}

func TestConcurrentEndAndCancelOnlyOneLands(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		sess := startSession(t, m, "alice", 2.50)
		clock.Advance(10 * time.Minute)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok       int
			rejected int
		)
		record := func(err error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrSessionNotActive):
				rejected++
			}
		}
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := m.End(ctx, sess.ID, "alice")
				record(err)
			}()
			go func() {
				defer wg.Done()
				_, err := m.Cancel(ctx, sess.ID, "alice")
				record(err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, rejected)

		stored, err := mem.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		if stored.Status == models.SessionStatusCancelled {
			assert.Nil(t, stored.Cost)
			assert.Nil(t, stored.DurationMinutes)
		} else {
			assert.Equal(t, models.SessionStatusCompleted, stored.Status)
			assert.NotNil(t, stored.Cost)
		}
	}
}

func TestExtendUpdatesEstimateOnly(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	sess := startSession(t, m, "alice", 2.50)
	clock.Advance(30 * time.Minute)

	extended, err := m.Extend(ctx, sess.ID, "alice", 60)
	require.NoError(t, err)
	assert.Equal(t, 60, extended.ExtensionMinutes)
	require.NotNil(t, extended.EstimatedCost)
	assert.InDelta(t, 3.75, *extended.EstimatedCost, 1e-9)
	assert.Nil(t, extended.Cost)

	extended, err = m.Extend(ctx, sess.ID, "alice", 30)
	require.NoError(t, err)
	assert.Equal(t, 90, extended.ExtensionMinutes)
	assert.InDelta(t, 5.00, *extended.EstimatedCost, 1e-9)

	ended, err := m.End(ctx, sess.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 30, *ended.DurationMinutes)
	assert.InDelta(t, 2.50, *ended.Cost, 1e-9)

	_, err = m.Extend(ctx, sess.ID, "alice", 10)
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestExtendValidatesMinutes(t *testing.T) {
	m := newSessionManager(store.NewMemory(), newFakeClock(), nil)
	sess := startSession(t, m, "alice", 2.50)

	_, err := m.Extend(context.Background(), sess.ID, "alice", 0)
	assert.True(t, models.IsValidation(err))

	_, err = m.Extend(context.Background(), sess.ID, "alice", MaxExtensionMinutes+1)
	assert.True(t, models.IsValidation(err))
}

func TestTransitionsRequireOwner(t *testing.T) {
	m := newSessionManager(store.NewMemory(), newFakeClock(), nil)
	ctx := context.Background()
	sess := startSession(t, m, "alice", 2.50)

	_, err := m.End(ctx, sess.ID, "mallory")
	assert.ErrorIs(t, err, models.ErrNotOwner)
	_, err = m.Cancel(ctx, sess.ID, "mallory")
	assert.ErrorIs(t, err, models.ErrNotOwner)
	_, err = m.Extend(ctx, sess.ID, "mallory", 10)
	assert.ErrorIs(t, err, models.ErrNotOwner)
	_, err = m.Get(ctx, sess.ID, "mallory")
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, err = m.End(ctx, "missing", "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelNeverBills(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	sess := startSession(t, m, "alice", 2.50)
	clock.Advance(45 * time.Minute)

	cancelled, err := m.Cancel(ctx, sess.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.Cost)
	assert.Nil(t, cancelled.EndTime)

	_, err = m.Cancel(ctx, sess.ID, "alice")
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
	_, err = m.End(ctx, sess.ID, "alice")
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestStartAgainstReservationOccupiesSpot(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	seedSpot(t, mem, "spot-1", 40.7128, -74.0060)
	locator := newLocator(mem, nil, clock)
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	res, err := locator.Reserve(ctx, "spot-1", "alice", 30)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	sess, err := m.Start(ctx, StartSessionRequest{
		UserID:        "alice",
		Location:      downtown,
		HourlyRate:    2.50,
		ReservationID: res.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, sess.SpotID)
	assert.Equal(t, "spot-1", *sess.SpotID)

	spot, err := mem.GetSpot(ctx, "spot-1")
	require.NoError(t, err)
	assert.Equal(t, models.SpotStatusOccupied, spot.Status)
	assert.Nil(t, spot.ReservedBy)

	// a reservation starts at most one session
	_, err = m.Start(ctx, StartSessionRequest{
		UserID:        "alice",
		Location:      downtown,
		HourlyRate:    2.50,
		ReservationID: res.ID,
	})
	assert.ErrorIs(t, err, models.ErrSpotUnavailable)

	clock.Advance(20 * time.Minute)
	_, err = m.End(ctx, sess.ID, "alice")
	require.NoError(t, err)

	spot, err = mem.GetSpot(ctx, "spot-1")
	require.NoError(t, err)
	assert.Equal(t, models.SpotStatusAvailable, spot.Status)
}

func TestStartAgainstExpiredReservation(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	seedSpot(t, mem, "spot-1", 40.7128, -74.0060)
	locator := newLocator(mem, nil, clock)
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	res, err := locator.Reserve(ctx, "spot-1", "alice", 60)
	require.NoError(t, err)
	clock.Advance(61 * time.Minute)

	_, err = m.Start(ctx, StartSessionRequest{
		UserID:        "alice",
		Location:      downtown,
		HourlyRate:    2.50,
		ReservationID: res.ID,
	})
	assert.ErrorIs(t, err, models.ErrReservationExpired)

	spot, err := mem.GetSpot(ctx, "spot-1")
	require.NoError(t, err)
	assert.NotEqual(t, models.SpotStatusOccupied, spot.Status)
}

func TestStartAgainstSomeoneElsesReservation(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	seedSpot(t, mem, "spot-1", 40.7128, -74.0060)
	locator := newLocator(mem, nil, clock)
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	res, err := locator.Reserve(ctx, "spot-1", "alice", 30)
	require.NoError(t, err)

	_, err = m.Start(ctx, StartSessionRequest{
		UserID:        "bob",
		Location:      downtown,
		HourlyRate:    2.50,
		ReservationID: res.ID,
	})
	assert.ErrorIs(t, err, models.ErrNotOwner)
}

func TestListSessionsNewestFirst(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	m := newSessionManager(mem, clock, nil)
	ctx := context.Background()

	first := startSession(t, m, "alice", 2.50)
	clock.Advance(time.Minute)
	second := startSession(t, m, "alice", 2.50)
	startSession(t, m, "bob", 2.50)

	_, err := m.Cancel(ctx, first.ID, "alice")
	require.NoError(t, err)

	all, err := m.List(ctx, "alice", models.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	cancelled, err := m.List(ctx, "alice", models.SessionFilter{Status: models.SessionStatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	_, err = m.List(ctx, "alice", models.SessionFilter{Limit: 101})
	assert.True(t, models.IsValidation(err))
	_, err = m.List(ctx, "alice", models.SessionFilter{Offset: -1})
	assert.True(t, models.IsValidation(err))
	_, err = m.List(ctx, "alice", models.SessionFilter{Status: "parked"})
	assert.True(t, models.IsValidation(err))
}
