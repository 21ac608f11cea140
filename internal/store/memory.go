package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parking-service/internal/geo"
	"parking-service/internal/models"
)

// Memory implements the store contract in process. Every conditional write
// checks its precondition and applies under one lock, matching the
// transactional behaviour of Store.
type Memory struct {
	mu           sync.Mutex
	spots        map[string]models.ParkingSpot
	reservations map[string]models.Reservation
	sessions     map[string]models.ParkingSession
	payments     map[string]models.PaymentRecord
	idem         map[string]string // idempotency key -> payment id
	stats        map[string]models.UserStats
	events       map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		spots:        make(map[string]models.ParkingSpot),
		reservations: make(map[string]models.Reservation),
		sessions:     make(map[string]models.ParkingSession),
		payments:     make(map[string]models.PaymentRecord),
		idem:         make(map[string]string),
		stats:        make(map[string]models.UserStats),
		events:       make(map[string]string),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) UpsertSpot(ctx context.Context, spot *models.ParkingSpot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.spots[spot.ID]
	if !ok {
		cur = models.ParkingSpot{ID: spot.ID, Status: spot.Status}
		if cur.Status == "" {
			cur.Status = models.SpotStatusAvailable
		}
	}
	cur.Latitude = spot.Latitude
	cur.Longitude = spot.Longitude
	cur.Label = spot.Label
	cur.Organization = spot.Organization
	cur.HourlyRate = spot.HourlyRate
	cur.UpdatedAt = time.Now().UTC()
	m.spots[spot.ID] = cur
	return nil
}

func (m *Memory) GetSpot(ctx context.Context, id string) (*models.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spot, ok := m.spots[id]
	if !ok {
		return nil, fmt.Errorf("spot %s: %w", id, ErrNotFound)
	}
	return &spot, nil
}

func (m *Memory) ListCandidateSpots(ctx context.Context, box geo.Box, now time.Time) ([]models.ParkingSpot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.ParkingSpot{}
	for _, spot := range m.spots {
		if box.Contains(spot.Coordinate()) && spot.IsAvailable(now) {
			out = append(out, spot)
		}
	}
	return out, nil
}

func (m *Memory) ReserveSpot(ctx context.Context, res *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	spot, ok := m.spots[res.SpotID]
	if !ok || !spot.IsAvailable(res.StartTime) {
		return ErrConflict
	}

	userID := res.UserID
	until := res.ReservedUntil
	spot.Status = models.SpotStatusReserved
	spot.ReservedBy = &userID
	spot.ReservedUntil = &until
	spot.UpdatedAt = res.StartTime
	m.spots[spot.ID] = spot
	m.reservations[res.ID] = *res
	return nil
}

func (m *Memory) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return &res, nil
}

func (m *Memory) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, spot := range m.spots {
		if spot.ReservationExpired(now) {
			spot.Status = models.SpotStatusAvailable
			spot.ReservedBy = nil
			spot.ReservedUntil = nil
			spot.UpdatedAt = now
			m.spots[id] = spot
			n++
		}
	}
	return n, nil
}

func (m *Memory) StartSession(ctx context.Context, sess *models.ParkingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.ReservationID != nil && sess.SpotID != nil {
		spot, ok := m.spots[*sess.SpotID]
		if !ok || spot.Status != models.SpotStatusReserved || spot.ReservedBy == nil ||
			*spot.ReservedBy != sess.UserID || spot.ReservationExpired(sess.StartTime) {
			return ErrConflict
		}
		res, ok := m.reservations[*sess.ReservationID]
		if !ok || res.ConsumedAt != nil {
			return ErrConflict
		}

		consumed := sess.StartTime
		res.ConsumedAt = &consumed
		m.reservations[res.ID] = res

		spot.Status = models.SpotStatusOccupied
		spot.ReservedBy = nil
		spot.ReservedUntil = nil
		spot.UpdatedAt = sess.StartTime
		m.spots[spot.ID] = spot
	}

	stored := *sess
	stored.CreatedAt = sess.StartTime
	stored.UpdatedAt = sess.StartTime
	m.sessions[sess.ID] = stored
	m.addStats(models.UserStats{UserID: sess.UserID, TotalSessions: 1}, sess.StartTime)
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*models.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return &sess, nil
}

func (m *Memory) ListSessions(ctx context.Context, userID string, filter models.SessionFilter) ([]models.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []models.ParkingSession{}
	for _, sess := range m.sessions {
		if sess.UserID != userID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	return page(all, filter.Limit, filter.Offset), nil
}

func (m *Memory) ExtendSession(ctx context.Context, id string, extraMinutes int, estimate float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.Status != models.SessionStatusActive {
		return ErrConflict
	}
	sess.ExtensionMinutes += extraMinutes
	sess.EstimatedCost = &estimate
	sess.UpdatedAt = at
	m.sessions[id] = sess
	return nil
}

func (m *Memory) CompleteSession(ctx context.Context, id string, endTime time.Time, durationMinutes int, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.Status != models.SessionStatusActive {
		return ErrConflict
	}
	sess.Status = models.SessionStatusCompleted
	sess.EndTime = &endTime
	sess.DurationMinutes = &durationMinutes
	sess.Cost = &cost
	sess.UpdatedAt = endTime
	m.sessions[id] = sess

	m.releaseSpot(sess.SpotID, endTime)
	m.addStats(models.UserStats{UserID: sess.UserID, SessionsCompleted: 1}, endTime)
	return nil
}

func (m *Memory) CancelSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.Status != models.SessionStatusActive {
		return ErrConflict
	}
	sess.Status = models.SessionStatusCancelled
	sess.UpdatedAt = at
	m.sessions[id] = sess

	m.releaseSpot(sess.SpotID, at)
	return nil
}

func (m *Memory) CreatePayment(ctx context.Context, p *models.PaymentRecord) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.idem[p.IdempotencyKey]; ok {
		existing := m.payments[id]
		return &existing, nil
	}
	if _, ok := m.payments[p.ID]; ok {
		return nil, fmt.Errorf("payment %s already exists", p.ID)
	}

	stored := *p
	stored.UpdatedAt = p.CreatedAt
	m.payments[p.ID] = stored
	m.idem[p.IdempotencyKey] = p.ID
	return &stored, nil
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *Memory) GetPaymentForSession(ctx context.Context, sessionID, status string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.PaymentRecord
	for _, p := range m.payments {
		if p.SessionID != sessionID || p.Status != status {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			cp := p
			latest = &cp
		}
	}
	return latest, nil
}

func (m *Memory) CountPayments(ctx context.Context, sessionID, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.payments {
		if p.SessionID == sessionID && p.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListPayments(ctx context.Context, userID string, limit, offset int) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []models.PaymentRecord{}
	for _, p := range m.payments {
		if p.UserID == userID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), nil
}

func (m *Memory) ListPaymentsByStatus(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []models.PaymentRecord{}
	for _, p := range m.payments {
		if p.Status == status && !p.UpdatedAt.After(cutoff) {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].ReconciledAt, all[j].ReconciledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return all[i].UpdatedAt.Before(all[j].UpdatedAt)
	})
	return page(all, limit, 0), nil
}

func (m *Memory) MarkPaymentReconciled(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return nil
	}
	p.ReconciledAt = &at
	m.payments[id] = p
	return nil
}

func (m *Memory) MarkPaymentSucceeded(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || (p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusFailed) {
		return false, ErrConflict
	}
	p.Status = models.PaymentStatusSucceeded
	p.FailureReason = nil
	p.SucceededAt = &at
	p.UpdatedAt = at
	m.payments[id] = p

	sessionPaid := false
	if sess, ok := m.sessions[p.SessionID]; ok && sess.Status == models.SessionStatusCompleted {
		sess.Status = models.SessionStatusPaid
		sess.UpdatedAt = at
		m.sessions[sess.ID] = sess
		sessionPaid = true
	}

	m.addStats(models.UserStats{UserID: p.UserID, TotalSpent: p.Amount, PaymentsCompleted: 1}, at)
	return sessionPaid, nil
}

func (m *Memory) MarkPaymentFailed(ctx context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return ErrConflict
	}
	p.Status = models.PaymentStatusFailed
	p.FailureReason = &reason
	p.UpdatedAt = at
	m.payments[id] = p
	return nil
}

func (m *Memory) MarkPaymentRefunded(ctx context.Context, refund *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[refund.PaymentID]
	if !ok || p.Status != models.PaymentStatusSucceeded {
		return ErrConflict
	}
	refundID, amount, reason := refund.ID, refund.Amount, refund.Reason
	p.Status = models.PaymentStatusRefunded
	p.RefundID = &refundID
	p.RefundAmount = &amount
	p.RefundReason = &reason
	p.UpdatedAt = refund.CreatedAt
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stats[userID]
	if !ok {
		st = models.UserStats{UserID: userID}
	}
	return &st, nil
}

func (m *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.events[eventID]
	return ok, nil
}

func (m *Memory) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[eventID] = eventType
	return nil
}

// caller holds m.mu
func (m *Memory) releaseSpot(spotID *string, at time.Time) {
	if spotID == nil {
		return
	}
	if spot, ok := m.spots[*spotID]; ok && spot.Status == models.SpotStatusOccupied {
		spot.Status = models.SpotStatusAvailable
		spot.UpdatedAt = at
		m.spots[spot.ID] = spot
	}
}

// caller holds m.mu
func (m *Memory) addStats(delta models.UserStats, at time.Time) {
	st := m.stats[delta.UserID]
	st.UserID = delta.UserID
	st.TotalSessions += delta.TotalSessions
	st.SessionsCompleted += delta.SessionsCompleted
	st.TotalSpent += delta.TotalSpent
	st.PaymentsCompleted += delta.PaymentsCompleted
	st.UpdatedAt = at
	m.stats[delta.UserID] = st
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
