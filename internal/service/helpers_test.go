package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"parking-service/internal/models"
	"parking-service/internal/pricing"
	"parking-service/internal/store"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentNotification struct {
	UserID    string
	EventType string
	Payload   map[string]interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(userID, eventType string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, EventType: eventType, Payload: payload})
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.EventType)
	}
	return out
}

var downtown = models.Location{
	Latitude:     40.7128,
	Longitude:    -74.0060,
	Address:      "1 Centre St",
	Organization: "City Garage",
}

func seedSpot(t *testing.T, mem *store.Memory, id string, lat, lng float64) {
	t.Helper()
	require.NoError(t, mem.UpsertSpot(context.Background(), &models.ParkingSpot{
		ID:         id,
		Latitude:   lat,
		Longitude:  lng,
		HourlyRate: 2.50,
		Status:     models.SpotStatusAvailable,
	}))
}

func newSessionManager(mem *store.Memory, clock *fakeClock, n Notifier) *SessionManager {
	return NewSessionManager(mem, pricing.NewCalculator(pricing.DefaultMinimumCost), n, clock.Now)
}
