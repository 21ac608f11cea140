package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"parking-service/internal/gateway"
	"parking-service/internal/models"
	"parking-service/internal/pricing"
	"parking-service/internal/service"
	"parking-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router *gin.Engine
	mem    *store.Memory
	clock  *testClock
}

func newTestServer(t *testing.T, readiness map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, mem.UpsertSpot(context.Background(), &models.ParkingSpot{
		ID: "spot-1", Latitude: 40.7130, Longitude: -74.0060, HourlyRate: 2.50,
	}))

	spots := service.NewSpotLocator(mem, nil, service.SpotLocatorOptions{Clock: clock.Now})
	sessions := service.NewSessionManager(mem, pricing.NewCalculator(pricing.DefaultMinimumCost), nil, clock.Now)
	payments := service.NewPaymentOrchestrator(mem, gateway.NewSimulator(0), nil, "usd", clock.Now)

	router := gin.New()
	NewHandler(spots, sessions, payments, readiness).SetupRoutes(router)
	return &testServer{router: router, mem: mem, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

var startBody = gin.H{
	"latitude":     40.7128,
	"longitude":    -74.0060,
	"address":      "1 Centre St",
	"organization": "City Garage",
	"hourly_rate":  2.50,
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{"store": store.NewMemory()})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)

	s = newTestServer(t, map[string]Pinger{"redis": failingPinger{}})
	w := s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestRequiresUserHeader(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartSessionValidation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", "alice", gin.H{
		"latitude":     95.0,
		"longitude":    -74.0,
		"organization": "City Garage",
		"hourly_rate":  2.5,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Fields []models.ValidationError `json:"fields"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "latitude", resp.Fields[0].Field)

	body := gin.H{"latitude": 40.0, "longitude": -74.0, "organization": "City Garage", "hourly_rate": -1.0}
	w = s.do(t, http.MethodPost, "/api/v1/sessions", "alice", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", "alice", startBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ParkingSession
	decode(t, w, &sess)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Equal(t, "City Garage", sess.Organization)

	w = s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/sessions/unknown", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/extend", "alice", gin.H{"extra_minutes": 30})
	require.Equal(t, http.StatusOK, w.Code)

	s.clock.Advance(90 * time.Minute)
	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &sess)
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)
	require.NotNil(t, sess.Cost)
	assert.InDelta(t, 3.75, *sess.Cost, 1e-9)

	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/sessions?status=completed", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = s.do(t, http.MethodGet, "/api/v1/sessions?limit=500", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpotSearchAndReservation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/spots?lat=40.7128&lng=-74.0060&radius=500", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Spots []models.SpotWithDistance `json:"spots"`
	}
	decode(t, w, &found)
	require.Len(t, found.Spots, 1)
	assert.Equal(t, "spot-1", found.Spots[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/spots?lat=40.7128&radius=500", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/spots/spot-1/reservations", "alice", gin.H{"duration_minutes": 30})
	require.Equal(t, http.StatusCreated, w.Code)
	var res models.Reservation
	decode(t, w, &res)

	w = s.do(t, http.MethodPost, "/api/v1/spots/spot-1/reservations", "bob", gin.H{"duration_minutes": 30})
	assert.Equal(t, http.StatusConflict, w.Code)

	body := gin.H{}
	for k, v := range startBody {
		body[k] = v
	}
	body["reservation_id"] = res.ID
	w = s.do(t, http.MethodPost, "/api/v1/sessions", "alice", body)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", "alice", startBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess models.ParkingSession
	decode(t, w, &sess)

	w = s.do(t, http.MethodPost, "/api/v1/payments/intents", "alice", gin.H{
		"session_id": sess.ID, "payment_method": "pm_card_visa",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	s.clock.Advance(90 * time.Minute)
	w = s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/payments/intents", "alice", gin.H{
		"session_id": sess.ID, "payment_method": "pm_card_visa",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var record models.PaymentRecord
	decode(t, w, &record)
	assert.Equal(t, models.PaymentStatusPending, record.Status)
	assert.InDelta(t, 3.75, record.Amount, 1e-9)

	w = s.do(t, http.MethodPost, "/api/v1/payments/"+record.ID+"/refund", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/payments/confirm", "alice", gin.H{
		"session_id": sess.ID, "payment_intent_id": record.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &record)
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)

	w = s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &sess)
	assert.Equal(t, models.SessionStatusPaid, sess.Status)

	w = s.do(t, http.MethodGet, "/api/v1/me/stats", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.UserStats
	decode(t, w, &stats)
	assert.InDelta(t, 3.75, stats.TotalSpent, 1e-9)

	w = s.do(t, http.MethodPost, "/api/v1/payments/"+record.ID+"/refund", "alice", gin.H{"amount": 1.00})
	require.Equal(t, http.StatusOK, w.Code)
	var refund models.Refund
	decode(t, w, &refund)
	assert.InDelta(t, 1.00, refund.Amount, 1e-9)

	w = s.do(t, http.MethodGet, "/api/v1/payments", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/payments/"+record.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeclinedConfirmationIsPaymentRequired(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", "alice", startBody)
	var sess models.ParkingSession
	decode(t, w, &sess)
	s.clock.Advance(10 * time.Minute)
	s.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", "alice", nil)

	w = s.do(t, http.MethodPost, "/api/v1/payments/intents", "alice", gin.H{
		"session_id": sess.ID, "payment_method": gateway.DeclinedPaymentMethod,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var record models.PaymentRecord
	decode(t, w, &record)

	w = s.do(t, http.MethodPost, "/api/v1/payments/confirm", "alice", gin.H{
		"session_id": sess.ID, "payment_intent_id": record.ID,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	decode(t, w, &record)
	assert.Equal(t, models.PaymentStatusFailed, record.Status)
}

func TestRespondErrorMapsGatewayExhaustion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, errors.Join(errors.New("confirm_intent failed after 3 attempts"), gateway.ErrTransient))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
