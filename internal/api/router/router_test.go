package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/cron-runner/internal/api/handler"
	"github.com/cuongbtq/cron-runner/internal/runner"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDatabase struct {
	err error
}

func (d *fakeDatabase) HealthCheck(ctx context.Context) error {
	return d.err
}

type fakeBroker struct {
	connected bool
}

func (b *fakeBroker) IsConnected() bool {
	return b.connected
}

type fakeSchedules []runner.ScheduleInfo

func (s fakeSchedules) Schedules() []runner.ScheduleInfo {
	return s
}

func newTestRouter(db handler.HealthChecker, schedules handler.ScheduleLister) *gin.Engine {
	return newTestRouterWithBroker(db, nil, schedules)
}

func newTestRouterWithBroker(db handler.HealthChecker, broker handler.BrokerChecker, schedules handler.ScheduleLister) *gin.Engine {
	gin.SetMode(gin.TestMode)

	return SetupRouter(&handler.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Database:    db,
		Broker:      broker,
		Schedules:   schedules,
		ServiceName: "cron-runner",
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		dbErr      error
		wantStatus int
		wantBody   string
	}{
		{name: "database reachable", wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "database down", dbErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeDatabase{err: tt.dbErr}, fakeSchedules{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
			assert.Equal(t, "cron-runner", body["service"])
			assert.NotContains(t, body, "rabbitmq")
		})
	}
}

func TestHealth_BrokerState(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		dbErr      error
		wantStatus int
		wantState  string
		wantBroker string
	}{
		{name: "broker connected", connected: true, wantStatus: http.StatusOK, wantState: "healthy", wantBroker: "connected"},
		{name: "broker disconnected", connected: false, wantStatus: http.StatusOK, wantState: "degraded", wantBroker: "disconnected"},
		{name: "database down wins", connected: false, dbErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantState: "unhealthy", wantBroker: "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouterWithBroker(&fakeDatabase{err: tt.dbErr}, &fakeBroker{connected: tt.connected}, fakeSchedules{})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantState, body["status"])
			assert.Equal(t, tt.wantBroker, body["rabbitmq"])
		})
	}
}

func TestListSchedules(t *testing.T) {
	next := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	schedules := fakeSchedules{
		{JobID: 1, Expression: "*/5 * * * * *", Timezone: "UTC", NextRun: next},
		{JobID: 4, Expression: "0 0 9 * * *", Timezone: "Asia/Tokyo", NextRun: next.Add(time.Hour)},
	}
	r := newTestRouter(&fakeDatabase{}, schedules)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Schedules []runner.ScheduleInfo `json:"schedules"`
		Count     int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Schedules, 2)
	assert.Equal(t, int64(1), body.Schedules[0].JobID)
	assert.Equal(t, "Asia/Tokyo", body.Schedules[1].Timezone)
	assert.True(t, next.Equal(body.Schedules[0].NextRun))
}

func TestListSchedules_Empty(t *testing.T) {
	r := newTestRouter(&fakeDatabase{}, fakeSchedules{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"schedules":[],"count":0}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&fakeDatabase{}, fakeSchedules{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/schedules", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	r := newTestRouter(&fakeDatabase{}, fakeSchedules{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
