package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/config"
	"github.com/ronittamrakar/Xordon-sub048/engine"
	"github.com/ronittamrakar/Xordon-sub048/handler"
	xtest "github.com/ronittamrakar/Xordon-sub048/internal/testing"
	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

type serverFixture struct {
	server    *Server
	queue     *queue.Store
	schedules *schedule.Store
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db := xtest.CreateTestDB(t)
	q := queue.NewStore(db)
	schedules := schedule.NewStore(db)

	registry := handler.NewRegistry()
	registry.MustRegister(handler.HandlerFunc{
		JobType: "email.send",
		Fn: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"sent":true}`), nil
		},
	})

	dispatcher := engine.NewDispatcher(schedules, q, registry, engine.DefaultConfig(), zap.NewNop().Sugar())

	cfg := config.ServerConfig{Port: 0, TickSecret: "hunter2"}
	srv := New(cfg, dispatcher, registry, schedules, q, zap.NewNop().Sugar())

	return &serverFixture{server: srv, queue: q, schedules: schedules}
}

func (f *serverFixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCronTickRequiresSecret(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cron/tick", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cron/tick?secret=wrong", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/cron/tick?secret=hunter2", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCronTickRunsDispatchCycle(t *testing.T) {
	f := newServerFixture(t)

	_, err := f.queue.Schedule("email.send", json.RawMessage(`{"to":"a@b.c"}`), nil, "", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/cron/tick?secret=hunter2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.TickResult
	decodeBody(t, rec, &result)
	assert.True(t, result.Success)
	assert.Len(t, result.Results.JobsCompleted, 1)
	require.NotNil(t, result.Results.QueueStats)
	assert.Equal(t, 1, result.Results.QueueStats.Completed)
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	_, err := f.queue.Schedule("email.send", json.RawMessage(`{}`), nil, "", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats queue.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Total)
}

func TestQueueJobsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	id, err := f.queue.Schedule("email.send", json.RawMessage(`{}`), nil, "", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/queue/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list ListQueueJobsResponse
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Jobs[0].ID)

	rec = f.do(t, http.MethodGet, "/api/queue/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 0, list.Count)

	rec = f.do(t, http.MethodGet, "/api/queue/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/queue/jobs?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScheduleValidation(t *testing.T) {
	f := newServerFixture(t)

	// Unregistered job type is rejected at save time
	rec := f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Name:         "orphan",
		JobType:      "no.such.handler",
		ScheduleType: "interval",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Name:         "bad type",
		JobType:      "email.send",
		ScheduleType: "fortnightly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		JobType:      "email.send",
		ScheduleType: "interval",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code) // missing name
}

func TestScheduleCRUD(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Name:            "hourly digest",
		JobType:         "email.send",
		ScheduleType:    "interval",
		IntervalMinutes: 60,
		PayloadTemplate: json.RawMessage(`{"template":"digest"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created ScheduledJobResponse
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, 60, created.IntervalMinutes)

	// List
	rec = f.do(t, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListSchedulesResponse
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.Jobs[0].ID)

	// Get
	rec = f.do(t, http.MethodGet, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Patch interval and deactivate
	interval := 30
	active := false
	rec = f.do(t, http.MethodPatch, "/api/schedules/"+created.ID, UpdateScheduleRequest{
		IntervalMinutes: &interval,
		IsActive:        &active,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated ScheduledJobResponse
	decodeBody(t, rec, &updated)
	assert.Equal(t, 30, updated.IntervalMinutes)
	assert.False(t, updated.IsActive)

	// Patch to an unregistered job type is rejected
	badType := "no.such.handler"
	rec = f.do(t, http.MethodPatch, "/api/schedules/"+created.ID, UpdateScheduleRequest{
		JobType: &badType,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Delete
	rec = f.do(t, http.MethodDelete, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleMissingID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/schedules/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/schedules/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
