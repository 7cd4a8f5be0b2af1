package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-access/civic-access/internal/audit"
)

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveAuditTask(err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func TestAuditPersistJob(t *testing.T) {
	sink := audit.NewMemorySink()
	obs := &countingObserver{}
	job := NewAuditPersistJob(sink, nil, obs)

	e := audit.LoginSuccess(uuid.New(), audit.RequestMeta{IP: "10.0.0.1"})
	e.ID = uuid.New()
	task, err := audit.NewAppendTask(e)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	err = job.Handle(context.Background(), asynq.NewTask(audit.TaskTypeAppend, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 1, obs.failed)
	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func healthOf(t *testing.T, inspector QueueInspector) (int, queueHealth) {
	t.Helper()
	h := NewHandler(inspector, nil, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	var env struct {
		Data queueHealth `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env.Data
}

func TestHealth(t *testing.T) {
	status, health := healthOf(t, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, health.Enabled)

	status, health = healthOf(t, stubInspector{info: &asynq.QueueInfo{Queue: audit.QueueName, Pending: 4, Retry: 1}})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, health.Enabled)
	assert.Equal(t, 4, health.Pending)
	assert.Equal(t, 1, health.Retry)

	status, health = healthOf(t, stubInspector{err: asynq.ErrQueueNotFound})
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, health.Pending)

	status, _ = healthOf(t, stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
