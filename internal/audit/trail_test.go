package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	calls atomic.Int32
}

func (s *failingSink) Append(ctx context.Context, e Entry) error {
	s.calls.Add(1)
	return errors.New("database unavailable")
}

func (s *failingSink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	return nil, errors.New("database unavailable")
}

type panickingSink struct{}

func (panickingSink) Append(ctx context.Context, e Entry) error { panic("driver bug") }

func (panickingSink) Query(ctx context.Context, f Filters) ([]Entry, error) { return nil, nil }

type blockingSink struct {
	release chan struct{}
	mem     *MemorySink
}

func (s *blockingSink) Append(ctx context.Context, e Entry) error {
	<-s.release
	return s.mem.Append(ctx, e)
}

func (s *blockingSink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	return s.mem.Query(ctx, f)
}

type countingObserver struct {
	mu      sync.Mutex
	actions []string
}

func (o *countingObserver) AuditWriteFailed(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, action)
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestTrailInlineStampsEntries(t *testing.T) {
	sink := NewMemorySink()
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	trail := NewTrail(sink, nil, TrailConfig{}, WithClock(func() time.Time { return fixed }))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	trail.Append(ctx, LoginSuccess(uuid.New(), RequestMeta{IP: "10.0.0.1", UserAgent: "curl"}))

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
	assert.Equal(t, fixed, entries[0].OccurredAt)
	assert.Equal(t, "req-1", entries[0].Details["requestId"])
	assert.Equal(t, "10.0.0.1", entries[0].IP)
}

func TestTrailSwallowsSinkFailures(t *testing.T) {
	var logs bytes.Buffer
	sink := &failingSink{}
	observer := &countingObserver{}
	trail := NewTrail(sink, quietLogger(&logs), TrailConfig{}, WithObserver(observer))

	assert.NotPanics(t, func() {
		trail.Append(context.Background(), Entry{Action: ActionAccessDenied})
	})
	assert.Equal(t, int32(1), sink.calls.Load())
	assert.Equal(t, []string{ActionAccessDenied}, observer.actions)
	assert.Contains(t, logs.String(), "audit write failed")
}

func TestTrailRecoversSinkPanic(t *testing.T) {
	var logs bytes.Buffer
	trail := NewTrail(panickingSink{}, quietLogger(&logs), TrailConfig{})
	assert.NotPanics(t, func() {
		trail.Append(context.Background(), Entry{Action: ActionLoginFailed})
	})
	assert.Contains(t, logs.String(), "sink panic")
}

func TestTrailAsyncDrainsOnStop(t *testing.T) {
	sink := NewMemorySink()
	trail := NewTrail(sink, nil, TrailConfig{Buffer: 16, Workers: 2, WriteTimeout: time.Second})
	require.NoError(t, trail.Start())
	require.Error(t, trail.Start())

	for i := 0; i < 10; i++ {
		trail.Append(context.Background(), Entry{Action: ActionAccessDenied})
	}
	require.NoError(t, trail.Stop(2*time.Second))
	assert.Equal(t, 10, sink.Count(ActionAccessDenied))
}

func TestTrailAppendDoesNotBlockOnSlowSink(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), mem: NewMemorySink()}
	var logs bytes.Buffer
	trail := NewTrail(sink, quietLogger(&logs), TrailConfig{Buffer: 1, Workers: 1, WriteTimeout: time.Second})
	require.NoError(t, trail.Start())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			trail.Append(context.Background(), Entry{Action: ActionLoginSuccess})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append blocked on a slow sink")
	}

	close(sink.release)
	require.NoError(t, trail.Stop(2*time.Second))
	assert.Equal(t, 5, sink.mem.Count(ActionLoginSuccess))
}

func TestTrailAppendAfterStopStillWrites(t *testing.T) {
	sink := NewMemorySink()
	trail := NewTrail(sink, nil, TrailConfig{Buffer: 4, Workers: 1})
	require.NoError(t, trail.Start())
	require.NoError(t, trail.Stop(time.Second))

	trail.Append(context.Background(), Entry{Action: ActionLoginFailed})
	require.NoError(t, trail.Stop(time.Second))
	assert.Equal(t, 1, sink.Count(ActionLoginFailed))
}

func TestTrailQueryNormalizesLimit(t *testing.T) {
	sink := NewMemorySink()
	trail := NewTrail(sink, nil, TrailConfig{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultQueryLimit+10; i++ {
		trail.Append(context.Background(), Entry{Action: ActionLoginSuccess, OccurredAt: base.Add(time.Duration(i) * time.Minute)})
	}

	entries, err := trail.Query(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, entries, DefaultQueryLimit)
	assert.True(t, entries[0].OccurredAt.After(entries[1].OccurredAt))

	_, err = trail.Query(context.Background(), Filters{From: base.Add(time.Hour), To: base})
	assert.ErrorIs(t, err, ErrInvalidFilters)
}
