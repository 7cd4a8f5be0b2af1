package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Recorder accepts audit entries. Append never fails the caller.
type Recorder interface {
	Append(ctx context.Context, e Entry)
}

// FailureObserver is notified when an entry could not be persisted.
type FailureObserver interface {
	AuditWriteFailed(action string)
}

// TrailConfig tunes the asynchronous writer.
type TrailConfig struct {
	// Buffer is the queue capacity in entries.
	Buffer int
	// Workers is the number of writer goroutines. Zero writes inline.
	Workers int
	// WriteTimeout bounds one sink write.
	WriteTimeout time.Duration
}

// DefaultTrailConfig returns the production defaults.
func DefaultTrailConfig() TrailConfig {
	return TrailConfig{Buffer: 1024, Workers: 2, WriteTimeout: 5 * time.Second}
}

// TrailOption customises a Trail.
type TrailOption func(*Trail)

// WithObserver reports write failures to o.
func WithObserver(o FailureObserver) TrailOption {
	return func(t *Trail) {
		t.observer = o
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) TrailOption {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// Trail is the best-effort front of a Sink. Entries are queued and written by
// background workers with a context detached from the originating request, so
// a cancelled or timed-out request still gets its entry persisted.
type Trail struct {
	sink     Sink
	logger   *slog.Logger
	cfg      TrailConfig
	observer FailureObserver
	now      func() time.Time

	mu       sync.RWMutex
	queue    chan Entry
	running  bool
	workers  sync.WaitGroup
	detached sync.WaitGroup
}

// NewTrail constructs a Trail. Call Start before serving traffic when
// cfg.Workers is positive.
func NewTrail(sink Sink, logger *slog.Logger, cfg TrailConfig, opts ...TrailOption) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	t := &Trail{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the writer goroutines.
func (t *Trail) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("audit: trail already started")
	}
	if t.cfg.Workers <= 0 {
		return nil
	}
	t.queue = make(chan Entry, t.cfg.Buffer)
	for i := 0; i < t.cfg.Workers; i++ {
		t.workers.Add(1)
		go t.worker(t.queue)
	}
	t.running = true
	t.logger.Info("audit trail started", slog.Int("workers", t.cfg.Workers), slog.Int("buffer", t.cfg.Buffer))
	return nil
}

// Stop closes the queue and waits for pending writes up to timeout.
func (t *Trail) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if t.running {
		t.running = false
		close(t.queue)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.workers.Wait()
		t.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit: stop timed out after %v", timeout)
	}
}

// Append stamps e and hands it to the writer. It never blocks on the sink and
// never reports failure to the caller.
func (t *Trail) Append(ctx context.Context, e Entry) {
	if t == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = t.now().UTC()
	}
	if ctx != nil {
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			if _, ok := e.Details["requestId"]; !ok {
				details := make(map[string]any, len(e.Details)+1)
				for k, v := range e.Details {
					details[k] = v
				}
				details["requestId"] = reqID
				e.Details = details
			}
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cfg.Workers <= 0 {
		t.write(e)
		return
	}
	if t.running {
		select {
		case t.queue <- e:
			return
		default:
			t.logger.Warn("audit queue full, writing detached", slog.String("action", e.Action))
		}
	}
	t.detached.Add(1)
	go func() {
		defer t.detached.Done()
		t.write(e)
	}()
}

// Query returns entries matching f, newest first.
func (t *Trail) Query(ctx context.Context, f Filters) ([]Entry, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	return t.sink.Query(ctx, f)
}

func (t *Trail) worker(queue <-chan Entry) {
	defer t.workers.Done()
	for e := range queue {
		t.write(e)
	}
}

func (t *Trail) write(e Entry) {
	defer func() {
		if r := recover(); r != nil {
			t.fail(e, fmt.Errorf("audit: sink panic: %v", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	if err := t.sink.Append(ctx, e); err != nil {
		t.fail(e, err)
	}
}

func (t *Trail) fail(e Entry, err error) {
	t.logger.Error("audit write failed",
		slog.String("action", e.Action),
		slog.String("entry_id", e.ID.String()),
		slog.Any("error", err),
	)
	if t.observer != nil {
		t.observer.AuditWriteFailed(e.Action)
	}
}

var _ Recorder = (*Trail)(nil)
