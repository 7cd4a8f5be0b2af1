package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/civic-access/civic-access/internal/audit"
)

// Queue priorities served by the worker.
var Queues = map[string]int{
	audit.QueueName: 1,
}

// TaskObserver counts processed tasks.
type TaskObserver interface {
	ObserveAuditTask(err error)
}

// AuditPersistJob writes queued audit entries into the durable sink.
type AuditPersistJob struct {
	handler  *audit.TaskHandler
	logger   *slog.Logger
	observer TaskObserver
}

// NewAuditPersistJob constructs the audit:append handler.
func NewAuditPersistJob(sink audit.Sink, logger *slog.Logger, observer TaskObserver) *AuditPersistJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPersistJob{handler: audit.NewTaskHandler(sink), logger: logger, observer: observer}
}

// Handle persists one entry. Failures are retried by asynq unless the payload
// is undecodable.
func (j *AuditPersistJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("audit persist: handler not configured")
	}
	err := j.handler.Handle(ctx, t)
	if j.observer != nil {
		j.observer.ObserveAuditTask(err)
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, asynq.SkipRetry) {
			level = slog.LevelError
		}
		j.logger.Log(ctx, level, "persist audit entry", slog.Any("error", err))
	}
	return err
}
