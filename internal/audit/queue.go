package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Queue settings for asynchronous persistence.
const (
	TaskTypeAppend = "audit:append"
	QueueName      = "audit"
)

// Enqueuer submits tasks; satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands entries to the job queue; the worker persists them with
// TaskHandler. Queries go to reader, the store the worker writes into.
type QueueSink struct {
	client Enqueuer
	reader Sink
}

// NewQueueSink constructs a QueueSink.
func NewQueueSink(client Enqueuer, reader Sink) *QueueSink {
	return &QueueSink{client: client, reader: reader}
}

// NewAppendTask encodes e as an asynq task.
func NewAppendTask(e Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("audit: encode task: %w", err)
	}
	return asynq.NewTask(TaskTypeAppend, payload), nil
}

// Append enqueues e for the worker.
func (s *QueueSink) Append(ctx context.Context, e Entry) error {
	task, err := NewAppendTask(e)
	if err != nil {
		return err
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(QueueName), asynq.MaxRetry(25)); err != nil {
		return fmt.Errorf("audit: enqueue: %w", err)
	}
	return nil
}

// Query delegates to the backing store.
func (s *QueueSink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	return s.reader.Query(ctx, f)
}

// TaskHandler persists queued entries.
type TaskHandler struct {
	sink Sink
}

// NewTaskHandler constructs a handler writing into sink.
func NewTaskHandler(sink Sink) *TaskHandler {
	return &TaskHandler{sink: sink}
}

// Handle processes TaskTypeAppend tasks. Undecodable payloads are not retried.
func (h *TaskHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var e Entry
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		return fmt.Errorf("audit: decode task: %v: %w", err, asynq.SkipRetry)
	}
	return h.sink.Append(ctx, e)
}

var _ Sink = (*QueueSink)(nil)
