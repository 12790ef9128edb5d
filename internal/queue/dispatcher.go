package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Dispatcher delivers a deferred signal at or after notBefore, at least once.
type Dispatcher interface {
	// Dispatch schedules a signal and returns a handle that is unique per call.
	// subject names the record the signal is about and is embedded in the handle.
	Dispatch(ctx context.Context, kind, subject string, payload []byte, notBefore time.Time) (string, error)
	// Cancel withdraws a pending signal. It is best-effort: a handle that already fired or is unknown is not an error.
	Cancel(ctx context.Context, handle string) error
}

// DispatchPublish requests a publish signal for a scheduled post.
func DispatchPublish(ctx context.Context, d Dispatcher, scheduledPostID int64, notBefore time.Time) (string, error) {
	payload, err := NewPublishPostPayload(scheduledPostID)
	if err != nil {
		return "", fmt.Errorf("encoding publish payload: %w", err)
	}
	return d.Dispatch(ctx, TaskTypePublishPost, strconv.FormatInt(scheduledPostID, 10), payload, notBefore)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
}

const handleAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

type AsynqDispatcher struct {
	client    enqueuer
	inspector taskDeleter
	queue     string
	maxRetry  int
	log       zerolog.Logger
}

func NewAsynqDispatcher(client enqueuer, inspector taskDeleter, queue string, log zerolog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		queue:     queue,
		maxRetry:  10,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch enqueues the task with a handle of the form <kind>:<subject>:<nanoid>.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, kind, subject string, payload []byte, notBefore time.Time) (string, error) {
	id, err := gonanoid.Generate(handleAlphabet, 16)
	if err != nil {
		return "", fmt.Errorf("generating task handle: %w", err)
	}
	handle := kind + ":" + subject + ":" + id

	task := asynq.NewTask(kind, payload)
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(handle),
		asynq.ProcessAt(notBefore),
		asynq.Queue(d.queue),
		asynq.MaxRetry(d.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing %s: %w", kind, err)
	}

	d.log.Debug().
		Str("handle", handle).
		Str("queue", info.Queue).
		Time("process_at", notBefore).
		Msg("task dispatched")
	return handle, nil
}

func (d *AsynqDispatcher) Cancel(_ context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	err := d.inspector.DeleteTask(d.queue, handle)
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("deleting task %s: %w", handle, err)
}
