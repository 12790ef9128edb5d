package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	ScheduledPostID int64 `json:"scheduled_post_id"`
}

func NewPublishPostPayload(scheduledPostID int64) ([]byte, error) {
	return json.Marshal(PublishPostPayload{ScheduledPostID: scheduledPostID})
}

// Executor runs one publish attempt for the scheduled post named by a delivered signal.
type Executor interface {
	OnSignal(ctx context.Context, scheduledPostID int64) error
}

type Queue struct {
	executor Executor
	log      zerolog.Logger
}

func NewQueue(executor Executor, log zerolog.Logger) *Queue {
	return &Queue{
		executor: executor,
		log:      log.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishPost, q.HandlePublishPostTask)
}
