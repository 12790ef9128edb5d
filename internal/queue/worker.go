package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		q.log.Error().Err(err).Str("task_type", task.Type()).Msg("malformed publish payload")
		return fmt.Errorf("decoding publish payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ScheduledPostID <= 0 {
		return fmt.Errorf("publish payload without scheduled post id: %w", asynq.SkipRetry)
	}

	// errors returned here are store or dispatcher outages; asynq redelivers the signal
	if err := q.executor.OnSignal(ctx, payload.ScheduledPostID); err != nil {
		q.log.Warn().Err(err).Int64("scheduled_post_id", payload.ScheduledPostID).Msg("publish signal not processed")
		return err
	}
	return nil
}
