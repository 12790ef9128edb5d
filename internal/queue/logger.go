package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Logger adapts zerolog to asynq.Logger.
type Logger struct {
	log zerolog.Logger
}

var _ asynq.Logger = Logger{}

func NewLogger(log zerolog.Logger) Logger {
	return Logger{log: log.With().Str("component", "asynq").Logger()}
}

func (l Logger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l Logger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l Logger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l Logger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l Logger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

// ErrorHandler logs every failed task delivery with its retry position.
func ErrorHandler(log zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		log.Warn().Err(err).
			Str("task_type", task.Type()).
			Int("retried", retried).
			Int("max_retry", maxRetry).
			Msg("task delivery failed")
	})
}
