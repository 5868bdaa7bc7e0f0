package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/scribe/backend/internal/modules/media"
	"go.uber.org/zap"
)

// Task types
const (
	TypePoll = "transcription:poll"
)

// PollPayload identifies the job and the upload it belongs to
type PollPayload struct {
	JobName   string          `json:"jobName"`
	UserID    string          `json:"userId"`
	FileID    string          `json:"fileId"`
	MediaType media.MediaType `json:"mediaType"`
	StartedAt time.Time       `json:"startedAt"`
	Attempt   int             `json:"attempt"`
}

// Enqueuer schedules status polls
type Enqueuer interface {
	EnqueuePoll(ctx context.Context, payload PollPayload, delay time.Duration) error
}

// RedisConnOpt accepts host:port or a redis:// URL
func RedisConnOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := asynq.ParseRedisURI(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// QueueClient handles job queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisOpt asynq.RedisConnOpt, logger *zap.Logger) *QueueClient {
	return &QueueClient{
		client: asynq.NewClient(redisOpt),
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// NewPollTask builds the asynq task for a payload
func NewPollTask(payload PollPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePoll, data), nil
}

// EnqueuePoll queues a status poll to run after delay
func (q *QueueClient) EnqueuePoll(ctx context.Context, payload PollPayload, delay time.Duration) error {
	task, err := NewPollTask(payload)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue("default"),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.ProcessIn(delay),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue transcription poll",
			zap.String("job_name", payload.JobName),
			zap.Error(err),
		)
		return err
	}

	q.logger.Debug("Transcription poll enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_name", payload.JobName),
		zap.Int("attempt", payload.Attempt),
	)
	return nil
}
