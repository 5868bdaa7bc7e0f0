package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/modules/uploads"
	"go.uber.org/zap"
)

// StatusChannel is the Redis channel status events are published on
const StatusChannel = "transcription:status"

const defaultMaxAttempts = 960 // four hours at the default interval

// StatusEvent is published whenever a job changes state
type StatusEvent struct {
	JobName   string          `json:"jobName"`
	UserID    string          `json:"userId"`
	FileID    string          `json:"fileId"`
	MediaType media.MediaType `json:"mediaType"`
	Status    string          `json:"status"`
	TextID    string          `json:"textId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TextSaver stores a finished transcript and returns its text id
type TextSaver interface {
	SaveText(ctx context.Context, userID string, mediaType media.MediaType, fileID, text string) (string, error)
}

// Publisher fans status events out to API servers
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// HandlerConfig contains dependencies for the poll handler
type HandlerConfig struct {
	Client       Client
	Files        *uploads.Repository
	Texts        TextSaver
	Publisher    Publisher // optional
	Queue        Enqueuer
	PollInterval time.Duration
	MaxAttempts  int
	Recorder     Recorder // optional
	Logger       *zap.Logger
}

// Handler executes transcription poll tasks
type Handler struct {
	client       Client
	files        *uploads.Repository
	texts        TextSaver
	publisher    Publisher
	queue        Enqueuer
	pollInterval time.Duration
	maxAttempts  int
	recorder     Recorder
	logger       *zap.Logger
}

// NewHandler creates a new poll handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Handler{
		client:       cfg.Client,
		files:        cfg.Files,
		texts:        cfg.Texts,
		publisher:    cfg.Publisher,
		queue:        cfg.Queue,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
	}
}

// HandlePoll checks one job. Completed jobs get their transcript saved as
// an AI text; running jobs are polled again later.
func (h *Handler) HandlePoll(ctx context.Context, task *asynq.Task) error {
	var p PollPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	return h.Poll(ctx, p)
}

// Poll is HandlePoll without the task envelope
func (h *Handler) Poll(ctx context.Context, p PollPayload) error {
	status, err := h.client.Status(ctx, p.JobName)
	if err != nil {
		return err
	}
	if h.recorder != nil {
		h.recorder.RecordTranscriptionPoll(string(status.State))
	}

	log := h.logger.With(
		zap.String("job_name", p.JobName),
		zap.String("file_id", p.FileID),
		zap.String("state", string(status.State)),
	)

	switch status.State {
	case StateCompleted:
		return h.complete(ctx, p, log)

	case StateFailed:
		h.finish(ctx, p, StateFailed, status.FailureReason)
		log.Warn("Transcription failed", zap.String("reason", status.FailureReason))
		return nil

	default:
		if p.Attempt+1 >= h.maxAttempts {
			h.finish(ctx, p, State(uploads.TranscriptionTimedOut), "gave up waiting for transcription")
			log.Warn("Transcription poll attempts exhausted", zap.Int("attempt", p.Attempt))
			return nil
		}

		if err := h.update(ctx, p, map[string]any{"transcription_status": string(status.State)}); err != nil {
			return err
		}
		if p.Attempt == 0 {
			h.publish(ctx, StatusEvent{JobName: p.JobName, UserID: p.UserID, FileID: p.FileID, MediaType: p.MediaType, Status: string(status.State)})
		}

		next := p
		next.Attempt++
		return h.queue.EnqueuePoll(ctx, next, h.pollInterval)
	}
}

func (h *Handler) complete(ctx context.Context, p PollPayload, log *zap.Logger) error {
	text, err := h.client.Transcript(ctx, p.JobName)
	if err != nil {
		return err
	}

	textID, err := h.texts.SaveText(ctx, p.UserID, p.MediaType, p.FileID, text)
	if err != nil {
		if errors.Is(err, uploads.ErrFileNotFound) {
			log.Warn("Upload removed before transcription finished")
			return nil
		}
		return err
	}

	if err := h.update(ctx, p, map[string]any{
		"transcription_status": string(StateCompleted),
		"text_id":              textID,
	}); err != nil {
		return err
	}

	if h.recorder != nil {
		h.recorder.RecordTranscriptionFinished(string(StateCompleted), time.Since(p.StartedAt))
	}
	h.publish(ctx, StatusEvent{
		JobName:   p.JobName,
		UserID:    p.UserID,
		FileID:    p.FileID,
		MediaType: p.MediaType,
		Status:    string(StateCompleted),
		TextID:    textID,
	})
	log.Info("Transcription completed", zap.String("text_id", textID), zap.Int("chars", len(text)))
	return nil
}

// finish records a terminal non-success state; store errors are only logged
func (h *Handler) finish(ctx context.Context, p PollPayload, state State, reason string) {
	if err := h.update(ctx, p, map[string]any{
		"transcription_status": string(state),
		"transcription_error":  reason,
	}); err != nil && !errors.Is(err, uploads.ErrFileNotFound) {
		h.logger.Error("Failed to record transcription outcome", zap.String("job_name", p.JobName), zap.Error(err))
	}
	if h.recorder != nil {
		h.recorder.RecordTranscriptionFinished(string(state), time.Since(p.StartedAt))
	}
	h.publish(ctx, StatusEvent{
		JobName:   p.JobName,
		UserID:    p.UserID,
		FileID:    p.FileID,
		MediaType: p.MediaType,
		Status:    string(state),
		Error:     reason,
	})
}

func (h *Handler) update(ctx context.Context, p PollPayload, fields map[string]any) error {
	return h.files.Update(ctx, p.UserID, p.MediaType, p.FileID, fields)
}

func (h *Handler) publish(ctx context.Context, event StatusEvent) {
	if h.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := h.publisher.Publish(ctx, StatusChannel, data); err != nil {
		h.logger.Warn("Failed to publish transcription status", zap.String("job_name", event.JobName), zap.Error(err))
	}
}
