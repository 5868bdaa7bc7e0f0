package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/scribe/backend/internal/modules/uploads"
	"go.uber.org/zap"
)

// Recorder receives job lifecycle events, typically for metrics
type Recorder interface {
	RecordTranscriptionStarted()
	RecordTranscriptionPoll(state string)
	RecordTranscriptionFinished(status string, latency time.Duration)
}

// ServiceConfig contains dependencies for the service
type ServiceConfig struct {
	Client       Client
	Queue        Enqueuer
	Files        *uploads.Repository
	Language     string
	PollInterval time.Duration
	Recorder     Recorder // optional
	Logger       *zap.Logger
}

// Service starts jobs for new uploads and reports their progress
type Service struct {
	client       Client
	queue        Enqueuer
	files        *uploads.Repository
	language     string
	pollInterval time.Duration
	recorder     Recorder
	logger       *zap.Logger
}

// NewService creates a new transcription service
func NewService(cfg ServiceConfig) *Service {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Service{
		client:       cfg.Client,
		queue:        cfg.Queue,
		files:        cfg.Files,
		language:     cfg.Language,
		pollInterval: cfg.PollInterval,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
	}
}

// Begin starts a job for an accepted upload and schedules the first poll
func (s *Service) Begin(ctx context.Context, req uploads.TranscriptionRequest) (string, error) {
	format, err := MediaFormat(req.Filename, req.ContentType)
	if err != nil {
		return "", err
	}

	name := JobName(req.FileID)
	if err := s.client.Start(ctx, Job{
		Name:         name,
		MediaURI:     req.MediaURI,
		MediaFormat:  format,
		LanguageCode: s.language,
	}); err != nil {
		return "", err
	}
	if s.recorder != nil {
		s.recorder.RecordTranscriptionStarted()
	}

	if err := s.files.Update(ctx, req.UserID, req.MediaType, req.FileID, map[string]any{
		"transcription_job":    name,
		"transcription_status": string(StateQueued),
	}); err != nil {
		return "", fmt.Errorf("failed to record transcription job: %w", err)
	}

	// The job is running either way; a missed poll only delays the stored status.
	if err := s.queue.EnqueuePoll(ctx, PollPayload{
		JobName:   name,
		UserID:    req.UserID,
		FileID:    req.FileID,
		MediaType: req.MediaType,
		StartedAt: time.Now().UTC(),
	}, s.pollInterval); err != nil {
		s.logger.Error("Failed to schedule transcription poll",
			zap.String("job_name", name),
			zap.Error(err),
		)
	}

	return name, nil
}

// Status returns the live state of the job attached to an upload
func (s *Service) Status(ctx context.Context, rec *uploads.FileRecord) (Status, error) {
	if rec.TranscriptionJob == "" {
		return Status{State: State(uploads.TranscriptionNotStarted), FailureReason: rec.TranscriptionError}, nil
	}
	// Terminal states are final; answer from the record
	switch State(rec.TranscriptionStatus) {
	case StateCompleted:
		return Status{State: StateCompleted}, nil
	case StateFailed:
		return Status{State: StateFailed, FailureReason: rec.TranscriptionError}, nil
	}
	return s.client.Status(ctx, rec.TranscriptionJob)
}
