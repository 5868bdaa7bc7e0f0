package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/modules/subscription"
	"go.uber.org/zap"
)

// TierSource resolves a user's subscription
type TierSource interface {
	GetTier(ctx context.Context, userID string) subscription.Subscription
}

// Admitter checks an upload against tier limits
type Admitter interface {
	Admit(ctx context.Context, body io.ReadSeeker, contentType, filename string, tier subscription.Tier) (media.Admission, error)
}

// ObjectStore is the object storage the module writes to
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	URI(key string) string
}

// TranscriptionRequest describes an accepted upload to transcribe
type TranscriptionRequest struct {
	UserID      string
	FileID      string
	MediaType   media.MediaType
	Filename    string
	ContentType string
	MediaURI    string
}

// Transcriber starts transcription for an upload and returns the job name
type Transcriber interface {
	Begin(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Recorder receives accepted upload sizes
type Recorder interface {
	RecordUpload(mediaType string, bytes int64)
}

// Options are the behavior switches of the module
type Options struct {
	// SkipValidation bypasses size and duration admission. Test environments only.
	SkipValidation bool
	// URLTTL is the lifetime of the signed file URL (default one hour)
	URLTTL time.Duration
}

// Config contains dependencies for the upload module
type Config struct {
	Tiers       TierSource
	Admitter    Admitter
	Storage     ObjectStore
	Files       *Repository
	Transcriber Transcriber // optional
	Recorder    Recorder    // optional
	Options     Options
	Logger      *zap.Logger
}

// Module accepts media uploads: admission, storage, record keeping and
// kicking off transcription
type Module struct {
	tiers       TierSource
	admitter    Admitter
	storage     ObjectStore
	files       *Repository
	transcriber Transcriber
	recorder    Recorder
	opts        Options
	logger      *zap.Logger
}

// NewModule creates a new upload module
func NewModule(cfg Config) *Module {
	if cfg.Options.URLTTL <= 0 {
		cfg.Options.URLTTL = time.Hour
	}
	return &Module{
		tiers:       cfg.Tiers,
		admitter:    cfg.Admitter,
		storage:     cfg.Storage,
		files:       cfg.Files,
		transcriber: cfg.Transcriber,
		recorder:    cfg.Recorder,
		opts:        cfg.Options,
		logger:      cfg.Logger,
	}
}

// UploadRequest is one incoming media file
type UploadRequest struct {
	UserID      string
	Filename    string
	ContentType string
	Body        io.ReadSeeker
}

// UploadResult is returned to the client after a successful upload
type UploadResult struct {
	FileID           string            `json:"fileId"`
	Filename         string            `json:"filename"`
	FileURL          string            `json:"fileUrl"`
	MediaType        media.MediaType   `json:"mediaType"`
	Tier             subscription.Tier `json:"tier"`
	SizeBytes        int64             `json:"sizeBytes"`
	DurationSeconds  float64           `json:"durationSeconds,omitempty"`
	TranscriptionJob string            `json:"transcriptionJob,omitempty"`
}

// Upload admits, stores and records a media file. Admission rejections are
// returned as *media.ValidationError.
func (m *Module) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if !validSegment(req.UserID) {
		return nil, ErrInvalidUserID
	}

	name := cleanFilename(req.Filename)
	sub := m.tiers.GetTier(ctx, req.UserID)
	tier := sub.EffectiveTier()

	adm, err := m.admit(ctx, req, name, tier)
	if err != nil {
		if ve, ok := media.AsValidationError(err); ok {
			m.logger.Warn("Upload rejected",
				zap.String("user_id", req.UserID),
				zap.String("tier", string(tier)),
				zap.String("reason", string(ve.Reason)),
			)
		}
		return nil, err
	}

	uniqueName := uuid.NewString() + "_" + name
	key := strings.Join([]string{req.UserID, string(adm.MediaType), uniqueName}, "/")

	if err := m.storage.Put(ctx, key, req.Body, req.ContentType); err != nil {
		return nil, err
	}

	url, err := m.storage.SignURL(ctx, key, m.opts.URLTTL)
	if err != nil {
		m.discard(key)
		return nil, err
	}

	rec := &FileRecord{
		UserID:              req.UserID,
		Filename:            uniqueName,
		OriginalFilename:    name,
		FileURL:             url,
		ContentType:         req.ContentType,
		MediaType:           adm.MediaType,
		StorageKey:          key,
		SizeBytes:           adm.SizeBytes,
		DurationSeconds:     adm.DurationSeconds,
		UploadTimestamp:     time.Now().UTC(),
		TranscriptionStatus: TranscriptionNotStarted,
	}
	if err := m.files.Create(ctx, rec); err != nil {
		m.discard(key)
		return nil, err
	}

	if m.recorder != nil && adm.SizeBytes > 0 {
		m.recorder.RecordUpload(string(adm.MediaType), adm.SizeBytes)
	}

	result := &UploadResult{
		FileID:          rec.ID,
		Filename:        uniqueName,
		FileURL:         url,
		MediaType:       adm.MediaType,
		Tier:            tier,
		SizeBytes:       adm.SizeBytes,
		DurationSeconds: adm.DurationSeconds,
	}
	result.TranscriptionJob = m.startTranscription(ctx, rec)

	m.logger.Info("Upload stored",
		zap.String("user_id", req.UserID),
		zap.String("file_id", rec.ID),
		zap.String("media_type", string(adm.MediaType)),
		zap.Int64("size_bytes", adm.SizeBytes),
		zap.Float64("duration_seconds", adm.DurationSeconds),
	)

	return result, nil
}

// List returns the caller's uploads of one media type
func (m *Module) List(ctx context.Context, userID string, mediaType media.MediaType) ([]*FileRecord, error) {
	return m.files.List(ctx, userID, mediaType)
}

// Get returns one of the caller's uploads
func (m *Module) Get(ctx context.Context, userID string, mediaType media.MediaType, fileID string) (*FileRecord, error) {
	return m.files.Get(ctx, userID, mediaType, fileID)
}

func (m *Module) admit(ctx context.Context, req UploadRequest, name string, tier subscription.Tier) (media.Admission, error) {
	if !m.opts.SkipValidation {
		return m.admitter.Admit(ctx, req.Body, req.ContentType, name, tier)
	}

	// The storage layout still needs a media type
	mediaType, ok := media.MediaTypeOf(req.ContentType)
	if !ok {
		return media.Admission{}, &media.ValidationError{
			Reason:  media.ReasonInvalidFileType,
			Message: "Invalid file type. Only audio and video files are allowed.",
		}
	}
	size, err := req.Body.Seek(0, io.SeekEnd)
	if err != nil {
		return media.Admission{}, fmt.Errorf("failed to size upload: %w", err)
	}
	if _, err := req.Body.Seek(0, io.SeekStart); err != nil {
		return media.Admission{}, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return media.Admission{MediaType: mediaType, SizeBytes: size}, nil
}

// startTranscription is best effort: the upload is kept even if the job cannot start
func (m *Module) startTranscription(ctx context.Context, rec *FileRecord) string {
	if m.transcriber == nil {
		return ""
	}

	jobName, err := m.transcriber.Begin(ctx, TranscriptionRequest{
		UserID:      rec.UserID,
		FileID:      rec.ID,
		MediaType:   rec.MediaType,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		MediaURI:    m.storage.URI(rec.StorageKey),
	})
	if err != nil {
		m.logger.Error("Failed to start transcription",
			zap.String("user_id", rec.UserID),
			zap.String("file_id", rec.ID),
			zap.Error(err),
		)
		if uerr := m.files.Update(ctx, rec.UserID, rec.MediaType, rec.ID, map[string]any{
			"transcription_error": err.Error(),
		}); uerr != nil {
			m.logger.Warn("Failed to record transcription error", zap.String("file_id", rec.ID), zap.Error(uerr))
		}
		return ""
	}
	return jobName
}

// discard removes an object whose record could not be written
func (m *Module) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.storage.Delete(ctx, key); err != nil {
		m.logger.Warn("Failed to remove orphaned upload", zap.String("key", key), zap.Error(err))
	}
}

// cleanFilename keeps only the base name of a client supplied filename
// validSegment reports whether s is usable as one segment of a storage key
// or document path
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "upload"
	}
	return name
}
