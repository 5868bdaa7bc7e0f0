package media

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scribe/backend/internal/modules/subscription"
	"go.uber.org/zap"
)

const defaultChunkSize = 1024 * 1024 // 1MB

// MediaType is the coarse kind of an upload
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// MediaTypeOf classifies a content type. The match is case-sensitive.
func MediaTypeOf(contentType string) (MediaType, bool) {
	switch {
	case strings.HasPrefix(contentType, "audio/"):
		return MediaAudio, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo, true
	default:
		return "", false
	}
}

// Prober reports the playback length of a local media file in seconds
type Prober interface {
	ProbeDuration(ctx context.Context, path, contentType string) (float64, error)
}

// Recorder receives admission outcomes, typically for metrics
type Recorder interface {
	RecordAdmission(tier, result string)
	RecordProbe(mediaType string, duration time.Duration)
}

// Admission describes an accepted upload
type Admission struct {
	MediaType       MediaType
	SizeBytes       int64
	DurationSeconds float64
}

// Validator decides whether an upload fits the limits of a tier
type Validator struct {
	prober    Prober
	recorder  Recorder
	tempDir   string
	chunkSize int
	limits    func(subscription.Tier) subscription.Limits
	logger    *zap.Logger
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithTempDir sets where uploads are materialized for probing
func WithTempDir(dir string) ValidatorOption {
	return func(v *Validator) { v.tempDir = dir }
}

// WithChunkSize sets the read size used while measuring the body
func WithChunkSize(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.chunkSize = n
		}
	}
}

// WithRecorder reports every outcome to r
func WithRecorder(r Recorder) ValidatorOption {
	return func(v *Validator) { v.recorder = r }
}

// WithLimits replaces the tier limit table
func WithLimits(fn func(subscription.Tier) subscription.Limits) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.limits = fn
		}
	}
}

// NewValidator creates a validator that probes with prober
func NewValidator(prober Prober, logger *zap.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		prober:    prober,
		chunkSize: defaultChunkSize,
		limits:    subscription.LimitsFor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks body against the limits of tier. It returns nil or a
// *ValidationError for rejections; any other error is an I/O fault.
func (v *Validator) Validate(ctx context.Context, body io.ReadSeeker, contentType, filename string, tier subscription.Tier) error {
	_, err := v.Admit(ctx, body, contentType, filename, tier)
	return err
}

// Admit is Validate that also reports what was measured.
// Checks run in a fixed order: content type, size, then duration. body is
// rewound to offset 0 before returning, whatever the outcome.
func (v *Validator) Admit(ctx context.Context, body io.ReadSeeker, contentType, filename string, tier subscription.Tier) (adm Admission, err error) {
	defer func() {
		if _, serr := body.Seek(0, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("failed to rewind upload: %w", serr)
		}
		v.record(tier, err)
	}()

	mediaType, ok := MediaTypeOf(contentType)
	if !ok {
		return adm, &ValidationError{
			Reason:  ReasonInvalidFileType,
			Message: "Invalid file type. Only audio and video files are allowed.",
		}
	}
	adm.MediaType = mediaType

	// Resolved once so every check in this call sees the same limits
	limits := v.limits(tier)

	size, err := v.measure(ctx, body, limits.MaxBytes)
	if err != nil {
		return adm, err
	}
	if size > limits.MaxBytes {
		return adm, &ValidationError{
			Reason:  ReasonFileTooLarge,
			Message: fmt.Sprintf("File size exceeds %s limit", limits.SizeLabel),
		}
	}
	adm.SizeBytes = size

	if size == 0 {
		return adm, durationRequired()
	}

	duration, err := v.probe(ctx, body, size, contentType, filename, mediaType)
	if err != nil {
		return adm, err
	}
	if duration > limits.MaxDurationSeconds {
		return adm, &ValidationError{
			Reason:  ReasonDurationExceeded,
			Message: fmt.Sprintf("File duration exceeds %s limit", limits.DurationLabel),
		}
	}
	adm.DurationSeconds = duration

	return adm, nil
}

// measure reads body from the start in chunks and stops as soon as the running
// total passes max. The returned size is only exact when it is <= max.
func (v *Validator) measure(ctx context.Context, body io.ReadSeeker, max int64) (int64, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind upload: %w", err)
	}

	buf := make([]byte, v.chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := body.Read(buf)
		total += int64(n)
		if total > max {
			return total, nil
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("failed to read upload: %w", err)
		}
	}
}

// probe copies body into a scoped temp file and asks the prober for its
// duration. The temp file is removed before returning.
func (v *Validator) probe(ctx context.Context, body io.ReadSeeker, size int64, contentType, filename string, mediaType MediaType) (float64, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind upload: %w", err)
	}

	tmp, err := os.CreateTemp(v.tempDir, "upload-*"+tempSuffix(filename))
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			v.logger.Warn("Failed to remove temp upload", zap.String("path", tmpPath), zap.Error(rerr))
		}
	}()

	buf := make([]byte, v.chunkSize)
	written, err := io.CopyBuffer(tmp, body, buf)
	if err != nil {
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if written != size {
		return 0, fmt.Errorf("upload changed while reading: measured %d bytes, copied %d", size, written)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush temp file: %w", err)
	}

	start := time.Now()
	duration, err := v.probeSafely(ctx, tmpPath, contentType)
	if v.recorder != nil {
		v.recorder.RecordProbe(string(mediaType), time.Since(start))
	}
	if err != nil {
		v.logger.Debug("Duration probe failed", zap.String("content_type", contentType), zap.Error(err))
		return 0, durationRequired()
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, durationRequired()
	}
	return duration, nil
}

// probeSafely turns a panicking prober into an ordinary probe failure
func (v *Validator) probeSafely(ctx context.Context, path, contentType string) (duration float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return v.prober.ProbeDuration(ctx, path, contentType)
}

func (v *Validator) record(tier subscription.Tier, err error) {
	if v.recorder == nil {
		return
	}
	result := "accepted"
	if ve, ok := AsValidationError(err); ok {
		result = string(ve.Reason)
	} else if err != nil {
		result = "error"
	}
	v.recorder.RecordAdmission(string(subscription.ParseTier(string(tier))), result)
}

func durationRequired() error {
	return &ValidationError{
		Reason:  ReasonDurationRequired,
		Message: "File duration is required.",
	}
}

// tempSuffix keeps the filename extension when it is short and plain
func tempSuffix(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
