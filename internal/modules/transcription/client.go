// Package transcription runs speech-to-text jobs for uploaded media and
// follows them to completion from the worker.
package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// State is the lifecycle state of a transcription job
type State string

const (
	StateQueued     State = "QUEUED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether the job will not change state again
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a request to transcribe one media object
type Job struct {
	Name         string
	MediaURI     string
	MediaFormat  string
	LanguageCode string
}

// Status is the observed state of a job
type Status struct {
	State         State  `json:"state"`
	ResultURI     string `json:"resultUri,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Client is a transcription job service
type Client interface {
	Start(ctx context.Context, job Job) error
	Status(ctx context.Context, name string) (Status, error)
	// Transcript returns the plain text of a completed job
	Transcript(ctx context.Context, name string) (string, error)
}

// ErrUnsupportedFormat is returned for media the job service cannot read
var ErrUnsupportedFormat = errors.New("unsupported media format")

var supportedFormats = map[string]bool{
	"mp3": true, "mp4": true, "wav": true, "flac": true,
	"ogg": true, "amr": true, "webm": true, "m4a": true,
}

var contentTypeFormats = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/mp4":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/wave":   "wav",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/ogg":    "ogg",
	"audio/amr":    "amr",
	"audio/webm":   "webm",
	"video/mp4":    "mp4",
	"video/webm":   "webm",
	"video/ogg":    "ogg",
}

// MediaFormat picks the job media format from the file extension, falling back to the content type
func MediaFormat(filename, contentType string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if supportedFormats[ext] {
		return ext, nil
	}
	if f, ok := contentTypeFormats[strings.ToLower(contentType)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filename, contentType)
}

var jobNameUnsafe = regexp.MustCompile(`[^0-9A-Za-z._-]`)

// JobName derives a job name from a file id. Names are unique per account.
func JobName(fileID string) string {
	name := "scribe-" + jobNameUnsafe.ReplaceAllString(fileID, "-")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

// transcriptDocument is the result file layout written by the job service
type transcriptDocument struct {
	JobName string `json:"jobName"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ExtractTranscript reads results.transcripts[0].transcript from a result file
func ExtractTranscript(r io.Reader) (string, error) {
	var doc transcriptDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode transcript: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", errors.New("transcript result has no transcripts")
	}
	return doc.Results.Transcripts[0].Transcript, nil
}
