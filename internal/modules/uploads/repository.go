package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/shared/docstore"
)

const rootCollection = "uploads"

var (
	// ErrFileNotFound is returned when an upload record does not exist
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidMediaType is returned for a file type other than audio or video
	ErrInvalidMediaType = errors.New("invalid file type")
	ErrInvalidUserID    = errors.New("invalid user id")
)

// Transcription states stored on a file record, besides the AWS job states
const (
	TranscriptionNotStarted = "NOT_STARTED"
	TranscriptionTimedOut   = "TIMED_OUT"
)

// FileRecord is the stored metadata of one upload
type FileRecord struct {
	ID                  string          `json:"-"`
	UserID              string          `json:"user_id"`
	Filename            string          `json:"filename"`
	OriginalFilename    string          `json:"original_filename"`
	FileURL             string          `json:"file_url"`
	ContentType         string          `json:"content_type"`
	MediaType           media.MediaType `json:"media_type"`
	StorageKey          string          `json:"storage_key"`
	SizeBytes           int64           `json:"size_bytes"`
	DurationSeconds     float64         `json:"duration_seconds,omitempty"`
	UploadTimestamp     time.Time       `json:"upload_timestamp"`
	TranscriptionJob    string          `json:"transcription_job,omitempty"`
	TranscriptionStatus string          `json:"transcription_status,omitempty"`
	TranscriptionError  string          `json:"transcription_error,omitempty"`
	TextID              string          `json:"text_id,omitempty"`
}

// ParseMediaType validates a "audio" / "video" path or query value
func ParseMediaType(s string) (media.MediaType, error) {
	switch media.MediaType(s) {
	case media.MediaAudio, media.MediaVideo:
		return media.MediaType(s), nil
	default:
		return "", ErrInvalidMediaType
	}
}

// FilesParent is the collection holding a user's uploads of one media type
func FilesParent(userID string, mediaType media.MediaType) string {
	return docstore.Join(rootCollection, userID, string(mediaType)+"_files")
}

// FilePath is the document path of one upload
func FilePath(userID string, mediaType media.MediaType, fileID string) string {
	return docstore.Join(FilesParent(userID, mediaType), fileID)
}

// Repository stores upload records in the document store
type Repository struct {
	store docstore.Store
}

// NewRepository creates a repository
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Create stores rec, assigning an ID if it has none
func (r *Repository) Create(ctx context.Context, rec *FileRecord) error {
	if rec.ID == "" {
		rec.ID = docstore.NewID()
	}
	if err := r.store.Set(ctx, FilePath(rec.UserID, rec.MediaType, rec.ID), rec); err != nil {
		return fmt.Errorf("failed to save upload record: %w", err)
	}
	return nil
}

// Get loads one upload record
func (r *Repository) Get(ctx context.Context, userID string, mediaType media.MediaType, fileID string) (*FileRecord, error) {
	doc, err := r.store.Get(ctx, FilePath(userID, mediaType, fileID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(doc)
}

// List returns a user's uploads of one media type, oldest first
func (r *Repository) List(ctx context.Context, userID string, mediaType media.MediaType) ([]*FileRecord, error) {
	docs, err := r.store.List(ctx, FilesParent(userID, mediaType))
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	records := make([]*FileRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Update merges fields into an existing record
func (r *Repository) Update(ctx context.Context, userID string, mediaType media.MediaType, fileID string, fields map[string]any) error {
	path := FilePath(userID, mediaType, fileID)
	if _, err := r.store.Get(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	if err := r.store.Merge(ctx, path, fields); err != nil {
		return fmt.Errorf("failed to update upload record: %w", err)
	}
	return nil
}

func decodeRecord(doc *docstore.Document) (*FileRecord, error) {
	var rec FileRecord
	if err := doc.Decode(&rec); err != nil {
		return nil, err
	}
	rec.ID = doc.ID()
	if rec.UploadTimestamp.IsZero() {
		rec.UploadTimestamp = doc.CreatedAt
	}
	return &rec, nil
}
