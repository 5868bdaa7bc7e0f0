// Package assistant stores the text of an upload and answers questions
// about it with a chat model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/modules/uploads"
	"github.com/scribe/backend/internal/shared/docstore"
	"go.uber.org/zap"
)

const textsCollection = "ai_texts"

const systemPrompt = "You are a helpful AI assistant named Scribe. You take a transcription " +
	"in for a video or audio file and you answer questions if the user has any. Answer " +
	"questions based only on the provided text content. Be concise and accurate. Talk to " +
	"the user like a friend with proper greetings. Don't start giving the summary; let only " +
	"answer what the user asks about it. Make it like a conversation."

var (
	// ErrForbidden is returned when the caller does not own the file or text
	ErrForbidden = errors.New("not authorized to access this resource")
	// ErrTextNotFound is returned for an unknown text id
	ErrTextNotFound = errors.New("text not found")
	// ErrEmptyQuestion is returned for a blank question
	ErrEmptyQuestion = errors.New("question is required")
	// ErrUnavailable is returned when no chat model is configured
	ErrUnavailable = errors.New("question answering is not configured")
)

// TextRecord is a stored text attached to an upload
type TextRecord struct {
	ID           string          `json:"-"`
	UserID       string          `json:"user_id"`
	FileID       string          `json:"file_id"`
	FileType     media.MediaType `json:"file_type"`
	Text         string          `json:"text"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// Recorder receives question answering outcomes
type Recorder interface {
	RecordAssistantRequest(success bool, duration time.Duration)
}

// Service manages AI texts and questions
type Service struct {
	store     docstore.Store
	files     *uploads.Repository
	completer Completer
	recorder  Recorder
	logger    *zap.Logger
}

// NewService creates a new assistant service. completer and recorder may be nil.
func NewService(store docstore.Store, files *uploads.Repository, completer Completer, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		files:     files,
		completer: completer,
		recorder:  recorder,
		logger:    logger,
	}
}

// TextPath is the document path of a stored text
func TextPath(userID string, mediaType media.MediaType, fileID, textID string) string {
	return docstore.Join(uploads.FilePath(userID, mediaType, fileID), textsCollection, textID)
}

func newTextID(now time.Time) string {
	return "text_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// SaveText stores text for the caller's file and points the file at it
func (s *Service) SaveText(ctx context.Context, userID string, mediaType media.MediaType, fileID, text string) (string, error) {
	file, err := s.files.Get(ctx, userID, mediaType, fileID)
	if err != nil {
		return "", err
	}
	if file.UserID != userID {
		return "", ErrForbidden
	}

	now := time.Now().UTC()
	textID := newTextID(now)
	rec := TextRecord{
		UserID:       userID,
		FileID:       fileID,
		FileType:     mediaType,
		Text:         text,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := s.store.Set(ctx, TextPath(userID, mediaType, fileID, textID), rec); err != nil {
		return "", fmt.Errorf("failed to store text: %w", err)
	}
	if err := s.files.Update(ctx, userID, mediaType, fileID, map[string]any{"text_id": textID}); err != nil {
		return "", err
	}

	s.logger.Info("Text stored",
		zap.String("user_id", userID),
		zap.String("file_id", fileID),
		zap.String("text_id", textID),
		zap.Int("chars", len(text)),
	)
	return textID, nil
}

// GetText loads a stored text and bumps its last access time
func (s *Service) GetText(ctx context.Context, userID string, mediaType media.MediaType, fileID, textID string) (*TextRecord, error) {
	rec, err := s.loadText(ctx, userID, mediaType, fileID, textID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.Merge(ctx, TextPath(userID, mediaType, fileID, textID), map[string]any{"last_accessed": now}); err != nil {
		s.logger.Warn("Failed to update last access", zap.String("text_id", textID), zap.Error(err))
	} else {
		rec.LastAccessed = now
	}
	return rec, nil
}

// AskRequest is a question about a stored text
type AskRequest struct {
	UserID   string
	FileID   string
	FileType media.MediaType
	TextID   string
	Question string
}

// Ask answers a question using only the stored text as context. Nothing
// about the exchange is persisted.
func (s *Service) Ask(ctx context.Context, req AskRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", ErrEmptyQuestion
	}
	if s.completer == nil {
		return "", ErrUnavailable
	}

	rec, err := s.loadText(ctx, req.UserID, req.FileType, req.FileID, req.TextID)
	if err != nil {
		return "", err
	}

	messages := []Message{
		{Role: RoleUser, Content: "Here's the text content to analyze, answer any question I have:\n\n" + rec.Text},
		{Role: RoleUser, Content: req.Question},
	}

	start := time.Now()
	answer, err := s.completer.Complete(ctx, systemPrompt, messages)
	if s.recorder != nil {
		s.recorder.RecordAssistantRequest(err == nil, time.Since(start))
	}
	if err != nil {
		s.logger.Error("Question answering failed",
			zap.String("user_id", req.UserID),
			zap.String("text_id", req.TextID),
			zap.Error(err),
		)
		return "", err
	}

	if err := s.store.Merge(ctx, TextPath(req.UserID, req.FileType, req.FileID, req.TextID), map[string]any{
		"last_accessed": time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("Failed to update last access", zap.String("text_id", req.TextID), zap.Error(err))
	}
	return answer, nil
}

func (s *Service) loadText(ctx context.Context, userID string, mediaType media.MediaType, fileID, textID string) (*TextRecord, error) {
	if textID == "" || strings.Contains(textID, "/") {
		return nil, ErrTextNotFound
	}
	doc, err := s.store.Get(ctx, TextPath(userID, mediaType, fileID, textID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrTextNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec TextRecord
	if err := doc.Decode(&rec); err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrForbidden
	}
	rec.ID = doc.ID()
	return &rec, nil
}
