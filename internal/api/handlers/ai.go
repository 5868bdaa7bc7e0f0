package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/scribe/backend/internal/modules/assistant"
	"github.com/scribe/backend/internal/modules/uploads"
	"go.uber.org/zap"
)

// AIHandler handles stored texts and questions about them
type AIHandler struct {
	svc    *assistant.Service
	logger *zap.Logger
}

// NewAIHandler creates a new AI handler
func NewAIHandler(svc *assistant.Service, logger *zap.Logger) *AIHandler {
	return &AIHandler{svc: svc, logger: logger}
}

// TextUploadRequest attaches text to an upload
type TextUploadRequest struct {
	Text     string `json:"text"`
	FileID   string `json:"file_id"`
	FileType string `json:"file_type"`
	UserID   string `json:"user_id,omitempty"`
}

// QuestionRequest asks about a stored text
type QuestionRequest struct {
	TextID   string `json:"text_id"`
	Question string `json:"question"`
	FileID   string `json:"file_id"`
	FileType string `json:"file_type"`
	UserID   string `json:"user_id,omitempty"`
}

// AnswerResponse is the reply to a question
type AnswerResponse struct {
	Answer string `json:"answer"`
	TextID string `json:"text_id"`
}

// TextResponse is a stored text
type TextResponse struct {
	TextID       string    `json:"text_id"`
	FileID       string    `json:"file_id"`
	FileType     string    `json:"file_type"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// UploadText stores text for one of the caller's files
func (h *AIHandler) UploadText(w http.ResponseWriter, r *http.Request) {
	var req TextUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller := userID(r)
	if req.UserID != "" && req.UserID != caller {
		writeError(w, http.StatusForbidden, "Not authorized to access this file")
		return
	}
	mediaType, err := uploads.ParseMediaType(req.FileType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}
	if req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	textID, err := h.svc.SaveText(r.Context(), caller, mediaType, req.FileID, req.Text)
	if err != nil {
		h.writeServiceError(w, err, "Failed to store text")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"text_id": textID,
		"message": "Text uploaded successfully",
	})
}

// Ask answers a question about a stored text
func (h *AIHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller := userID(r)
	if req.UserID != "" && req.UserID != caller {
		writeError(w, http.StatusForbidden, "Not authorized to access this text")
		return
	}
	mediaType, err := uploads.ParseMediaType(req.FileType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}
	if req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	answer, err := h.svc.Ask(r.Context(), assistant.AskRequest{
		UserID:   caller,
		FileID:   req.FileID,
		FileType: mediaType,
		TextID:   req.TextID,
		Question: req.Question,
	})
	if err != nil {
		h.writeServiceError(w, err, "AI service error")
		return
	}

	writeJSON(w, http.StatusOK, AnswerResponse{Answer: answer, TextID: req.TextID})
}

// GetText returns a stored text; file_id and file_type are query parameters
func (h *AIHandler) GetText(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mediaType, err := uploads.ParseMediaType(q.Get("file_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}
	fileID := q.Get("file_id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	rec, err := h.svc.GetText(r.Context(), userID(r), mediaType, fileID, chi.URLParam(r, "textID"))
	if err != nil {
		h.writeServiceError(w, err, "Failed to retrieve text")
		return
	}

	writeJSON(w, http.StatusOK, TextResponse{
		TextID:       rec.ID,
		FileID:       rec.FileID,
		FileType:     string(rec.FileType),
		Text:         rec.Text,
		CreatedAt:    rec.CreatedAt,
		LastAccessed: rec.LastAccessed,
	})
}

func (h *AIHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, uploads.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, assistant.ErrTextNotFound):
		writeError(w, http.StatusNotFound, "Text ID not found")
	case errors.Is(err, assistant.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not authorized to access this resource")
	case errors.Is(err, assistant.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "question is required")
	case errors.Is(err, assistant.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Question answering is not configured")
	default:
		h.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
