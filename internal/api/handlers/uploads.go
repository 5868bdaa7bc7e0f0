package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/modules/subscription"
	"github.com/scribe/backend/internal/modules/transcription"
	"github.com/scribe/backend/internal/modules/uploads"
	"go.uber.org/zap"
)

const multipartMemory = 32 << 20

// TranscriptionStatus reports the live state of an upload's transcription
type TranscriptionStatus interface {
	Status(ctx context.Context, rec *uploads.FileRecord) (transcription.Status, error)
}

// UploadHandler handles media uploads
type UploadHandler struct {
	module  *uploads.Module
	status  TranscriptionStatus
	maxBody int64
	logger  *zap.Logger
}

// NewUploadHandler creates a new upload handler. status may be nil when
// transcription is not configured.
func NewUploadHandler(module *uploads.Module, status TranscriptionStatus, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		module: module,
		status: status,
		// largest tier plus room for the multipart envelope
		maxBody: subscription.LimitsFor(subscription.TierPro).MaxBytes + multipartMemory,
		logger:  logger,
	}
}

// FileResponse is a stored upload as returned to clients
type FileResponse struct {
	ID string `json:"id"`
	*uploads.FileRecord
}

// Upload accepts a multipart "file" field
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	result, err := h.module.Upload(r.Context(), uploads.UploadRequest{
		UserID:      userID(r),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		if verr, ok := media.AsValidationError(err); ok {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: verr.Message, Code: string(verr.Reason)})
			return
		}
		h.logger.Error("Upload failed", zap.String("user_id", userID(r)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// List returns the caller's uploads of ?type=audio|video
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	mediaType, err := uploads.ParseMediaType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	records, err := h.module.List(r.Context(), userID(r), mediaType)
	if err != nil {
		h.logger.Error("Failed to list uploads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list uploads")
		return
	}

	files := make([]FileResponse, 0, len(records))
	for _, rec := range records {
		files = append(files, FileResponse{ID: rec.ID, FileRecord: rec})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// Get returns one upload
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{ID: rec.ID, FileRecord: rec})
}

// TranscriptionResponse is the transcription state of an upload
type TranscriptionResponse struct {
	FileID  string `json:"fileId"`
	JobName string `json:"jobName,omitempty"`
	Status  string `json:"status"`
	TextID  string `json:"textId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Transcription reports where the upload's transcription stands
func (h *UploadHandler) Transcription(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	resp := TranscriptionResponse{
		FileID:  rec.ID,
		JobName: rec.TranscriptionJob,
		Status:  rec.TranscriptionStatus,
		TextID:  rec.TextID,
		Error:   rec.TranscriptionError,
	}
	if resp.Status == "" {
		resp.Status = uploads.TranscriptionNotStarted
	}

	if h.status != nil {
		st, err := h.status.Status(r.Context(), rec)
		if err != nil {
			h.logger.Warn("Failed to refresh transcription status", zap.String("file_id", rec.ID), zap.Error(err))
		} else {
			resp.Status = string(st.State)
			if st.FailureReason != "" {
				resp.Error = st.FailureReason
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *UploadHandler) load(w http.ResponseWriter, r *http.Request) (*uploads.FileRecord, bool) {
	mediaType, err := uploads.ParseMediaType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return nil, false
	}

	rec, err := h.module.Get(r.Context(), userID(r), mediaType, chi.URLParam(r, "id"))
	if errors.Is(err, uploads.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load upload")
		return nil, false
	}
	return rec, true
}
