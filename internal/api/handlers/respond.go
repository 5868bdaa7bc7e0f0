package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/scribe/backend/internal/api/middleware"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// userID returns the authenticated caller, or "" outside the auth middleware
func userID(r *http.Request) string {
	if user := middleware.GetUser(r.Context()); user != nil {
		return user.ID
	}
	return ""
}
