package handlers

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/scribe/backend/internal/api/websocket"
	"go.uber.org/zap"
)

// StatusStream serves the per-user transcription status feed
type StatusStream struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewStatusStream(hub *websocket.Hub, logger *zap.Logger) *StatusStream {
	return &StatusStream{hub: hub, logger: logger}
}

// Serve hands an authenticated upgrade request to the hub. The hub only ever
// sends the caller events about their own uploads.
func (s *StatusStream) Serve(w http.ResponseWriter, r *http.Request) {
	caller := userID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !gorillaws.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusBadRequest, "Expected a WebSocket upgrade request")
		return
	}

	s.logger.Debug("Opening status stream", zap.String("user_id", caller))
	s.hub.HandleConnection(w, r, caller)
}
