package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scribe/backend/internal/modules/transcription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub, srv, _ := startStoppableHub(t)
	return hub, srv
}

func startStoppableHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub([]string{"*"}, nil, zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleConnection(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) transcription.StatusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "transcription:status", msg.Type)

	var event transcription.StatusEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	return event
}

func TestDispatchReachesOwnerOnly(t *testing.T) {
	hub, srv := startHub(t)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Dispatch(transcription.StatusEvent{UserID: "alice", FileID: "f1", Status: "COMPLETED", TextID: "text_1"}))

	event := readStatus(t, alice)
	assert.Equal(t, "f1", event.FileID)
	assert.Equal(t, "text_1", event.TextID)

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob must not see alice's events")
}

func TestSubscribeNarrowsEvents(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: "subscribe", Payload: json.RawMessage(`{"fileId":"f2"}`)}))
	// the pong proves the subscribe was handled
	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "pong")

	require.NoError(t, hub.Dispatch(transcription.StatusEvent{UserID: "alice", FileID: "f1", Status: "IN_PROGRESS"}))
	require.NoError(t, hub.Dispatch(transcription.StatusEvent{UserID: "alice", FileID: "f2", Status: "COMPLETED"}))

	event := readStatus(t, conn)
	assert.Equal(t, "f2", event.FileID)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownWithActiveClients(t *testing.T) {
	hub, srv, stop := startStoppableHub(t)

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// pings racing the shutdown must not panic the server side
	for i := 0; i < 20; i++ {
		if err := conn.WriteJSON(Message{Type: "ping"}); err != nil {
			break
		}
	}
	require.NoError(t, hub.Dispatch(transcription.StatusEvent{UserID: "alice", FileID: "f1", Status: "COMPLETED"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "connection should be closed by the hub")
			}
			break
		}
	}
}

func TestConnectAfterShutdownIsClosed(t *testing.T) {
	hub, srv, stop := startStoppableHub(t)
	stop()
	require.Eventually(t, func() bool {
		select {
		case <-hub.done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, srv, "alice")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "handler must not block registering with a stopped hub")
	}
	assert.Equal(t, 0, hub.ClientCount())
}
