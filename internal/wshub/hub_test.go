package wshub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chorus/internal/event"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{project_id}", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, projectID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + projectID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeWS_DeliversEvents(t *testing.T) {
	hub := New()
	defer hub.Close()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "proj-1")

	ev := event.New("claude", "sess-1", event.RoleAssistant, event.KindChat, "All done.", nil)
	// The subscription is registered asynchronously on upgrade.
	require.Eventually(t, func() bool {
		hub.Send("proj-1", ev)
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var envelope Envelope
		return conn.ReadJSON(&envelope) == nil &&
			envelope.Data.Content == "All done."
	}, 5*time.Second, 50*time.Millisecond)

	hub.Send("proj-1", event.New("claude", "sess-1", event.RoleAssistant, event.KindChat, "Second.", nil))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	require.Equal(t, "message", envelope.Type)
	require.Equal(t, "Second.", envelope.Data.Content)
	require.Equal(t, event.KindChat, envelope.Data.Kind)
	require.NotEmpty(t, envelope.Timestamp)
}

func TestServeWS_ProjectIsolation(t *testing.T) {
	hub := New()
	defer hub.Close()
	srv := newTestServer(t, hub)

	connA := dial(t, srv, "proj-a")
	connB := dial(t, srv, "proj-b")

	evA := event.New("claude", "s", event.RoleAssistant, event.KindChat, "for a", nil)
	var envelope Envelope
	require.Eventually(t, func() bool {
		hub.Send("proj-a", evA)
		_ = connA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		return connA.ReadJSON(&envelope) == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, "for a", envelope.Data.Content)

	// proj-b must see nothing from proj-a's stream.
	_ = connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	require.Error(t, connB.ReadJSON(&envelope))
}

func TestServeWS_MissingProjectID(t *testing.T) {
	hub := New()
	defer hub.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/", nil)
	hub.ServeWS(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe_InProcess(t *testing.T) {
	hub := New()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "proj-1")

	hub.Send("proj-1", event.New("codex", "s", event.RoleAssistant, event.KindChat, "hi", nil))

	select {
	case be := <-ch:
		require.Equal(t, "hi", be.Payload.Content)
		require.False(t, be.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered to in-process subscriber")
	}
}

func TestClose_DisconnectsClients(t *testing.T) {
	hub := New()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "proj-1")

	// Make sure the server-side subscription exists before closing.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = hub.Subscribe(ctx, "proj-1")
	time.Sleep(100 * time.Millisecond)

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
		websocket.IsUnexpectedCloseError(err))
}
