package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/core"
)

func dialWS(t *testing.T, fix *serverFixture) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fix.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return fix.hub.SubscriberCount() > 0 },
		2*time.Second, 10*time.Millisecond, "subscription never registered")
	return conn, srv
}

func TestWebSocketStreamsPublishedEvents(t *testing.T) {
	fix := newTestServer(t, Config{})
	conn, _ := dialWS(t, fix)

	published := core.ResponseEvent{
		IncidentID:     "inc-ws-1",
		Source:         "203.0.113.30",
		Type:           core.ThreatTypeDDoS,
		Severity:       core.SeverityCritical,
		Action:         core.ActionBlockIP,
		Score:          100,
		Success:        true,
		BlockingActive: true,
		At:             time.Now().UTC(),
	}
	fix.hub.Publish(published)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got core.ResponseEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, published.IncidentID, got.IncidentID)
	assert.Equal(t, published.Source, got.Source)
	assert.Equal(t, published.Action, got.Action)
	assert.Equal(t, published.Score, got.Score)
	assert.True(t, got.BlockingActive)
}

func TestWebSocketReceivesIngestedThreats(t *testing.T) {
	fix := newTestServer(t, Config{})
	conn, srv := dialWS(t, fix)

	body := `{"type":"ddos_attack","source":"203.0.113.31","severity":"critical","confidence":100}`
	resp, err := http.Post(srv.URL+"/api/v1/threats", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got core.ResponseEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "203.0.113.31", got.Source)
	assert.Equal(t, core.ThreatTypeDDoS, got.Type)
	assert.Equal(t, core.ActionBlockIP, got.Action)
	assert.True(t, got.Success)
}

func TestWebSocketUnsubscribesOnDisconnect(t *testing.T) {
	fix := newTestServer(t, Config{})
	conn, _ := dialWS(t, fix)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return fix.hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond, "subscription should be released on disconnect")
}

func TestWebSocketClosesWhenHubCloses(t *testing.T) {
	fix := newTestServer(t, Config{})
	conn, _ := dialWS(t, fix)

	fix.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived) ||
				websocket.IsUnexpectedCloseError(err), "expected a close, got %v", err)
			return
		}
	}
}
