package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	appLogger "releasedock/backend/internal/infra/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	appLogger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "read websocket message")
	require.NoError(t, json.Unmarshal(p, &msg))
	return msg
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ServeWs(hub, w, r, r.URL.Query().Get("project"))
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsToProjectRoom(t *testing.T) {
	hub, wsURL := startHub(t)

	alpha := dial(t, wsURL+"/live?project=alpha")
	beta := dial(t, wsURL+"/live?project=beta")

	ready := readMessage(t, alpha)
	assert.Equal(t, ReadyType, ready.Type)
	assert.Equal(t, "alpha", ready.ProjectID)
	_ = readMessage(t, beta)
	waitClients(t, hub, 2)

	hub.Publish("alpha", "entry.published", map[string]string{"entry_id": "e-1"})

	msg := readMessage(t, alpha)
	assert.Equal(t, "entry.published", msg.Type)
	assert.Equal(t, "alpha", msg.ProjectID)
	assert.JSONEq(t, `{"entry_id":"e-1"}`, string(msg.Payload))

	// beta 不应收到 alpha 的消息。
	require.NoError(t, beta.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := beta.ReadMessage()
	require.Error(t, err)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, wsURL := startHub(t)

	conn := dial(t, wsURL+"/live?project=alpha")
	_ = readMessage(t, conn)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)

	// 房间清空后广播不应出错。
	hub.Publish("alpha", "entry.unpublished", map[string]string{"entry_id": "e-1"})
}

func TestHubRunStopsAndClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ServeWs(hub, w, r, "alpha")
	}))
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	_ = readMessage(t, conn)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection should be closed after hub stops")
	assert.Equal(t, 0, hub.Clients())
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Publish("alpha", "entry.published", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without a running hub")
	}
}
