package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

func startHub(t *testing.T, cfg HubConfig) (*Hub, *httptest.Server, *metrics.Collector) {
	t.Helper()
	m := metrics.New()
	hub := NewHub(logger.NewNop(), m, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv, m
}

func dial(t *testing.T, srv *httptest.Server, vaultID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?vault_id=" + vaultID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubFansOutPerVault(t *testing.T) {
	hub, srv, m := startHub(t, HubConfig{})
	conn := dial(t, srv, "v1")
	require.Eventually(t, func() bool { return hub.Connected("v1") == 1 }, 2*time.Second, 10*time.Millisecond)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, hub.Publish(context.Background(), []events.VaultEvent{
		events.New("v2", events.EventTypeDwellerDied, at, "d9", events.DwellerDiedPayload{DwellerID: "d9", Cause: "fire"}),
		events.New("v1", events.EventTypeDwellerLeveled, at, "d1", events.DwellerLeveledPayload{DwellerID: "d1", Level: 2}),
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.VaultEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "v1", got.VaultID)
	assert.Equal(t, events.EventTypeDwellerLeveled, got.Type)

	snap := m.Snapshot()["websocket"].(map[string]interface{})
	assert.EqualValues(t, 1, snap["active_connections"])
}

func TestHubRejectsMissingVaultAndFullRooms(t *testing.T) {
	hub, srv, _ := startHub(t, HubConfig{MaxPerVault: 1})

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dial(t, srv, "v1")
	require.Eventually(t, func() bool { return hub.Full("v1") }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?vault_id=v1"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil, HubConfig{BroadcastBuffer: 1})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evts := []events.VaultEvent{
		events.New("v1", events.EventTypeChildGrewUp, at, "c1", nil),
		events.New("v1", events.EventTypeChildGrewUp, at, "c2", nil),
	}

	// Run is not started, so only the buffer absorbs events
	assert.ErrorIs(t, hub.Publish(context.Background(), evts), ErrHubBusy)
	assert.Equal(t, "websocket", hub.Name())
}

func TestHubClientDisconnect(t *testing.T) {
	hub, srv, _ := startHub(t, HubConfig{})
	conn := dial(t, srv, "v1")
	require.Eventually(t, func() bool { return hub.Connected("v1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()
	require.Eventually(t, func() bool { return hub.Connected("v1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
