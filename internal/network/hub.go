package network

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

// ErrHubBusy is returned by Publish when the broadcast buffer is full.
var ErrHubBusy = errors.New("websocket hub busy")

// message is one serialized event addressed to the watchers of a vault.
type message struct {
	vaultID string
	data    []byte
}

// Hub maintains the set of active clients per vault and fans committed
// events out to them. It is an events.Sink.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector

	sendBuffer  int
	maxPerVault int
}

// HubConfig sizes the hub buffers.
type HubConfig struct {
	BroadcastBuffer int
	ClientBuffer    int
	MaxPerVault     int // 0 = unlimited
}

// NewHub initializes a new WebSocket Hub.
func NewHub(log *logger.Logger, m *metrics.Collector, cfg HubConfig) *Hub {
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 256
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		broadcast:   make(chan message, cfg.BroadcastBuffer),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      log,
		metrics:     m,
		sendBuffer:  cfg.ClientBuffer,
		maxPerVault: cfg.MaxPerVault,
	}
}

// Run starts the Hub's main loop. It closes every client when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			h.mu.Lock()
			for vaultID, clients := range h.rooms {
				for c := range clients {
					h.drop(vaultID, c)
				}
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.vaultID] == nil {
				h.rooms[c.vaultID] = make(map[*Client]bool)
			}
			h.rooms[c.vaultID][c] = true
			h.mu.Unlock()
			h.record(1)
			h.logger.Debug("websocket client connected", zap.String("vault_id", c.vaultID))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.rooms[c.vaultID][c]; ok {
				h.drop(c.vaultID, c)
				h.logger.Debug("websocket client disconnected", zap.String("vault_id", c.vaultID))
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[msg.vaultID] {
				select {
				case c.send <- msg.data:
				default:
					// slow reader
					h.drop(msg.vaultID, c)
					if h.metrics != nil {
						h.metrics.RecordWSError()
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client. h.mu must be held.
func (h *Hub) drop(vaultID string, c *Client) {
	delete(h.rooms[vaultID], c)
	if len(h.rooms[vaultID]) == 0 {
		delete(h.rooms, vaultID)
	}
	close(c.send)
	h.record(-1)
}

func (h *Hub) record(delta int64) {
	if h.metrics != nil {
		h.metrics.RecordWSConnection(delta)
	}
}

// Connected returns how many clients watch a vault.
func (h *Hub) Connected(vaultID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[vaultID])
}

// Full reports whether a vault reached its watcher limit.
func (h *Hub) Full(vaultID string) bool {
	return h.maxPerVault > 0 && h.Connected(vaultID) >= h.maxPerVault
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues the events for their vault's watchers. It never blocks the
// tick; when the buffer is full the remaining events are dropped.
func (h *Hub) Publish(_ context.Context, evts []events.VaultEvent) error {
	for i, e := range evts {
		payload, err := json.Marshal(e)
		if err != nil {
			h.logger.Error("failed to serialize event for websocket broadcast",
				zap.String("event_id", e.ID), zap.Error(err))
			continue
		}
		select {
		case h.broadcast <- message{vaultID: e.VaultID, data: payload}:
		default:
			h.logger.Warn("websocket broadcast buffer full",
				zap.String("vault_id", e.VaultID),
				zap.Int("dropped", len(evts)-i))
			return ErrHubBusy
		}
	}
	return nil
}
