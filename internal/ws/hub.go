package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type HubConfig struct {
	ProbeInterval    time.Duration
	IdleTimeout      time.Duration
	MaxBufferedBytes int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		ProbeInterval:    25 * time.Second,
		IdleTimeout:      70 * time.Second,
		MaxBufferedBytes: 4 << 20,
	}
}

// Hub is the room registry: whiteboardID -> room -> clientID -> *Client.
// Rooms exist only while they have members.
type Hub struct {
	cfg HubConfig

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{cfg: cfg, rooms: make(map[string]*room)}
}

// Admit registers c in its whiteboard's room and starts its liveness probe.
// A client already registered under the same id is replaced.
func (h *Hub) Admit(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.WhiteboardID]
	if !ok {
		r = newRoom(c.WhiteboardID)
		h.rooms[c.WhiteboardID] = r
	}
	prev := r.add(c)
	size := len(r.clients)
	h.mu.Unlock()

	if prev != nil && prev != c {
		prev.stopProbe()
		_ = prev.transport.Close(websocket.CloseNormalClosure, "replaced")
		zap.L().Info("ws.client_replaced",
			zap.String("whiteboard", c.WhiteboardID), zap.String("client", c.ID))
	}

	h.startProbe(c)
	zap.L().Info("ws.client_admitted",
		zap.String("whiteboard", c.WhiteboardID),
		zap.String("client", c.ID),
		zap.String("user", c.UserID),
		zap.Int("clients", size),
	)
}

// Remove cancels c's probe, drops it from its room and drops the room once
// empty. Calling it again is a no-op.
func (h *Hub) Remove(c *Client) {
	c.stopProbe()

	h.mu.Lock()
	removed, roomGone := false, false
	if r, ok := h.rooms[c.WhiteboardID]; ok && r.remove(c) {
		removed = true
		if len(r.clients) == 0 {
			delete(h.rooms, c.WhiteboardID)
			roomGone = true
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	zap.L().Info("ws.client_removed",
		zap.String("whiteboard", c.WhiteboardID), zap.String("client", c.ID))
	if roomGone {
		zap.L().Info("ws.room_removed", zap.String("whiteboard", c.WhiteboardID))
	}
}

// MarkAlive refreshes c's last-seen time.
func (h *Hub) MarkAlive(c *Client) { c.touch(time.Now()) }

// Broadcast sends payload to every member of the room except excludeClientID.
// Per-recipient failures are handled by Send.
func (h *Hub) Broadcast(whiteboardID string, payload []byte, excludeClientID string) {
	h.mu.RLock()
	r, ok := h.rooms[whiteboardID]
	var recipients []*Client
	if ok {
		recipients = r.recipients(excludeClientID)
	}
	h.mu.RUnlock()
	if !ok {
		return
	}

	zap.L().Debug("ws.broadcast",
		zap.String("whiteboard", whiteboardID),
		zap.Int("recipients", len(recipients)),
		zap.String("excluded", excludeClientID),
	)

	r.fanout.Lock()
	defer r.fanout.Unlock()
	for _, c := range recipients {
		h.Send(c, payload)
	}
}

// SendOrdered builds a frame for c while holding its room's fanout lock, so no
// broadcast interleaves between building and sending. A nil frame sends
// nothing. It reports whether a frame was handed to the transport.
func (h *Hub) SendOrdered(c *Client, build func() []byte) bool {
	h.mu.RLock()
	r, ok := h.rooms[c.WhiteboardID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	r.fanout.Lock()
	defer r.fanout.Unlock()
	payload := build()
	if payload == nil {
		return false
	}
	return h.Send(c, payload)
}

// Client looks up an admitted client.
func (h *Hub) Client(whiteboardID, clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[whiteboardID]
	if !ok {
		return nil, false
	}
	c, ok := r.clients[clientID]
	return c, ok
}

// Members returns the sorted client ids of a room.
func (h *Hub) Members(whiteboardID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[whiteboardID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) HasRoom(whiteboardID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[whiteboardID]
	return ok
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += len(r.clients)
	}
	return rooms, clients
}

// CloseAll closes every client with code and empties the registry.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.Lock()
	var all []*Client
	for _, r := range h.rooms {
		for _, c := range r.clients {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, c := range all {
		c.stopProbe()
		_ = c.transport.Close(code, reason)
	}
}
