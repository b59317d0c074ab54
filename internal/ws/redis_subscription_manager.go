package ws

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whiteboardsync/internal/protocol"
)

// roomSubscriber is told when a room gains or loses a local member.
type roomSubscriber interface {
	Subscribe(whiteboardID string)
	Unsubscribe(whiteboardID string)
}

type noopSubscriber struct{}

func (noopSubscriber) Subscribe(string)   {}
func (noopSubscriber) Unsubscribe(string) {}

// subscriptionManager guarantees that we have **exactly one** Redis
// subscription per "wb:<id>:events" channel ― no matter how many websocket
// clients are in the same room.
type subscriptionManager struct {
	rdb  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // whiteboardID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func newSubscriptionManager(rdb *redis.Client, hub *Hub) *subscriptionManager {
	return &subscriptionManager{
		rdb:  rdb,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Subscribe ensures that the process is subscribed to the room's channel;
// subsequent calls for the same room only increment the ref‑counter.
func (sm *subscriptionManager) Subscribe(whiteboardID string) {
	sm.mu.Lock()
	if e, ok := sm.subs[whiteboardID]; ok {
		e.refCnt++
		sm.mu.Unlock()
		return
	}

	// First member → create Redis SUB and relay loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := sm.rdb.Subscribe(ctx, protocol.EventsChannel(whiteboardID))

	sm.subs[whiteboardID] = &subEntry{refCnt: 1, cancel: cancel}
	sm.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}
				if !relayable([]byte(m.Payload)) {
					zap.L().Warn("ws.event_dropped",
						zap.String("whiteboard", whiteboardID), zap.String("payload", m.Payload))
					continue
				}
				sm.hub.Broadcast(whiteboardID, []byte(m.Payload), "")
			}
		}
	}()
}

// Unsubscribe decrements the ref‑counter and tears the Redis SUB down when the
// last member leaves the room.
func (sm *subscriptionManager) Unsubscribe(whiteboardID string) {
	sm.mu.Lock()
	e, ok := sm.subs[whiteboardID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.subs, whiteboardID)
	sm.mu.Unlock()

	// Outside the lock → stop the relay goroutine.
	e.cancel()
}

// relayable accepts only well-formed comment notifications.
func relayable(payload []byte) bool {
	typ, _, err := protocol.Decode(payload)
	return err == nil && protocol.IsCommentEvent(typ)
}
