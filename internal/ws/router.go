package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"whiteboardsync/internal/protocol"
)

var ErrUnknownType = errors.New("unknown_type")

// ConnContext is what a handler knows about the connection it serves.
type ConnContext struct {
	Client *Client
	Server *WsServer
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, frame []byte) (*protocol.Message, error)

// Router keeps a map[type]handler, à‑la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[protocol.Type]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[protocol.Type]rawHandler)} }

// Register binds a frame type to a strongly‑typed handler. A non-nil reply
// is sent back to the originating client only.
func Register[Req any](
	r *Router,
	typ protocol.Type,
	h func(ctx context.Context, c *ConnContext, req Req) (*protocol.Message, error),
) {
	if typ == "" {
		panic("ws router: empty type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[typ] = func(ctx context.Context, c *ConnContext, frame []byte) (*protocol.Message, error) {
		var req Req
		if err := json.Unmarshal(frame, &req); err != nil {
			return nil, err
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, typ protocol.Type, frame []byte) (*protocol.Message, error) {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownType
	}
	return h(ctx, c, frame)
}
