package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whiteboardsync/internal/protocol"
)

// probe is the cancellable handle of one client's liveness ticker.
type probe struct {
	stop chan struct{}
	once sync.Once
}

func (p *probe) cancel() { p.once.Do(func() { close(p.stop) }) }

// startProbe (re)arms c's liveness ticker. Re-arming resets lastSeen so a
// freshly admitted client is not judged on stale history.
func (h *Hub) startProbe(c *Client) {
	p := &probe{stop: make(chan struct{})}
	c.touch(time.Now())
	c.setProbe(p)
	go h.runProbe(c, p)
}

func (h *Hub) runProbe(c *Client, p *probe) {
	ticker := time.NewTicker(h.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			if !h.checkLiveness(c, now) {
				return
			}
		}
	}
}

// checkLiveness runs one probe tick and reports whether c is still admitted.
func (h *Hub) checkLiveness(c *Client, now time.Time) bool {
	t := c.transport
	if t.ReadyState() != StateOpen {
		h.Remove(c)
		return false
	}

	if idle := now.Sub(c.LastSeen()); idle > h.cfg.IdleTimeout {
		zap.L().Info("ws.liveness_evict",
			zap.String("whiteboard", c.WhiteboardID),
			zap.String("client", c.ID),
			zap.Duration("idle", idle),
		)
		h.evict(c, protocol.CloseHeartbeatTimeout, protocol.ReasonHeartbeatTimeout)
		return false
	}

	// A failed probe write is treated as death right away.
	err := t.Send(protocol.MustEncode(protocol.Ping()))
	if err == nil {
		if p, ok := t.(Pinger); ok {
			err = p.Ping()
		}
	}
	if err != nil && !errors.Is(err, ErrBackpressure) {
		zap.L().Info("ws.probe_failed",
			zap.String("whiteboard", c.WhiteboardID),
			zap.String("client", c.ID),
			zap.Error(err),
		)
		h.evict(c, websocket.CloseInternalServerErr, ReasonSendFailed)
		return false
	}
	return true
}

// evict tears c's transport down, so its reader exits and the peer
// reconnects, then removes c. Terminate is preferred; code and reason are
// used when the transport can only be closed.
func (h *Hub) evict(c *Client, code int, reason string) {
	t := c.transport
	terminated := false
	if term, ok := t.(Terminator); ok {
		terminated = term.Terminate() == nil
	}
	if !terminated {
		_ = t.Close(code, reason)
	}
	h.Remove(c)
}
