package ws

import (
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ReasonSendFailed is the close reason of a transport dropped after a failed
// write.
const ReasonSendFailed = "send-failed"

// Send is the guarded send used for every outbound frame:
//
//	transport not open      -> remove client
//	buffer over the ceiling -> drop this frame, keep client
//	write error             -> tear transport down, remove client
//
// It reports whether the frame was handed to the transport.
func (h *Hub) Send(c *Client, payload []byte) bool {
	t := c.transport
	if t.ReadyState() != StateOpen {
		h.Remove(c)
		return false
	}

	if b, ok := t.(BufferedAmounter); ok {
		if n := b.BufferedAmount(); n > h.cfg.MaxBufferedBytes {
			zap.L().Warn("ws.backpressure_drop",
				zap.String("whiteboard", c.WhiteboardID),
				zap.String("client", c.ID),
				zap.Int("buffered", n),
				zap.Int("limit", h.cfg.MaxBufferedBytes),
			)
			return false
		}
	}

	if err := t.Send(payload); err != nil {
		if errors.Is(err, ErrBackpressure) {
			zap.L().Warn("ws.backpressure_drop",
				zap.String("whiteboard", c.WhiteboardID),
				zap.String("client", c.ID),
				zap.Error(err),
			)
			return false
		}
		zap.L().Warn("ws.send_failed",
			zap.String("whiteboard", c.WhiteboardID),
			zap.String("client", c.ID),
			zap.Error(err),
		)
		h.evict(c, websocket.CloseInternalServerErr, ReasonSendFailed)
		return false
	}
	return true
}
