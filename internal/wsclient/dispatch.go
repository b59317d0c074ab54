package wsclient

import (
	"encoding/json"

	"whiteboardsync/internal/protocol"
)

// dispatch routes one inbound frame by its type. Malformed frames and unknown
// types are dropped without surfacing an error.
func (c *Controller) dispatch(conn Conn, data []byte) {
	typ, msg, err := protocol.Decode(data)
	if err != nil {
		return
	}
	h := c.opts.Handlers

	switch typ {
	case protocol.TypePing:
		_ = conn.Send(protocol.MustEncode(protocol.Pong()))

	case protocol.TypePong:
		// counted as traffic already

	case protocol.TypeAck:
		if msg.Version != nil && h.OnAck != nil {
			h.OnAck(*msg.Version)
		}

	case protocol.TypeCommentCreated, protocol.TypeCommentUpdated:
		if present(msg.Comment) && h.OnComment != nil {
			h.OnComment(CommentEvent{Type: typ, Comment: msg.Comment})
		}

	case protocol.TypeCommentDeleted:
		if msg.CommentID != "" && h.OnComment != nil {
			h.OnComment(CommentEvent{Type: typ, CommentID: msg.CommentID})
		}

	case protocol.TypeSnapshot:
		if present(msg.Snapshot) && h.OnSnapshot != nil {
			h.OnSnapshot(msg.Snapshot, msg.Version, msg.ClientID)
		}

	case protocol.TypeError:
		c.emitError(&ServerError{Message: msg.Error})
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
