// Package protocol holds the JSON frames exchanged between whiteboard clients
// and the realtime server. Every frame carries a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

type Type string

const (
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeSnapshot       Type = "snapshot"
	TypeAck            Type = "ack"
	TypeCommentCreated Type = "comment.created"
	TypeCommentUpdated Type = "comment.updated"
	TypeCommentDeleted Type = "comment.deleted"
	TypeError          Type = "error"
)

// Close code sent when a peer stops answering heartbeats.
const (
	CloseHeartbeatTimeout  = 4000
	ReasonHeartbeatTimeout = "heartbeat-timeout"
)

var ErrMissingType = errors.New("frame has no type")

// Message is the union of all frame fields. Which fields are meaningful
// depends on Type.
type Message struct {
	Type      Type            `json:"type"`
	TS        int64           `json:"ts,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Version   *int64          `json:"version,omitempty"`
	Comment   json.RawMessage `json:"comment,omitempty"`
	CommentID string          `json:"commentId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode reads the discriminator first so that a frame with a known type but
// badly typed payload fields still reports its type.
func Decode(data []byte) (Type, *Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	if env.Type == "" {
		return "", nil, ErrMissingType
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return env.Type, nil, err
	}
	return env.Type, &msg, nil
}

func Encode(m *Message) ([]byte, error) { return json.Marshal(m) }

// MustEncode is for frames built from the constructors below, which always
// marshal.
func MustEncode(m *Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

func now() int64 { return time.Now().UnixMilli() }

func Ping() *Message { return &Message{Type: TypePing, TS: now()} }

func Pong() *Message { return &Message{Type: TypePong, TS: now()} }

func Snapshot(snapshot json.RawMessage, clientID string, version *int64) *Message {
	return &Message{Type: TypeSnapshot, Snapshot: snapshot, ClientID: clientID, Version: version}
}

func Ack(version int64) *Message {
	return &Message{Type: TypeAck, Version: &version}
}

func CommentCreated(comment json.RawMessage) *Message {
	return &Message{Type: TypeCommentCreated, Comment: comment}
}

func CommentUpdated(comment json.RawMessage) *Message {
	return &Message{Type: TypeCommentUpdated, Comment: comment}
}

func CommentDeleted(commentID string) *Message {
	return &Message{Type: TypeCommentDeleted, CommentID: commentID}
}

func Error(msg string) *Message { return &Message{Type: TypeError, Error: msg} }

// IsCommentEvent reports whether t is one of the comment notifications.
func IsCommentEvent(t Type) bool {
	switch t {
	case TypeCommentCreated, TypeCommentUpdated, TypeCommentDeleted:
		return true
	}
	return false
}

// EventsChannel is the Redis channel carrying server-originated frames for
// one whiteboard room.
func EventsChannel(whiteboardID string) string { return "wb:" + whiteboardID + ":events" }
