package ws

import "errors"

type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

var (
	ErrTransportClosed = errors.New("transport closed")
	// ErrBackpressure means the transport queue is full. The frame is dropped
	// but the transport is still usable.
	ErrBackpressure = errors.New("transport send queue full")
)

// Transport is the minimal capability set the registry needs from a
// connection. Send must not block on network I/O.
type Transport interface {
	Send(data []byte) error
	Close(code int, reason string) error
	ReadyState() ReadyState
}

// Pinger is implemented by transports with a native ping control frame.
type Pinger interface {
	Ping() error
}

// Terminator is implemented by transports that can drop the connection
// without a close handshake.
type Terminator interface {
	Terminate() error
}

// BufferedAmounter reports bytes accepted by Send but not yet written.
type BufferedAmounter interface {
	BufferedAmount() int
}
