package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn adapts a gorilla connection to Transport. Writes go through a
// bounded queue drained by writePump, so Send never blocks the caller.
type clientConn struct {
	rawConn   *websocket.Conn
	writeWait time.Duration

	send     chan []byte
	buffered atomic.Int64
	state    atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ Transport        = (*clientConn)(nil)
	_ Pinger           = (*clientConn)(nil)
	_ Terminator       = (*clientConn)(nil)
	_ BufferedAmounter = (*clientConn)(nil)
)

func newClientConn(rawConn *websocket.Conn, queue int, writeWait time.Duration) *clientConn {
	c := &clientConn{
		rawConn:   rawConn,
		writeWait: writeWait,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))
	go c.writePump()
	return c
}

func (c *clientConn) ReadyState() ReadyState { return ReadyState(c.state.Load()) }

func (c *clientConn) BufferedAmount() int { return int(c.buffered.Load()) }

func (c *clientConn) Send(data []byte) error {
	if c.ReadyState() != StateOpen {
		return ErrTransportClosed
	}
	n := int64(len(data))
	c.buffered.Add(n)
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		c.buffered.Add(-n)
		return ErrTransportClosed
	default:
		c.buffered.Add(-n)
		return ErrBackpressure
	}
}

func (c *clientConn) Ping() error {
	if c.ReadyState() != StateOpen {
		return ErrTransportClosed
	}
	return c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a close frame with code and reason, then drops the socket.
func (c *clientConn) Close(code int, reason string) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.shutdown()
		return nil
	}
	err := c.rawConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
	c.shutdown()
	return err
}

func (c *clientConn) Terminate() error {
	c.shutdown()
	return nil
}

func (c *clientConn) shutdown() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.rawConn.Close()
	})
}

func (c *clientConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.rawConn.WriteMessage(websocket.TextMessage, data)
			c.buffered.Add(-int64(len(data)))
			if err != nil {
				c.shutdown()
				return
			}
		}
	}
}
