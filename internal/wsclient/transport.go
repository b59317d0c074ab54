package wsclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrQueueFull  = errors.New("send queue full")
)

// Conn is the client's view of one open transport.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) ([]byte, error)
	// Send queues a frame; it does not wait for the network.
	Send(data []byte) error
	// BufferedAmount is the number of queued bytes not yet written.
	BufferedAmount() int
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with github.com/coder/websocket.
type WebsocketDialer struct {
	ReadLimit    int64
	QueueSize    int
	WriteTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	queue, timeout := d.QueueSize, d.WriteTimeout
	if queue <= 0 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &wsConn{
		ws:           ws,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: timeout,
	}
	go c.writeLoop()
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	send         chan []byte
	buffered     atomic.Int64
	writeTimeout time.Duration

	done chan struct{}
	once sync.Once
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	n := int64(len(data))
	c.buffered.Add(n)
	select {
	case c.send <- data:
		return nil
	default:
		c.buffered.Add(-n)
		return ErrQueueFull
	}
}

func (c *wsConn) BufferedAmount() int { return int(c.buffered.Load()) }

func (c *wsConn) Close(code int, reason string) error {
	c.stop()
	return c.ws.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) stop() { c.once.Do(func() { close(c.done) }) }

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			c.buffered.Add(-int64(len(data)))
			if err != nil {
				c.stop()
				_ = c.ws.CloseNow()
				return
			}
		}
	}
}
