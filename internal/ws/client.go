package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Client is one admitted connection. It is owned by its room; the liveness
// probe only holds a reference for the duration of its ticker.
type Client struct {
	ID           string
	UserID       string
	WhiteboardID string

	transport Transport
	lastSeen  atomic.Int64 // unix nanos

	mu    sync.Mutex
	probe *probe
}

func NewClient(t Transport, id, userID, whiteboardID string) *Client {
	c := &Client{
		ID:           id,
		UserID:       userID,
		WhiteboardID: whiteboardID,
		transport:    t,
	}
	c.touch(time.Now())
	return c
}

func (c *Client) Transport() Transport { return c.transport }

func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Client) touch(at time.Time) { c.lastSeen.Store(at.UnixNano()) }

func (c *Client) setProbe(p *probe) {
	c.mu.Lock()
	old := c.probe
	c.probe = p
	c.mu.Unlock()
	if old != nil {
		old.cancel()
	}
}

func (c *Client) stopProbe() { c.setProbe(nil) }
