package ws

import "sync"

// room is guarded by the Hub's mutex; fanout only orders concurrent
// broadcasts into the same room.
type room struct {
	id      string
	clients map[string]*Client
	fanout  sync.Mutex
}

func newRoom(id string) *room { return &room{id: id, clients: map[string]*Client{}} }

// add returns the client previously registered under the same id, if any.
func (r *room) add(c *Client) *Client {
	prev := r.clients[c.ID]
	r.clients[c.ID] = c
	return prev
}

// remove deletes c only if it is still the registered client for its id.
func (r *room) remove(c *Client) bool {
	if cur, ok := r.clients[c.ID]; ok && cur == c {
		delete(r.clients, c.ID)
		return true
	}
	return false
}

func (r *room) recipients(excludeID string) []*Client {
	out := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if excludeID != "" && id == excludeID {
			continue
		}
		out = append(out, c)
	}
	return out
}
