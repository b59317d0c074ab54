package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/protocol"
	"whiteboardsync/internal/wsclient"
)

type memStore struct {
	mu       sync.Mutex
	snaps    map[string]json.RawMessage
	versions map[string]int64
	err      error
}

func newMemStore() *memStore {
	return &memStore{snaps: map[string]json.RawMessage{}, versions: map[string]int64{}}
}

func (s *memStore) Save(_ context.Context, id string, snap json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.versions[id]++
	s.snaps[id] = snap
	return s.versions[id], nil
}

func (s *memStore) Latest(_ context.Context, id string) (json.RawMessage, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	return snap, s.versions[id], ok, nil
}

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(token string) (string, error) {
	if u, ok := v[token]; ok {
		return u, nil
	}
	return "", auth.ErrInvalidToken
}

var testTokens = tokenVerifier{"tok-a": "alice", "tok-b": "bob"}

func newTestServer(t *testing.T, store *memStore) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := slowProbeHub()
	srv := NewWsServer(hub, nil, store, testTokens, nil, DefaultServerConfig())

	engine := gin.New()
	engine.GET("/ws/whiteboards/:whiteboardId", srv.Handle)
	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		hub.CloseAll(websocket.CloseGoingAway, "test done")
		ts.Close()
	})
	return hub, ts
}

func dialRaw(t *testing.T, ts *httptest.Server, wb, token, clientID string) *websocket.Conn {
	t.Helper()
	u, err := wsclient.BuildURL(ts.URL, wb, token, clientID)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame returns the next non-ping frame.
func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		typ, msg, err := protocol.Decode(data)
		require.NoError(t, err)
		if typ != protocol.TypePing {
			return msg
		}
	}
}

func waitMembers(t *testing.T, hub *Hub, wb string, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, hub.Members(wb))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	_, ts := newTestServer(t, newMemStore())

	resp, err := http.Get(ts.URL + "/ws/whiteboards/wb-1?token=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ws/whiteboards/wb-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_GeneratesClientID(t *testing.T) {
	hub, ts := newTestServer(t, newMemStore())

	u := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/whiteboards/wb-1?token=tok-a"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(hub.Members("wb-1")) == 1 }, time.Second, 5*time.Millisecond)
	c, ok := hub.Client("wb-1", hub.Members("wb-1")[0])
	require.True(t, ok)
	assert.Equal(t, "alice", c.UserID)
	assert.Len(t, c.ID, 36)
}

func TestServer_PingAndLiveness(t *testing.T) {
	hub, ts := newTestServer(t, newMemStore())
	conn := dialRaw(t, ts, "wb-1", "tok-a", "A")
	waitMembers(t, hub, "wb-1", "A")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cursor","x":3}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.Ping())))
	assert.Equal(t, protocol.TypePong, readFrame(t, conn).Type, "malformed and unknown frames get no reply")

	c, ok := hub.Client("wb-1", "A")
	require.True(t, ok)
	past := time.Now().Add(-time.Minute)
	c.touch(past)
	require.NoError(t, conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))
	assert.Eventually(t, func() bool { return c.LastSeen().After(past.Add(30 * time.Second)) },
		time.Second, 5*time.Millisecond, "control pong refreshes liveness")
}

func TestServer_PushesLatestSnapshotOnJoin(t *testing.T) {
	store := newMemStore()
	_, err := store.Save(context.Background(), "wb-1", json.RawMessage(`{"shapes":[9]}`))
	require.NoError(t, err)
	_, ts := newTestServer(t, store)

	conn := dialRaw(t, ts, "wb-1", "tok-b", "B")
	msg := readFrame(t, conn)
	assert.Equal(t, protocol.TypeSnapshot, msg.Type)
	assert.JSONEq(t, `{"shapes":[9]}`, string(msg.Snapshot))
	require.NotNil(t, msg.Version)
	assert.Equal(t, int64(1), *msg.Version)
}

func TestServer_StoreFailureStillRelays(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("redis down")
	hub, ts := newTestServer(t, store)

	a := dialRaw(t, ts, "wb-1", "tok-a", "A")
	b := dialRaw(t, ts, "wb-1", "tok-b", "B")
	waitMembers(t, hub, "wb-1", "A", "B")

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		protocol.MustEncode(protocol.Snapshot(json.RawMessage(`{"n":1}`), "", nil))))

	relayed := readFrame(t, b)
	assert.Equal(t, protocol.TypeSnapshot, relayed.Type)
	assert.Equal(t, "A", relayed.ClientID)
	assert.Nil(t, relayed.Version)

	reply := readFrame(t, a)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, ErrSnapshotStore.Error(), reply.Error)
}

func TestServer_RejoinReplacesOldConnection(t *testing.T) {
	hub, ts := newTestServer(t, newMemStore())
	first := dialRaw(t, ts, "wb-1", "tok-a", "A")
	waitMembers(t, hub, "wb-1", "A")
	old, _ := hub.Client("wb-1", "A")

	dialRaw(t, ts, "wb-1", "tok-a", "A")
	require.Eventually(t, func() bool {
		c, ok := hub.Client("wb-1", "A")
		return ok && c != old
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	waitMembers(t, hub, "wb-1", "A")
}

func TestServer_DisconnectDropsRoom(t *testing.T) {
	hub, ts := newTestServer(t, newMemStore())
	conn := dialRaw(t, ts, "wb-1", "tok-a", "A")
	waitMembers(t, hub, "wb-1", "A")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !hub.HasRoom("wb-1") }, time.Second, 5*time.Millisecond)
}

// Two controllers in "wb-1": a snapshot from A reaches B exactly once and is
// acked to A, never echoed.
func TestServer_SnapshotRoundTrip(t *testing.T) {
	hub, ts := newTestServer(t, newMemStore())

	type snap struct {
		raw     string
		version int64
		from    string
	}
	var mu sync.Mutex
	var aSnaps, bSnaps []snap
	var aAcks []int64

	newController := func(id, token string, snaps *[]snap, acks *[]int64) *wsclient.Controller {
		return wsclient.New(wsclient.Options{
			WhiteboardID: "wb-1",
			ClientID:     id,
			Token:        func() string { return token },
			BaseURL:      func() string { return ts.URL },
			Logger:       zap.NewNop(),
			Handlers: wsclient.Handlers{
				OnSnapshot: func(raw json.RawMessage, v *int64, from string) {
					mu.Lock()
					defer mu.Unlock()
					var ver int64
					if v != nil {
						ver = *v
					}
					*snaps = append(*snaps, snap{string(raw), ver, from})
				},
				OnAck: func(v int64) {
					if acks == nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					*acks = append(*acks, v)
				},
			},
		})
	}
	a := newController("A", "tok-a", &aSnaps, &aAcks)
	b := newController("B", "tok-b", &bSnaps, nil)
	a.Connect()
	b.Connect()
	defer a.Disconnect()
	defer b.Disconnect()

	waitMembers(t, hub, "wb-1", "A", "B")
	require.Eventually(t, func() bool { return a.Status() == wsclient.StatusOpen }, time.Second, 5*time.Millisecond)

	res := a.SendSnapshot(map[string]any{"shapes": []string{"rect"}}, nil)
	require.True(t, res.Sent)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bSnaps) == 1 && len(aAcks) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []snap{{`{"shapes":["rect"]}`, 1, "A"}}, bSnaps)
	assert.Equal(t, []int64{1}, aAcks)
	assert.Empty(t, aSnaps, "sender never receives its own snapshot")
}
