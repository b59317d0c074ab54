package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/protocol"
	"whiteboardsync/internal/ratelimit"
	"whiteboardsync/internal/snapshot"
)

const (
	dispatchTimeout = 1900 * time.Millisecond
	snapshotTimeout = 4 * time.Second
)

var (
	ErrEmptySnapshot = errors.New("empty_snapshot")
	ErrSnapshotStore = errors.New("snapshot_store_failed")
)

type ServerConfig struct {
	MaxMessageSize int64
	WriteWait      time.Duration
	SendQueue      int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxMessageSize: 8 << 20,
		WriteWait:      10 * time.Second,
		SendQueue:      256,
	}
}

type WsServer struct {
	hub       *Hub
	subs      roomSubscriber
	router    *Router
	snapshots snapshot.Store
	verifier  auth.Verifier
	limiter   *ratelimit.Limiter
	cfg       ServerConfig
	upgrader  websocket.Upgrader
}

// NewWsServer wires the websocket endpoint. rdc and limiter may be nil; a
// nil rdc disables comment event relay.
func NewWsServer(
	h *Hub,
	rdc *redis.Client,
	store snapshot.Store,
	verifier auth.Verifier,
	limiter *ratelimit.Limiter,
	cfg ServerConfig,
) *WsServer {
	srv := &WsServer{
		hub:       h,
		subs:      noopSubscriber{},
		router:    NewRouter(),
		snapshots: store,
		verifier:  verifier,
		limiter:   limiter,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // token is the gate
		},
	}
	if rdc != nil {
		srv.subs = newSubscriptionManager(rdc, h)
	}
	srv.registerHandlers()
	return srv
}

func (s *WsServer) Hub() *Hub { return s.hub }

// Handle serves GET /ws/whiteboards/:whiteboardId?token=&clientId=.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow(ginCtx.ClientIP()) {
		ginCtx.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	whiteboardID := ginCtx.Param("whiteboardId")
	token := ginCtx.Query("token")
	if whiteboardID == "" || token == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "whiteboard id and token are required"})
		return
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	clientID := ginCtx.Query("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.cfg.MaxMessageSize)

	conn := newClientConn(rawConn, s.cfg.SendQueue, s.cfg.WriteWait)
	client := NewClient(conn, clientID, userID, whiteboardID)
	s.hub.Admit(client)
	s.subs.Subscribe(whiteboardID) // may be a no‑op (already subscribed)

	s.pushInitialSnapshot(client)

	go s.reader(client, conn)
}

func (s *WsServer) registerHandlers() {
	Register(s.router, protocol.TypePing,
		func(context.Context, *ConnContext, protocol.Message) (*protocol.Message, error) {
			return protocol.Pong(), nil
		})

	// Already counted as traffic by the reader.
	Register(s.router, protocol.TypePong,
		func(context.Context, *ConnContext, protocol.Message) (*protocol.Message, error) {
			return nil, nil
		})

	Register(s.router, protocol.TypeSnapshot, s.handleSnapshot)
}

// handleSnapshot stores the snapshot, relays it to the rest of the room and
// acks the sender with the assigned version.
func (s *WsServer) handleSnapshot(ctx context.Context, cc *ConnContext, req protocol.Message) (*protocol.Message, error) {
	if len(req.Snapshot) == 0 || string(req.Snapshot) == "null" {
		return nil, ErrEmptySnapshot
	}
	c := cc.Client

	version, err := s.snapshots.Save(ctx, c.WhiteboardID, req.Snapshot)
	if err != nil {
		zap.L().Warn("ws.snapshot_save", zap.String("whiteboard", c.WhiteboardID), zap.Error(err))
		s.hub.Broadcast(c.WhiteboardID, protocol.MustEncode(protocol.Snapshot(req.Snapshot, c.ID, nil)), c.ID)
		return nil, ErrSnapshotStore
	}

	s.hub.Broadcast(c.WhiteboardID, protocol.MustEncode(protocol.Snapshot(req.Snapshot, c.ID, &version)), c.ID)
	return protocol.Ack(version), nil
}

// pushInitialSnapshot sends the cached snapshot to a newly admitted client.
// The lookup runs inside the room's fanout order, so a relay can never reach
// c ahead of an older cached snapshot.
func (s *WsServer) pushInitialSnapshot(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	s.hub.SendOrdered(c, func() []byte {
		snap, version, found, err := s.snapshots.Latest(ctx, c.WhiteboardID)
		if err != nil {
			zap.L().Warn("ws.snapshot", zap.String("whiteboard", c.WhiteboardID), zap.Error(err))
			return nil
		}
		if !found {
			return nil
		}
		return protocol.MustEncode(protocol.Snapshot(snap, "", &version))
	})
}

func (s *WsServer) reader(c *Client, conn *clientConn) {
	defer func() {
		s.hub.Remove(c)
		s.subs.Unsubscribe(c.WhiteboardID)
		conn.shutdown()
	}()

	cc := &ConnContext{Client: c, Server: s}

	conn.rawConn.SetPongHandler(func(string) error {
		s.hub.MarkAlive(c)
		return nil
	})

	for {
		_, frame, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("ws.read", zap.String("client", c.ID), zap.Error(err))
			}
			return // client closed or errored
		}
		s.hub.MarkAlive(c)

		typ, _, err := protocol.Decode(frame)
		if err != nil {
			continue // malformed frames are dropped
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		reply, err := s.router.dispatch(ctx, cc, typ, frame)
		cancel()

		switch {
		case errors.Is(err, ErrUnknownType):
			continue
		case err != nil:
			s.hub.Send(c, protocol.MustEncode(protocol.Error(err.Error())))
		case reply != nil:
			s.hub.Send(c, protocol.MustEncode(reply))
		}
	}
}
