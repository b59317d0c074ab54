// Package wsclient is the client side of the whiteboard realtime protocol: a
// self-healing connection with heartbeat, linear backoff and typed dispatch.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whiteboardsync/internal/protocol"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Close reasons reported through Handlers.OnStatus.
const (
	ReasonMissingTokenOrBase = "missing-token-or-base"
	ReasonInvalidBase        = "invalid-base-url"
	ReasonManual             = "manual"
	ReasonDialFailed         = "dial-failed"
	ReasonTransportClosed    = "transport-closed"
)

// SendResult reasons.
const (
	ReasonNotOpen    = "not-open"
	ReasonBuffered   = "buffered"
	ReasonSendFailed = "send-failed"
)

const closeNormal = 1000

var ErrSendFailed = errors.New("send failed")

// ServerError is an explicit error frame from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return "server error: " + e.Message
}

type CommentEvent struct {
	Type      protocol.Type
	Comment   json.RawMessage // created / updated
	CommentID string          // deleted
}

type SendResult struct {
	Sent           bool
	Reason         string
	BufferedAmount int
}

// Handlers are invoked from the controller's goroutines, never under its lock.
// Any of them may be nil.
type Handlers struct {
	OnStatus   func(status Status, reason string)
	OnSnapshot func(snapshot json.RawMessage, version *int64, clientID string)
	OnAck      func(version int64)
	OnComment  func(ev CommentEvent)
	OnError    func(err error)
}

type Options struct {
	WhiteboardID string
	ClientID     string // generated when empty

	// Token and BaseURL are read on every connect attempt. An empty result
	// ends the attempt without retry.
	Token   func() string
	BaseURL func() string

	Dialer   Dialer
	Handlers Handlers
	Logger   *zap.Logger

	HeartbeatInterval time.Duration // 20s
	PongTimeout       time.Duration // 60s
	ReconnectDelay    time.Duration // 2s, multiplied by attempt number
	MaxReconnectDelay time.Duration // 10s
	MaxBufferedBytes  int           // 2 MiB
	DialTimeout       time.Duration // 10s
}

func (o *Options) setDefaults() {
	if o.ClientID == "" {
		o.ClientID = uuid.NewString()
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 10 * time.Second
	}
	if o.MaxBufferedBytes <= 0 {
		o.MaxBufferedBytes = 2 << 20
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
}

type timer interface{ Stop() bool }

// Controller owns one logical session. Its methods are safe to call from
// multiple goroutines.
type Controller struct {
	opts      Options
	log       *zap.Logger
	afterFunc func(d time.Duration, f func()) timer

	mu          sync.Mutex
	status      Status
	manualClose bool
	attempts    int
	reconnect   timer
	reconnectID uint64 // identifies the armed reconnect timer
	heartbeat   chan struct{}
	conn        Conn
	gen         uint64 // bumped whenever the transport is replaced
	lastInbound time.Time
	closeReason string
}

func New(opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		opts:   opts,
		log:    opts.Logger.With(zap.String("whiteboard", opts.WhiteboardID), zap.String("client", opts.ClientID)),
		status: StatusIdle,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

func (c *Controller) ClientID() string { return c.opts.ClientID }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts a connection attempt. It is a no-op while connecting or
// open.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusOpen {
		c.mu.Unlock()
		return
	}
	c.manualClose = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	c.mu.Unlock()

	token, base := "", ""
	if c.opts.Token != nil {
		token = c.opts.Token()
	}
	if c.opts.BaseURL != nil {
		base = c.opts.BaseURL()
	}
	if token == "" || base == "" {
		c.fail(gen, ReasonMissingTokenOrBase)
		return
	}
	u, err := BuildURL(base, c.opts.WhiteboardID, token, c.opts.ClientID)
	if err != nil {
		c.emitError(err)
		c.fail(gen, ReasonInvalidBase)
		return
	}

	c.emitStatus(StatusConnecting, "")
	go c.run(gen, u)
}

// fail closes attempt gen for a configuration problem; no reconnect.
func (c *Controller) fail(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed
	c.mu.Unlock()
	c.log.Warn("wsclient.connect_aborted", zap.String("reason", reason))
	c.emitStatus(StatusClosed, reason)
}

// Disconnect ends the session for good; no reconnect follows.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.status = StatusClosed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(closeNormal, "client disconnect")
	}
	c.emitStatus(StatusClosed, ReasonManual)
}

// SendSnapshot sends the full whiteboard state. It never panics on transport
// errors; see SendResult.Reason.
func (c *Controller) SendSnapshot(snapshot any, version *int64) SendResult {
	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return SendResult{Reason: ReasonNotOpen}
	}

	if n := conn.BufferedAmount(); n > c.opts.MaxBufferedBytes {
		return SendResult{Reason: ReasonBuffered, BufferedAmount: n}
	}

	raw, ok := snapshot.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(snapshot)
		if err != nil {
			c.emitError(fmt.Errorf("%w: %w", ErrSendFailed, err))
			return SendResult{Reason: ReasonSendFailed}
		}
		raw = b
	}
	data, err := protocol.Encode(protocol.Snapshot(raw, c.opts.ClientID, version))
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		c.emitError(fmt.Errorf("%w: %w", ErrSendFailed, err))
		return SendResult{Reason: ReasonSendFailed}
	}
	return SendResult{Sent: true}
}

// BuildURL returns <base>/ws/whiteboards/<id>?token=..&clientId=.. with
// http(s) mapped to ws(s).
func BuildURL(base, whiteboardID, token, clientID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u = u.JoinPath("ws", "whiteboards", url.PathEscape(whiteboardID))
	q := u.Query()
	q.Set("token", token)
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ─────────────────────────── connection lifecycle ───────────────────────────

func (c *Controller) run(gen uint64, u string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(ctx, u)
	cancel()
	if err != nil {
		c.log.Debug("wsclient.dial", zap.Error(err))
		c.handleClose(gen, ReasonDialFailed)
		return
	}
	if !c.handleOpen(gen, conn) {
		_ = conn.Close(closeNormal, "superseded")
		return
	}

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.log.Debug("wsclient.read", zap.Error(err))
			c.handleClose(gen, ReasonTransportClosed)
			return
		}
		if !c.touch(gen) {
			return
		}
		c.dispatch(conn, data)
	}
}

func (c *Controller) handleOpen(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.status = StatusOpen
	c.attempts = 0
	c.lastInbound = time.Now()
	c.closeReason = ""
	c.startHeartbeatLocked(gen, conn)
	c.mu.Unlock()

	c.log.Info("wsclient.open")
	c.emitStatus(StatusOpen, "")
	return true
}

func (c *Controller) handleClose(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.closeReason != "" {
		reason = c.closeReason
		c.closeReason = ""
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	c.status = StatusClosed
	if !c.manualClose {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	c.emitStatus(StatusClosed, reason)
}

// touch records inbound traffic for the current transport.
func (c *Controller) touch(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.lastInbound = time.Now()
	return true
}

// scheduleReconnectLocked arms a single reconnect after
// min(ReconnectDelay*(attempts+1), MaxReconnectDelay).
func (c *Controller) scheduleReconnectLocked() {
	if c.reconnect != nil {
		return
	}
	delay := c.opts.ReconnectDelay * time.Duration(c.attempts+1)
	if delay > c.opts.MaxReconnectDelay {
		delay = c.opts.MaxReconnectDelay
	}
	c.attempts++
	c.log.Info("wsclient.reconnect_scheduled", zap.Duration("delay", delay), zap.Int("attempt", c.attempts))

	c.reconnectID++
	id := c.reconnectID
	c.reconnect = c.afterFunc(delay, func() {
		c.mu.Lock()
		// A timer stopped or replaced after it fired must not act.
		if c.reconnect == nil || c.reconnectID != id {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		manual := c.manualClose
		c.mu.Unlock()
		if !manual {
			c.Connect()
		}
	})
}

// ─────────────────────────────── heartbeat ──────────────────────────────────

func (c *Controller) startHeartbeatLocked(gen uint64, conn Conn) {
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeat = stop

	go func() {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !c.heartbeatTick(gen, conn) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		close(c.heartbeat)
		c.heartbeat = nil
	}
}

func (c *Controller) heartbeatTick(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	idle := time.Since(c.lastInbound)
	timedOut := idle > c.opts.PongTimeout
	if timedOut {
		c.closeReason = protocol.ReasonHeartbeatTimeout
	}
	c.mu.Unlock()

	if timedOut {
		c.log.Warn("wsclient.heartbeat_timeout", zap.Duration("idle", idle))
		_ = conn.Close(protocol.CloseHeartbeatTimeout, protocol.ReasonHeartbeatTimeout)
		return false
	}
	if err := conn.Send(protocol.MustEncode(protocol.Ping())); err != nil {
		c.log.Debug("wsclient.ping", zap.Error(err))
	}
	return true
}

// ──────────────────────────────── handlers ──────────────────────────────────

func (c *Controller) emitStatus(s Status, reason string) {
	if h := c.opts.Handlers.OnStatus; h != nil {
		h(s, reason)
	}
}

func (c *Controller) emitError(err error) {
	c.log.Debug("wsclient.error", zap.Error(err))
	if h := c.opts.Handlers.OnError; h != nil {
		h(err)
	}
}
