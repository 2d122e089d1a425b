package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/airband/gateway/internal/core"
)

var ErrBackpressure = errors.New("backpressure")
var ErrNoConsole = errors.New("no console connected")
var ErrNoSession = errors.New("no session bound")

// Peer consumes inbound signaling frames.
type Peer interface {
	HandleSignal(raw []byte) error
}

// Controller bridges the console websocket to the session. It implements
// core.SignalSender over whichever console connection is current; a newly
// connected console displaces the previous one.
type Controller struct {
	limiter *ConnRateLimiter

	mu   sync.Mutex
	peer Peer
	curr *wsConn
}

func NewController(peer Peer) *Controller {
	return &Controller{
		peer:    peer,
		limiter: NewConnRateLimiter(30, time.Minute),
	}
}

// SetPeer binds the frame consumer. The controller and the session are
// built in sequence, so the consumer arrives after construction.
func (ctl *Controller) SetPeer(p Peer) {
	ctl.mu.Lock()
	ctl.peer = p
	ctl.mu.Unlock()
}

func (ctl *Controller) handleFrame(data []byte) error {
	ctl.mu.Lock()
	p := ctl.peer
	ctl.mu.Unlock()
	if p == nil {
		return ErrNoSession
	}
	return p.HandleSignal(data)
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// TrySend forwards one outbound frame to the current console.
func (ctl *Controller) TrySend(f core.Frame) error {
	ctl.mu.Lock()
	c := ctl.curr
	ctl.mu.Unlock()
	if c == nil {
		return ErrNoConsole
	}
	return c.TrySend(f)
}

func (ctl *Controller) Close() {
	ctl.mu.Lock()
	c := ctl.curr
	ctl.curr = nil
	ctl.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// detach clears the current slot, but only for the connection that owns
// it. A displaced console's teardown must not evict its successor.
func (ctl *Controller) detach(c *wsConn) {
	ctl.mu.Lock()
	if ctl.curr == c {
		ctl.curr = nil
	}
	ctl.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	if !ctl.limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "signal").Str("addr", c.ClientIP()).Msg("connection rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctl.mu.Lock()
	prev := ctl.curr
	ctl.curr = conn
	ctl.mu.Unlock()
	if prev != nil {
		log.Warn().Str("module", "signal").Msg("console replaced by new connection")
		prev.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
