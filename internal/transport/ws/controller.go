// Package ws adapts gorilla websockets to the gateway: it authenticates
// the session, registers the socket with the hub and pumps envelopes in
// both directions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	gw         *gateway.Gateway
	store      store.Store
	limiter    *RateLimiter
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(gw *gateway.Gateway, st store.Store, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		gw:         gw,
		store:      st,
		limiter:    NewRateLimiter(10, time.Second),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// wsConn owns one websocket with a bounded, non-blocking send queue.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(env hub.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return hub.ErrBackpressure
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

// Handle upgrades an authenticated request to a socket. The username
// comes from the cookie session written by the platform's login flow.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	session := sessions.Default(c)
	username, _ := session.Get("username").(string)
	if username == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if _, err := ctl.store.UserByUsername(c.Request.Context(), username); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatus(status)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	conn := &wsConn{conn: ws, send: make(chan []byte, 32)}
	socket := ctl.gw.Hub().Register(uuid.NewString(), username, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, socket, conn)
}
