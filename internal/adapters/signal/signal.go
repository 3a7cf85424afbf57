package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fundmentor/signaling/internal/app"
	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller upgrades websocket connections and shuttles events between the
// transport and the negotiator.
type Controller struct {
	Neg        *app.Negotiator
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewController(neg *app.Negotiator, readLimit int64, pingPeriod time.Duration, sendBuffer int) *Controller {
	return &Controller{
		Neg:        neg,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		SendBuffer: sendBuffer,
	}
}

// wsSignalConn implements core.SignalConn. Close marks the send channel
// closed; the write pump drains what is buffered (rejection and room-full
// notices must still reach the peer) and then tears the socket down.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
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

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal accepts one websocket connection. Identity comes from the JWT
// middleware; connections without one run as the unauthenticated sentinel.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("user_id"))
	if user == "" {
		user = domain.Unauthenticated
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}

	connID := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "adapters.signal").Str("conn", string(connID)).Str("user", string(user)).Msg("new WS connection")

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	ctl.Neg.Connect(connID, user, conn)

	go ctl.writePump(ctx, connID, conn)
	go ctl.readPump(ctx, connID, conn)
}
