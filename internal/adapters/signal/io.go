package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, conn domain.ConnID, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Str("conn", string(conn)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				// Drained after Close; the socket goes down with it.
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, conn domain.ConnID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("conn", string(conn)).Msg("readPump closing")
		ctl.Neg.Disconnect(conn)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	pongWait := 2 * ctl.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Str("conn", string(conn)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.signal").Str("conn", string(conn)).Msg("readPump read error")
				return
			}
			ctl.dispatch(conn, data)
		}
	}
}

func (ctl *Controller) dispatch(conn domain.ConnID, data []byte) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Str("conn", string(conn)).Msg("bad json")
		return
	}

	switch env.Event {
	case core.EventJoinRoom:
		var p core.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad join-room payload")
			return
		}
		ctl.Neg.Join(conn, p.RoomID)
	case core.EventApproveMentor:
		var p core.ApproveRequest
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.Target == "" {
			log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad approve-mentor payload")
			return
		}
		ctl.Neg.Approve(conn, p)
	case string(core.RelayOffer), string(core.RelayAnswer), string(core.RelayICE):
		ctl.Neg.Relay(conn, core.RelayKind(env.Event), "", env.Data)
	case string(core.RelayChat):
		var p core.ChatEnvelope
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad chat-message payload")
			return
		}
		ctl.Neg.Relay(conn, core.RelayChat, p.RoomID, env.Data)
	default:
		log.Warn().Str("module", "adapters.signal").Str("event", env.Event).Msg("unknown signal")
	}
}
