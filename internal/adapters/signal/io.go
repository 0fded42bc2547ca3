package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/gorilla/websocket"
)

func (c *Channel) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Channel) readPump(ctx context.Context) {
	defer c.Close()

	pongWait := 2 * c.opts.PingPeriod
	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.Connected() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("readPump unexpected close")
			} else {
				c.log.Info().Err(err).Msg("readPump closing")
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Channel) handleFrame(ctx context.Context, data []byte) {
	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Error().Err(err).Msg("bad json")
		return
	}
	if err := msg.Validate(); err != nil {
		c.log.Warn().Err(err).Str("event", string(msg.Event)).Str("kind", domain.Kind(err)).Msg("frame dropped")
		return
	}
	if c.limiter != nil && !c.limiter.Allow(msg.CallID) {
		c.log.Warn().Str("call_id", string(msg.CallID)).Str("event", string(msg.Event)).Msg("frame rate limited")
		return
	}
	if c.inbound != nil {
		c.inbound(ctx, msg)
	}
}
