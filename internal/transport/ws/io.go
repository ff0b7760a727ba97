package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/rs/zerolog/log"
)

const writeDeadline = 5 * time.Second

// inbound is one client frame before payload decoding.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, s *hub.Socket, c *wsConn) {
	defer func() {
		cancel()
		ctl.gw.Disconnect(context.Background(), s)
		ctl.limiter.Forget(s.ID)
		c.Close()
		log.Info().Str("module", "ws").Str("socket", s.ID).Msg("readPump closing")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "ws").Str("socket", s.ID).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, s, data)
		}
	}
}

// dispatch routes one inbound frame. Handler errors are reported back
// on the same socket scoped to the failing event; they never tear the
// connection down.
func (ctl *Controller) dispatch(ctx context.Context, s *hub.Socket, data []byte) {
	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("socket", s.ID).Msg("bad json")
		return
	}

	switch env.Event {
	case gateway.EvtJoinVoiceChannel, gateway.EvtCreateTransport, gateway.EvtConnectTransport, gateway.EvtJoinChannel, gateway.EvtJoinServer:
		if !ctl.limiter.Allow(s.ID) {
			log.Warn().Str("module", "ws").Str("socket", s.ID).Str("event", env.Event).Msg("rate limited")
			s.Send(gateway.EvtError, gateway.ErrorReply{Source: env.Event, Message: "rate limited"})
			return
		}
	}

	var err error
	switch env.Event {
	case gateway.EvtJoinVoiceChannel:
		var p gateway.ChannelPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.JoinVoiceChannel(ctx, s, p)
		}
	case gateway.EvtLeaveVoiceChannel:
		err = ctl.gw.LeaveVoiceChannel(ctx, s)
	case gateway.EvtCreateTransport:
		var p gateway.CreateTransportPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.CreateTransport(ctx, s, p)
		}
	case gateway.EvtConnectTransport:
		var p gateway.ConnectTransportPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.ConnectTransport(ctx, s, p)
		}
	case gateway.EvtProduce:
		var p gateway.ProducePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.Produce(ctx, s, p)
		}
	case gateway.EvtConsume:
		var p gateway.ConsumePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.Consume(ctx, s, p)
		}
	case gateway.EvtChangeProducerState:
		var p gateway.ProducerStatePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.ChangeProducerState(ctx, s, p)
		}
	case gateway.EvtChangeConsumerState:
		var p gateway.ConsumerStatePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.ChangeConsumerState(ctx, s, p)
		}
	case gateway.EvtResumeConsumer:
		var p gateway.ResumeConsumerPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.ResumeConsumer(ctx, s, p)
		}
	case gateway.EvtToggleAllConsumers:
		var p gateway.ToggleAllConsumersPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.ToggleAllConsumers(ctx, s, p)
		}
	case gateway.EvtJoinChannel:
		var p gateway.ChannelPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.JoinChannel(ctx, s, p)
		}
	case gateway.EvtJoinServer:
		var p gateway.ServerPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.JoinServer(ctx, s, p)
		}
	case gateway.EvtJoinPrivateRoom:
		err = ctl.gw.JoinPrivateRoom(ctx, s)
	case gateway.EvtTyping:
		var p gateway.TypingPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.Typing(ctx, s, p)
		}
	case gateway.EvtStatus:
		var p gateway.StatusPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = ctl.gw.Status(ctx, s, p)
		}
	case gateway.EvtPing:
		ctl.gw.Ping(s)
	default:
		log.Warn().Str("module", "ws").Str("event", env.Event).Msg("unknown event")
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("socket", s.ID).Str("event", env.Event).Msg("handler error")
		s.Send(gateway.EvtError, gateway.ErrorReply{Source: env.Event, Message: err.Error()})
	}
}
