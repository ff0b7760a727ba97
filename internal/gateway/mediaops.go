package gateway

import (
	"context"

	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
)

// CreateTransport builds the directional transport for the caller's
// peer and replies with the parameters the remote endpoint needs.
func (g *Gateway) CreateTransport(ctx context.Context, s *hub.Socket, p CreateTransportPayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead); err != nil {
		return err
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	params, err := room.CreateTransport(ctx, s.Username, p.IsProducer)
	if err != nil {
		return err
	}
	event := EvtCreateConsumeTransport
	if p.IsProducer {
		event = EvtCreateProduceTransport
	}
	s.Send(event, TransportCreatedReply{Params: params})
	return nil
}

// ConnectTransport completes the handshake on the matching directional
// transport and acknowledges it.
func (g *Gateway) ConnectTransport(ctx context.Context, s *hub.Socket, p ConnectTransportPayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead); err != nil {
		return err
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	if err := room.ConnectTransport(ctx, s.Username, p.DTLSParameters, p.IsProducer); err != nil {
		return err
	}
	s.Send(EvtTransportConnected, map[string]bool{"success": true})
	return nil
}

// Produce starts the caller's outbound stream, acknowledges with the
// producer id and tells every other participant a new producer exists.
func (g *Gateway) Produce(ctx context.Context, s *hub.Socket, p ProducePayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead, store.PermServerMember); err != nil {
		return err
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	producer, err := room.CreateProducer(ctx, s.Username, p.ProducerOptions)
	if err != nil {
		return err
	}
	s.Send(EvtProduce, map[string]string{"id": producer.ID()})
	g.hub.To(hub.VoiceChannelRoom(p.ChannelID)).ExceptSocket(s.ID).Emit(EvtNewProducer, map[string]any{
		"channelId":  p.ChannelID,
		"producerId": producer.ID(),
		"username":   s.Username,
	})
	return nil
}

// Consume subscribes the caller to every producer it is not yet
// consuming, one consume event per consumer, then signals completion.
// Consumers start paused; resumeConsumer tells the client whether the
// remote peer wants them resumed right away.
func (g *Gateway) Consume(ctx context.Context, s *hub.Socket, p ConsumePayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead); err != nil {
		return err
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	created, err := room.CreateConsumers(ctx, s.Username, p.RTPCapabilities)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		s.Send(EvtConsume, nil)
		s.Send(EvtConnected, nil)
		return nil
	}
	for _, pc := range created {
		s.Send(EvtConsume, ConsumeReply{
			ProducerID:     pc.Consumer.ProducerID(),
			ID:             pc.Consumer.ID(),
			Kind:           pc.Consumer.Kind(),
			RTPParameters:  pc.Consumer.RTPParameters(),
			User:           pc.Peer.User(),
			ResumeConsumer: !pc.Peer.EveryConsumerMuted(),
		})
	}
	s.Send(EvtConnected, nil)
	return nil
}

// ChangeProducerState relays a mute/unmute of the caller's own producer
// to the other participants. Only the socket owning the tracked voice
// session may announce it; stale sockets are ignored.
func (g *Gateway) ChangeProducerState(ctx context.Context, s *hub.Socket, p ProducerStatePayload) error {
	if !g.tracker.SameSocket(s.Username, s.ID) {
		return nil
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	if !room.HasPeer(s.Username) {
		return nil
	}
	g.hub.To(hub.VoiceChannelRoom(p.ChannelID)).ExceptSocket(s.ID).Emit(EvtChangeProducerState, map[string]any{
		"channelId": p.ChannelID,
		"username":  s.Username,
		"paused":    p.Paused,
	})
	return nil
}

// ChangeConsumerState pauses or resumes one of the caller's consumers
// and acknowledges the final state. A consumer id that no longer exists
// is tolerated silently.
func (g *Gateway) ChangeConsumerState(ctx context.Context, s *hub.Socket, p ConsumerStatePayload) error {
	if !g.tracker.SameSocket(s.Username, s.ID) {
		return nil
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	peer, err := room.Peer(s.Username)
	if err != nil {
		return err
	}
	consumer, ok := peer.Consumer(p.ConsumerID)
	if !ok {
		return nil
	}
	if p.Paused {
		err = consumer.Pause(ctx)
	} else {
		err = consumer.Resume(ctx)
	}
	if err != nil {
		return err
	}
	s.Send(EvtChangeConsumerState, map[string]any{
		"consumerId": consumer.ID(),
		"paused":     consumer.Paused(),
	})
	return nil
}

// ResumeConsumer unpauses one of the caller's consumers, the follow-up
// the client sends after a consume reply with resumeConsumer set. A
// consumer id that no longer exists is tolerated silently.
func (g *Gateway) ResumeConsumer(ctx context.Context, s *hub.Socket, p ResumeConsumerPayload) error {
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	peer, err := room.Peer(s.Username)
	if err != nil {
		return err
	}
	consumer, ok := peer.Consumer(p.ConsumerID)
	if !ok {
		return nil
	}
	return consumer.Resume(ctx)
}

// ToggleAllConsumers flips the caller's peer-wide mute flag and cascades
// the pause/resume across every consumer before returning.
func (g *Gateway) ToggleAllConsumers(ctx context.Context, s *hub.Socket, p ToggleAllConsumersPayload) error {
	if !g.tracker.SameSocket(s.Username, s.ID) {
		return nil
	}
	room, err := g.registry.Room(p.ChannelID)
	if err != nil {
		return err
	}
	return room.ToggleAllConsumers(ctx, s.Username, p.Muted)
}
