// Package gateway is the realtime coordination engine: it receives
// inbound socket events, validates preconditions through the external
// guard, drives room/peer/worker and presence state transitions, and
// emits outbound events to the affected socket groups. All state here
// is process-local and rebuilt from scratch on restart.
package gateway

import (
	"context"
	"time"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Gateway struct {
	hub      *hub.Hub
	store    store.Store
	guard    store.Guard
	registry *Registry
	tracker  *ConnectionTracker
	presence *Presence

	// now is a clock hook so call durations are testable.
	now func() time.Time
	log zerolog.Logger
}

func New(h *hub.Hub, st store.Store, guard store.Guard, registry *Registry) *Gateway {
	return &Gateway{
		hub:      h,
		store:    st,
		guard:    guard,
		registry: registry,
		tracker:  NewConnectionTracker(),
		presence: NewPresence(),
		now:      time.Now,
		log:      log.With().Str("module", "gateway").Logger(),
	}
}

func (g *Gateway) Hub() *hub.Hub       { return g.hub }
func (g *Gateway) Registry() *Registry { return g.registry }

// members resolves the current participants of a channel's voice room
// through the store (per-server profile overlay applied). Best-effort:
// a store failure yields an empty list, never aborts the caller.
func (g *Gateway) members(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID) []domain.MemberInfo {
	usernames := g.registry.Usernames(channelID)
	if len(usernames) == 0 {
		return []domain.MemberInfo{}
	}
	members, err := g.store.MembersByUsernames(ctx, serverID, usernames)
	if err != nil {
		g.log.Warn().Err(err).Int64("channel", int64(channelID)).Msg("resolve members")
		return []domain.MemberInfo{}
	}
	return members
}

// broadcastMembers pushes a refreshed member list for a channel to the
// given socket groups.
func (g *Gateway) broadcastMembers(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, rooms ...string) {
	reply := MembersReply{ChannelID: channelID, Members: g.members(ctx, channelID, serverID)}
	g.hub.To(rooms...).Emit(EvtMembers, reply)
}

// Ping answers the keepalive probe on the same socket.
func (g *Gateway) Ping(s *hub.Socket) {
	s.Send(EvtPong, nil)
}
