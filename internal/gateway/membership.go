package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
)

// JoinChannel moves the socket into a text channel's room. A socket
// views one text channel at a time: joining a new one leaves the
// previous room first. On the global server the channel's voice member
// list is pushed so the sidebar is current on entry.
func (g *Gateway) JoinChannel(ctx context.Context, s *hub.Socket, p ChannelPayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead); err != nil {
		return err
	}
	channel, err := g.store.Channel(ctx, p.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	room := hub.TextChannelRoom(p.ChannelID)
	if s.InRoom(room) {
		return nil
	}
	for _, r := range s.Rooms() {
		if strings.HasPrefix(r, "channel/"+string(domain.ChannelText)+"/") {
			g.hub.Leave(s, r)
		}
	}
	g.hub.Join(s, room)

	if channel.Server.IsGlobal {
		g.broadcastMembers(ctx, p.ChannelID, channel.ServerID, room)
	}
	g.hub.To(room).Except(hub.PrivateRoom(s.Username)).ExceptSocket(s.ID).Emit(EvtJoinChannel, map[string]any{
		"channelId": p.ChannelID,
		"username":  s.Username,
	})
	return nil
}

// JoinServer moves the socket into a server's room (one at a time) and
// replies with the member list of each of the server's voice channels.
func (g *Gateway) JoinServer(ctx context.Context, s *hub.Socket, p ServerPayload) error {
	if err := g.guard.AuthorizeServer(ctx, s.Username, p.ServerID); err != nil {
		return err
	}

	room := hub.ServerRoom(p.ServerID)
	for _, r := range s.Rooms() {
		if r != room && strings.HasPrefix(r, "server/") {
			g.hub.Leave(s, r)
		}
	}
	g.hub.Join(s, room)

	channelIDs, err := g.store.VoiceChannelIDs(ctx, p.ServerID)
	if err != nil {
		return err
	}
	reply := JoinedServerReply{
		VoiceChannelMembers: make(map[domain.ChannelID][]domain.MemberInfo, len(channelIDs)),
	}
	for _, id := range channelIDs {
		reply.VoiceChannelMembers[id] = g.members(ctx, id, p.ServerID)
	}
	s.Send(EvtUserJoinedServer, reply)
	return nil
}

// JoinPrivateRoom puts the socket into the user's private group (every
// socket of a user shares it). If the user has a live voice session the
// socket is told to rejoin it, which covers page reloads mid-call.
func (g *Gateway) JoinPrivateRoom(ctx context.Context, s *hub.Socket) error {
	room := hub.PrivateRoom(s.Username)
	if !s.InRoom(room) {
		g.hub.Join(s, room)
	}
	s.Send(EvtJoinPrivateRoom, nil)

	if entry, ok := g.tracker.Lookup(s.Username); ok {
		s.Send(EvtRejoin, RejoinReply{ChannelID: entry.ChannelID, ServerID: entry.ServerID})
	}
	return nil
}
