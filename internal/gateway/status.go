package gateway

import (
	"context"
	"errors"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
)

// Typing updates the channel's typing list and pushes it to everyone
// else viewing the channel. Events for a channel the socket is not in
// are dropped.
func (g *Gateway) Typing(ctx context.Context, s *hub.Socket, p TypingPayload) error {
	room := hub.TextChannelRoom(p.ChannelID)
	if !s.InRoom(room) {
		return nil
	}
	list := g.presence.SetTyping(p.ChannelID, s.Username, p.Status == "typing")
	g.hub.To(room).Except(hub.PrivateRoom(s.Username)).ExceptSocket(s.ID).Emit(EvtTyping, map[string]any{
		"channelId": p.ChannelID,
		"users":     list,
	})
	return nil
}

// Status applies a presence change and broadcasts the updated user to
// everyone entitled to see it: online friends, private channel
// counterparts and the server the socket currently browses. Invisible
// users and pinned statuses suppress the broadcast entirely.
func (g *Gateway) Status(ctx context.Context, s *hub.Socket, p StatusPayload) error {
	user, err := g.store.UserByUsername(ctx, s.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	serverID := p.ServerID
	if serverID == 0 {
		if srv, err := g.store.GlobalServer(ctx); err == nil {
			serverID = srv.ID
		}
	}
	g.tracker.SetCurrentServer(s.ID, serverID)

	invisible, special := user.IsInvisible, user.SpecialStatus
	if serverID != 0 {
		profile, err := g.store.ServerProfile(ctx, serverID, s.Username)
		switch {
		case err == nil:
			invisible, special = profile.IsInvisible, profile.SpecialStatus
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if invisible {
		return nil
	}
	// A pinned status only yields to an explicit change away from the
	// automatic online transition.
	if special && p.Status == domain.StatusOnline {
		return nil
	}

	updated, err := g.store.UpdateUserStatus(ctx, s.Username, p.Status)
	if err != nil {
		return err
	}
	if serverID != 0 {
		if err := g.store.UpdateProfileStatus(ctx, serverID, s.Username, p.Status); err != nil && !errors.Is(err, store.ErrNotFound) {
			g.log.Warn().Err(err).Str("user", s.Username).Int64("server", int64(serverID)).Msg("update profile status")
		}
	}

	rooms := g.statusRooms(ctx, s.Username, serverID)
	if len(rooms) == 0 {
		return nil
	}
	g.hub.To(rooms...).ExceptSocket(s.ID).Emit(EvtStatus, updated)
	return nil
}

// statusRooms collects the socket groups a presence change fans out to:
// one private group per online friend, per private-channel counterpart,
// plus the server room. Deduplicated.
func (g *Gateway) statusRooms(ctx context.Context, username string, serverID domain.ServerID) []string {
	seen := make(map[string]struct{})
	var rooms []string
	add := func(room string) {
		if _, ok := seen[room]; ok {
			return
		}
		seen[room] = struct{}{}
		rooms = append(rooms, room)
	}

	friends, err := g.store.OnlineFriends(ctx, username)
	if err != nil {
		g.log.Warn().Err(err).Str("user", username).Msg("list online friends")
	}
	for _, friend := range friends {
		add(hub.PrivateRoom(friend))
	}
	counterparts, err := g.store.PrivateChannelCounterparts(ctx, username)
	if err != nil {
		g.log.Warn().Err(err).Str("user", username).Msg("list private channel counterparts")
	}
	for _, other := range counterparts {
		add(hub.PrivateRoom(other))
	}
	if serverID != 0 {
		add(hub.ServerRoom(serverID))
	}
	return rooms
}

// Disconnect runs the full cleanup for a closed socket: the voice
// session is torn down only if this socket owns it (its tracker entry
// survives for rejoin), the user goes offline on the server the socket
// was browsing, typing indicators are cleared and the socket leaves the
// hub.
func (g *Gateway) Disconnect(ctx context.Context, s *hub.Socket) {
	if err := g.leaveVoice(ctx, s.Username, s.ID, false, false); err != nil {
		g.log.Warn().Err(err).Str("user", s.Username).Msg("leave voice on disconnect")
	}

	serverID, _ := g.tracker.CurrentServer(s.ID)
	if err := g.Status(ctx, s, StatusPayload{Status: domain.StatusOffline, ServerID: serverID}); err != nil {
		g.log.Warn().Err(err).Str("user", s.Username).Msg("offline status on disconnect")
	}

	for _, channelID := range g.presence.ClearUser(s.Username) {
		g.hub.To(hub.TextChannelRoom(channelID)).Except(hub.PrivateRoom(s.Username)).Emit(EvtTyping, map[string]any{
			"channelId": channelID,
			"users":     g.presence.TypingUsers(channelID),
		})
	}

	g.tracker.DropSocket(s.ID)
	g.hub.Unregister(s)
	g.log.Info().Str("user", s.Username).Str("socket", s.ID).Msg("socket disconnected")
}
