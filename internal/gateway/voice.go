package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/store"
)

const (
	callStartedContent = "started a voice call"
	callEndedPrefix    = "started a call that lasted "
)

// JoinVoiceChannel moves the user into a channel's voice room. A user
// is in at most one voice room: joining a different channel first tears
// the previous session down (any of the user's sockets may trigger the
// switch). Re-sending the join from the same socket is a no-op; a join
// from a new socket replaces the old peer.
func (g *Gateway) JoinVoiceChannel(ctx context.Context, s *hub.Socket, p ChannelPayload) error {
	if err := g.guard.Authorize(ctx, s.Username, p.ChannelID, store.PermChannelRead, store.PermServerMember); err != nil {
		return err
	}
	channel, err := g.store.Channel(ctx, p.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	user, err := g.store.UserByUsername(ctx, s.Username)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	if entry, ok := g.tracker.Lookup(s.Username); ok && entry.ChannelID != p.ChannelID {
		// Switching channels: tear the old session down regardless of
		// which socket owns it, but keep no stale entry around.
		if err := g.leaveVoice(ctx, s.Username, s.ID, true, true); err != nil {
			g.log.Warn().Err(err).Str("user", s.Username).Msg("leave previous voice channel")
		}
	}

	room, err := g.registry.GetOrCreateRoom(ctx, p.ChannelID)
	if err != nil {
		return err
	}
	// A same-room rejoin (new socket) replaces the peer but must not be
	// accounted as a new participant.
	rejoining := room.HasPeer(s.Username)
	if rejoining {
		if peer, err := room.Peer(s.Username); err == nil && peer.SocketID() == s.ID {
			return nil
		}
	}
	room.AddPeer(s.ID, *user)
	g.tracker.Bind(s.Username, ConnectionEntry{
		ChannelID: p.ChannelID,
		ServerID:  channel.ServerID,
		SocketID:  s.ID,
	})

	voiceRoom := hub.VoiceChannelRoom(p.ChannelID)
	g.hub.Join(s, voiceRoom)

	s.Send(EvtRTPCapabilities, CapabilitiesReply{
		RTPCapabilities: room.RTPCapabilities(),
		Channel:         channel,
	})
	g.hub.To(voiceRoom).ExceptSocket(s.ID).Emit(EvtUserJoinedVoice, map[string]any{
		"channelId": p.ChannelID,
		"username":  s.Username,
	})
	g.broadcastMembers(ctx, p.ChannelID, channel.ServerID,
		hub.ServerRoom(channel.ServerID), voiceRoom)

	if !rejoining && room.PeerCount() == 1 && channel.Server.IsGlobal && room.CallMarker() == nil {
		if err := g.announceCallStart(ctx, s.Username, room, channel); err != nil {
			g.log.Error().Err(err).Int64("channel", int64(p.ChannelID)).Msg("announce call start")
		}
	}

	g.log.Info().Str("user", s.Username).Int64("channel", int64(p.ChannelID)).Msg("joined voice channel")
	return nil
}

// announceCallStart persists the "started a voice call" system message,
// broadcasts it to the channel's text room and pins the marker on the
// room so the closing update can compute the duration.
func (g *Gateway) announceCallStart(ctx context.Context, username string, room *media.Room, channel *domain.Channel) error {
	msg, err := g.store.CreateCallMessage(ctx, username, channel.ID, callStartedContent)
	if err != nil {
		return fmt.Errorf("create call message: %w", err)
	}
	room.SetCallMarker(&media.CallMarker{MessageID: msg.ID, StartedAt: msg.CreatedAt})
	g.hub.To(hub.TextChannelRoom(channel.ID)).Emit(EvtMessage, msg)
	return nil
}

// LeaveVoiceChannel handles an explicit leave request. Only the socket
// that owns the tracked session may leave it; the session entry is
// dropped so a later reconnect does not replay it.
func (g *Gateway) LeaveVoiceChannel(ctx context.Context, s *hub.Socket) error {
	return g.leaveVoice(ctx, s.Username, s.ID, false, true)
}

// leaveVoice tears down the user's tracked voice session.
//
// allowDifferent lets a socket other than the session's owner trigger
// the teardown (channel switches arrive on whichever socket the user
// acts from). dropEntry removes the tracked session; disconnects keep
// it so the reconnecting client can be told to rejoin.
func (g *Gateway) leaveVoice(ctx context.Context, username, socketID string, allowDifferent, dropEntry bool) error {
	entry, ok := g.tracker.Lookup(username)
	if !ok {
		return nil
	}
	if !allowDifferent && entry.SocketID != socketID {
		return nil
	}

	var firstErr error
	room, err := g.registry.Room(entry.ChannelID)
	if err == nil {
		if room.HasPeer(username) && room.PeerCount() == 1 {
			if err := g.announceCallEnd(ctx, room, entry.ChannelID); err != nil {
				g.log.Error().Err(err).Int64("channel", int64(entry.ChannelID)).Msg("announce call end")
				firstErr = err
			}
		}
		room.RemovePeer(username)
		if _, err := g.registry.RemoveRoomIfEmpty(entry.ChannelID); err != nil {
			g.log.Warn().Err(err).Int64("channel", int64(entry.ChannelID)).Msg("remove empty room")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if dropEntry {
		g.tracker.Clear(username)
	}

	voiceRoom := hub.VoiceChannelRoom(entry.ChannelID)
	g.hub.LeaveAllIn(hub.PrivateRoom(username), voiceRoom)
	if sock, ok := g.hub.Socket(entry.SocketID); ok {
		sock.Send(EvtDisconnected, nil)
	}
	g.hub.To(voiceRoom).ExceptSocket(entry.SocketID).Emit(EvtUserLeftVoice, map[string]any{
		"channelId": entry.ChannelID,
		"username":  username,
	})
	g.broadcastMembers(ctx, entry.ChannelID, entry.ServerID,
		hub.ServerRoom(entry.ServerID), voiceRoom)

	g.log.Info().Str("user", username).Int64("channel", int64(entry.ChannelID)).Msg("left voice channel")
	return firstErr
}

// announceCallEnd rewrites the call-start message with the elapsed
// duration and broadcasts the updated message. Runs exactly once per
// call, when the last participant is about to leave.
func (g *Gateway) announceCallEnd(ctx context.Context, room *media.Room, channelID domain.ChannelID) error {
	marker := room.CallMarker()
	if marker == nil {
		return nil
	}
	room.SetCallMarker(nil)

	elapsed := strings.TrimSpace(humanize.RelTime(marker.StartedAt, g.now(), "", ""))
	msg, err := g.store.UpdateCallMessage(ctx, marker.MessageID, callEndedPrefix+elapsed)
	if err != nil {
		return fmt.Errorf("update call message: %w", err)
	}
	g.hub.To(hub.TextChannelRoom(channelID)).Emit(EvtMessage, msg)
	return nil
}
