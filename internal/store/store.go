// Package store declares the narrow interface the realtime gateway
// consumes from the platform's relational store, plus the permission
// guard. The gateway never reaches past these interfaces; the sqlite
// implementation in this package is a reference collaborator, tests
// use in-memory fakes.
package store

import (
	"context"
	"errors"

	"github.com/parley-chat/parley/internal/domain"
)

// ErrNotFound signals a missing row. Handlers treat missing channels
// and profiles as silent no-ops, per the gateway's idempotency rules.
var ErrNotFound = errors.New("not found")

// Store is the durable side of the platform as seen from the gateway.
type Store interface {
	// UserByUsername resolves the authenticated session user.
	UserByUsername(ctx context.Context, username string) (*domain.User, error)

	// Channel returns a channel with its server resolved.
	Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)

	// GlobalServer returns the designated default server.
	GlobalServer(ctx context.Context) (*domain.Server, error)

	// VoiceChannelIDs lists a server's voice channels.
	VoiceChannelIDs(ctx context.Context, serverID domain.ServerID) ([]domain.ChannelID, error)

	// MembersByUsernames resolves usernames to member infos on a
	// server, applying the per-server profile overlay.
	MembersByUsernames(ctx context.Context, serverID domain.ServerID, usernames []string) ([]domain.MemberInfo, error)

	// CreateCallMessage persists the system message announcing a call
	// start, authored by the starting user's membership on the global
	// server.
	CreateCallMessage(ctx context.Context, username string, channelID domain.ChannelID, content string) (*domain.Message, error)

	// UpdateCallMessage rewrites the call message's content once the
	// call's duration is known.
	UpdateCallMessage(ctx context.Context, messageID int64, content string) (*domain.Message, error)

	// UpdateUserStatus persists an account-level status change and
	// returns the updated user.
	UpdateUserStatus(ctx context.Context, username string, status domain.Status) (*domain.User, error)

	// ServerProfile returns the member's per-server presence overlay,
	// or ErrNotFound when the user has no profile on that server.
	ServerProfile(ctx context.Context, serverID domain.ServerID, username string) (*domain.ServerProfile, error)

	// UpdateProfileStatus persists a per-server status change.
	UpdateProfileStatus(ctx context.Context, serverID domain.ServerID, username string, status domain.Status) error

	// OnlineFriends lists accepted friends of the user that are
	// currently online.
	OnlineFriends(ctx context.Context, username string) ([]string, error)

	// PrivateChannelCounterparts lists the other participant of every
	// accepted private channel the user is in.
	PrivateChannelCounterparts(ctx context.Context, username string) ([]string, error)
}

// Permission names the access checks the gateway delegates.
type Permission string

const (
	PermChannelRead  Permission = "channel:read"
	PermChannelWrite Permission = "channel:write"
	PermServerMember Permission = "server:member"
)

// ErrForbidden is returned by guards on deny.
var ErrForbidden = errors.New("forbidden")

// Guard validates that a user may act on a channel or server before
// the gateway mutates any state for the event.
type Guard interface {
	Authorize(ctx context.Context, username string, channelID domain.ChannelID, perms ...Permission) error
	AuthorizeServer(ctx context.Context, username string, serverID domain.ServerID) error
}

// AllowAll is a guard that authorizes everything. Used in tests and in
// deployments where the session layer already scopes access.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, domain.ChannelID, ...Permission) error {
	return nil
}

func (AllowAll) AuthorizeServer(context.Context, string, domain.ServerID) error {
	return nil
}
