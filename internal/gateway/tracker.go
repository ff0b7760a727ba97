package gateway

import (
	"sync"

	"github.com/parley-chat/parley/internal/domain"
)

// ConnectionEntry is a user's currently active voice session: which
// channel and server they are in, over which socket. At most one per
// username; overwritten on rejoin, removed on explicit leave (kept on
// disconnect so a reconnecting client can be told to rejoin).
type ConnectionEntry struct {
	ChannelID domain.ChannelID `json:"channelId"`
	ServerID  domain.ServerID  `json:"serverId"`
	SocketID  string           `json:"-"`
}

// ConnectionTracker maps usernames to their active voice session and
// sockets to the server they currently browse (used for the offline
// broadcast on disconnect).
type ConnectionTracker struct {
	mu             sync.RWMutex
	byUser         map[string]ConnectionEntry
	serverBySocket map[string]domain.ServerID
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		byUser:         make(map[string]ConnectionEntry),
		serverBySocket: make(map[string]domain.ServerID),
	}
}

// Bind records (or overwrites) the user's active voice session.
func (t *ConnectionTracker) Bind(username string, entry ConnectionEntry) {
	t.mu.Lock()
	t.byUser[username] = entry
	t.mu.Unlock()
}

func (t *ConnectionTracker) Lookup(username string) (ConnectionEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.byUser[username]
	return entry, ok
}

// SameSocket reports whether the user's tracked session belongs to the
// given socket. Used to keep stale sockets from evicting newer ones.
func (t *ConnectionTracker) SameSocket(username, socketID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.byUser[username]
	return ok && entry.SocketID == socketID
}

// Clear drops the user's session entry.
func (t *ConnectionTracker) Clear(username string) {
	t.mu.Lock()
	delete(t.byUser, username)
	t.mu.Unlock()
}

// SetCurrentServer remembers which server a socket last reported
// presence for.
func (t *ConnectionTracker) SetCurrentServer(socketID string, serverID domain.ServerID) {
	t.mu.Lock()
	t.serverBySocket[socketID] = serverID
	t.mu.Unlock()
}

func (t *ConnectionTracker) CurrentServer(socketID string) (domain.ServerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.serverBySocket[socketID]
	return id, ok
}

// DropSocket forgets a socket's server association on disconnect.
func (t *ConnectionTracker) DropSocket(socketID string) {
	t.mu.Lock()
	delete(t.serverBySocket, socketID)
	t.mu.Unlock()
}
