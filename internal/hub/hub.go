// Package hub tracks connected sockets and the named groups they join,
// and fans outbound events out to groups. It is transport-agnostic: the
// websocket adapter owns the Conn it registers and must close it.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// Envelope is one outbound event as delivered to a socket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn abstracts the transport endpoint of one socket. TrySend must not
// block; a full send buffer returns ErrBackpressure and the event is
// dropped (broadcasts are best-effort).
type Conn interface {
	TrySend(Envelope) error
	Close()
}

// Socket is one connected client with its group memberships.
type Socket struct {
	ID       string
	Username string
	conn     Conn

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// Send emits one event to this socket only.
func (s *Socket) Send(event string, data any) {
	if err := s.conn.TrySend(Envelope{Event: event, Data: data}); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("socket", s.ID).Str("event", event).Msg("send dropped")
	}
}

// InRoom reports whether the socket joined the named group.
func (s *Socket) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// Rooms returns a snapshot of the socket's group memberships.
func (s *Socket) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

type Hub struct {
	mu      sync.RWMutex
	sockets map[string]*Socket
	rooms   map[string]map[string]*Socket
}

func NewHub() *Hub {
	return &Hub{
		sockets: make(map[string]*Socket),
		rooms:   make(map[string]map[string]*Socket),
	}
}

// Register adds a connected socket. The caller keeps ownership of conn.
func (h *Hub) Register(id, username string, conn Conn) *Socket {
	s := &Socket{ID: id, Username: username, conn: conn, rooms: make(map[string]struct{})}
	h.mu.Lock()
	h.sockets[id] = s
	h.mu.Unlock()
	log.Info().Str("module", "hub").Str("socket", id).Str("user", username).Msg("socket registered")
	return s
}

// Unregister removes a socket from every group and from the hub. The
// room snapshot is taken under the socket's own lock: Join/Leave on the
// same socket may run concurrently (another user's teardown detaches it
// via LeaveAllIn).
func (h *Hub) Unregister(s *Socket) {
	rooms := s.Rooms()
	h.mu.Lock()
	for _, room := range rooms {
		h.dropLocked(room, s.ID)
	}
	delete(h.sockets, s.ID)
	h.mu.Unlock()

	s.mu.Lock()
	s.rooms = make(map[string]struct{})
	s.mu.Unlock()
	log.Info().Str("module", "hub").Str("socket", s.ID).Msg("socket unregistered")
}

// Socket looks a socket up by id.
func (h *Hub) Socket(id string) (*Socket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sockets[id]
	return s, ok
}

// Join adds the socket to a named group.
func (h *Hub) Join(s *Socket, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Socket)
		h.rooms[room] = members
	}
	members[s.ID] = s
	h.mu.Unlock()

	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// Leave removes the socket from a named group.
func (h *Hub) Leave(s *Socket, room string) {
	h.mu.Lock()
	h.dropLocked(room, s.ID)
	h.mu.Unlock()

	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (h *Hub) dropLocked(room, socketID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, socketID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// LeaveAllIn makes every socket currently in `from` leave `target`.
// Used to detach all of a user's sockets (their private group) from a
// voice channel group at once.
func (h *Hub) LeaveAllIn(from, target string) {
	for _, s := range h.SocketsIn(from) {
		h.Leave(s, target)
	}
}

// SocketsIn returns a snapshot of the sockets in a group.
func (h *Hub) SocketsIn(room string) []*Socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]*Socket, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// To starts a broadcast addressed to the union of the given groups.
func (h *Hub) To(rooms ...string) *Broadcast {
	return &Broadcast{hub: h, rooms: rooms}
}

// Broadcast is a pending group emit with optional exclusions.
type Broadcast struct {
	hub           *Hub
	rooms         []string
	exceptRooms   []string
	exceptSockets []string
}

// Except excludes all sockets of the given groups from the broadcast.
func (b *Broadcast) Except(rooms ...string) *Broadcast {
	b.exceptRooms = append(b.exceptRooms, rooms...)
	return b
}

// ExceptSocket excludes individual sockets from the broadcast.
func (b *Broadcast) ExceptSocket(ids ...string) *Broadcast {
	b.exceptSockets = append(b.exceptSockets, ids...)
	return b
}

// Emit delivers the event to every addressed socket exactly once.
// Delivery is best-effort: a slow socket drops the event, it never
// aborts the broadcast.
func (b *Broadcast) Emit(event string, data any) {
	excluded := make(map[string]struct{})
	for _, id := range b.exceptSockets {
		excluded[id] = struct{}{}
	}
	b.hub.mu.RLock()
	for _, room := range b.exceptRooms {
		for id := range b.hub.rooms[room] {
			excluded[id] = struct{}{}
		}
	}
	targets := make(map[string]*Socket)
	for _, room := range b.rooms {
		for id, s := range b.hub.rooms[room] {
			if _, skip := excluded[id]; skip {
				continue
			}
			targets[id] = s
		}
	}
	b.hub.mu.RUnlock()

	for _, s := range targets {
		s.Send(event, data)
	}
}
