package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/media"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// EngineFactory creates the media engine backing a new worker.
type EngineFactory func(ctx context.Context) (media.Engine, error)

// Registry owns the channel→room and channel→worker maps. At most one
// room exists per channel; rooms per worker are capped and filled
// first-fit before a new worker is spun up.
type Registry struct {
	capacity  int
	newEngine EngineFactory

	mu       sync.RWMutex
	workers  []*media.Worker
	rooms    map[domain.ChannelID]*media.Room
	assigned map[domain.ChannelID]*media.Worker

	// creation is serialized per channel so two concurrent first joins
	// can never register two rooms (or leak an orphaned router).
	flight singleflight.Group
}

func NewRegistry(capacity int, newEngine EngineFactory) *Registry {
	return &Registry{
		capacity:  capacity,
		newEngine: newEngine,
		rooms:     make(map[domain.ChannelID]*media.Room),
		assigned:  make(map[domain.ChannelID]*media.Worker),
	}
}

// AssignWorker resolves the worker for a channel: the already assigned
// one, else the first existing worker below capacity, else a new one.
// The chosen worker's room count grows only on first assignment.
func (r *Registry) AssignWorker(ctx context.Context, channelID domain.ChannelID) (*media.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.assigned[channelID]; ok {
		return w, nil
	}

	var worker *media.Worker
	for _, w := range r.workers {
		if w.RoomsCount() < r.capacity {
			worker = w
			break
		}
	}
	if worker == nil {
		engine, err := r.newEngine(ctx)
		if err != nil {
			return nil, fmt.Errorf("create media engine: %w", err)
		}
		worker = media.NewWorker(uuid.NewString(), engine)
		r.workers = append(r.workers, worker)
	}

	worker.RetainRoom()
	r.assigned[channelID] = worker
	log.Info().Str("module", "gateway.registry").Int64("channel", int64(channelID)).Str("worker", worker.ID()).Int("worker_rooms", worker.RoomsCount()).Msg("worker assigned")
	return worker, nil
}

// GetOrCreateRoom returns the room for the channel, creating it (and
// assigning a worker) on first use. Concurrent calls for the same
// channel are collapsed into one creation.
func (r *Registry) GetOrCreateRoom(ctx context.Context, channelID domain.ChannelID) (*media.Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[channelID]
	r.mu.RUnlock()
	if ok {
		return room, nil
	}

	v, err, _ := r.flight.Do(fmt.Sprintf("room/%d", channelID), func() (any, error) {
		r.mu.RLock()
		room, ok := r.rooms[channelID]
		r.mu.RUnlock()
		if ok {
			return room, nil
		}

		worker, err := r.AssignWorker(ctx, channelID)
		if err != nil {
			return nil, err
		}
		router, err := worker.Engine().CreateRouter(ctx)
		if err != nil {
			return nil, fmt.Errorf("create router: %w", err)
		}
		room = media.NewRoom(channelID, router, worker)

		r.mu.Lock()
		r.rooms[channelID] = room
		r.mu.Unlock()
		log.Info().Str("module", "gateway.registry").Int64("channel", int64(channelID)).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.Room), nil
}

// Room returns the registered room or ErrRoomNotFound.
func (r *Registry) Room(channelID domain.ChannelID) (*media.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[channelID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RemoveRoomIfEmpty destroys and deregisters the channel's room when
// its last peer is gone, releasing the worker slot. Returns whether a
// room was removed.
func (r *Registry) RemoveRoomIfEmpty(channelID domain.ChannelID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[channelID]
	if !ok || !room.IsEmpty() {
		return false, nil
	}
	if err := room.Destroy(); err != nil {
		return false, err
	}
	delete(r.rooms, channelID)
	if worker, ok := r.assigned[channelID]; ok {
		worker.ReleaseRoom()
		delete(r.assigned, channelID)
	}
	log.Info().Str("module", "gateway.registry").Int64("channel", int64(channelID)).Msg("room destroyed")
	return true, nil
}

// Workers returns a snapshot of all workers.
func (r *Registry) Workers() []*media.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*media.Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// ChannelIDs lists the channels with a live room.
func (r *Registry) ChannelIDs() []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Usernames lists the participants of a channel's room; empty when the
// room does not exist.
func (r *Registry) Usernames(channelID domain.ChannelID) []string {
	room, err := r.Room(channelID)
	if err != nil {
		return nil
	}
	peers := room.Peers(nil)
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Username())
	}
	return out
}
