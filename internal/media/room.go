package media

import (
	"context"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallMarker remembers the system message announcing a call start so
// the elapsed duration can be computed on teardown.
type CallMarker struct {
	MessageID int64
	StartedAt time.Time
}

// PeerConsumer pairs a freshly created consumer with the remote peer it
// consumes, so the gateway can report remote user metadata per consumer.
type PeerConsumer struct {
	Peer     *Peer
	Consumer Consumer
}

// Room is the in-memory state of one voice channel in use: a peer set
// and the router they share. Created lazily on first join, destroyed
// when the last peer leaves.
type Room struct {
	channelID domain.ChannelID
	router    Router
	worker    *Worker

	mu         sync.RWMutex
	peers      map[string]*Peer
	callMarker *CallMarker
}

func NewRoom(channelID domain.ChannelID, router Router, worker *Worker) *Room {
	return &Room{
		channelID: channelID,
		router:    router,
		worker:    worker,
		peers:     make(map[string]*Peer),
	}
}

func (r *Room) ChannelID() domain.ChannelID { return r.channelID }
func (r *Room) Worker() *Worker             { return r.worker }

func (r *Room) RTPCapabilities() RTPCapabilities { return r.router.RTPCapabilities() }

// AddPeer registers a participant, replacing (and stopping) any
// previous peer recorded for the same username.
func (r *Room) AddPeer(socketID string, user domain.User) *Peer {
	peer := NewPeer(socketID, user)
	r.mu.Lock()
	old := r.peers[user.Username]
	r.peers[user.Username] = peer
	r.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	log.Info().Str("module", "media.room").Int64("channel", int64(r.channelID)).Str("user", user.Username).Msg("peer added")
	return peer
}

func (r *Room) HasPeer(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[username]
	return ok
}

// Peer returns the participant record or ErrPeerNotFound; handlers that
// call it assume a prior join already happened.
func (r *Room) Peer(username string) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[username]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return peer, nil
}

// RemovePeer stops and drops a participant. No-op when absent.
func (r *Room) RemovePeer(username string) {
	r.mu.Lock()
	peer := r.peers[username]
	delete(r.peers, username)
	r.mu.Unlock()
	if peer != nil {
		peer.Stop()
		log.Info().Str("module", "media.room").Int64("channel", int64(r.channelID)).Str("user", username).Msg("peer removed")
	}
}

// Peers returns a snapshot of the participants, optionally filtered.
func (r *Room) Peers(filter func(*Peer) bool) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if filter == nil || filter(p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) IsEmpty() bool { return r.PeerCount() == 0 }

// Destroy closes the router. Destroying a room that still has peers is
// a programming error and fails loudly instead of leaking them.
func (r *Room) Destroy() error {
	if !r.IsEmpty() {
		return ErrRoomNotEmpty
	}
	return r.router.Close()
}

// CreateTransport creates a new directional transport for the peer,
// replacing any previous transport of the same direction.
func (r *Room) CreateTransport(ctx context.Context, username string, producerSide bool) (TransportParams, error) {
	peer, err := r.Peer(username)
	if err != nil {
		return TransportParams{}, err
	}
	transport, err := r.router.CreateTransport(ctx)
	if err != nil {
		return TransportParams{}, err
	}
	peer.setTransport(transport, producerSide)
	return transport.Params(), nil
}

// ConnectTransport completes the handshake on the matching directional
// transport. A missing transport is silently tolerated: duplicate or
// late connect events are reachable under normal reconnect races.
func (r *Room) ConnectTransport(ctx context.Context, username string, dtls DTLSParameters, producerSide bool) error {
	peer, err := r.Peer(username)
	if err != nil {
		return err
	}
	transport := peer.transport(producerSide)
	if transport == nil {
		return nil
	}
	return transport.Connect(ctx, dtls)
}

// CreateProducer starts the peer's outbound stream. Requires an
// existing send transport.
func (r *Room) CreateProducer(ctx context.Context, username string, opts ProducerOptions) (Producer, error) {
	peer, err := r.Peer(username)
	if err != nil {
		return nil, err
	}
	transport := peer.transport(true)
	if transport == nil {
		return nil, ErrNoSendTransport
	}
	producer, err := transport.Produce(ctx, opts)
	if err != nil {
		return nil, err
	}
	peer.setProducer(producer)
	return producer, nil
}

// ConsumablePeers returns every other peer that has an active producer
// the caller's capabilities can decode and that the caller is not
// already consuming.
func (r *Room) ConsumablePeers(username string, caps RTPCapabilities) []*Peer {
	r.mu.RLock()
	current := r.peers[username]
	candidates := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p != current {
			candidates = append(candidates, p)
		}
	}
	r.mu.RUnlock()

	out := make([]*Peer, 0, len(candidates))
	for _, p := range candidates {
		producer := p.Producer()
		if producer == nil {
			continue
		}
		if !r.router.CanConsume(producer.ID(), caps) {
			continue
		}
		if current != nil && current.consumesProducer(producer.ID()) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// CreateConsumers subscribes the caller to every consumable peer,
// creating one paused consumer per remote producer on the caller's
// receive transport.
func (r *Room) CreateConsumers(ctx context.Context, username string, caps RTPCapabilities) ([]PeerConsumer, error) {
	peer, err := r.Peer(username)
	if err != nil {
		return nil, err
	}
	transport := peer.transport(false)
	if transport == nil {
		return nil, ErrNoRecvTransport
	}

	var out []PeerConsumer
	for _, remote := range r.ConsumablePeers(username, caps) {
		producer := remote.Producer()
		if producer == nil {
			continue
		}
		consumer, err := transport.Consume(ctx, producer.ID(), caps)
		if err != nil {
			return out, err
		}
		peer.addConsumer(consumer)
		out = append(out, PeerConsumer{Peer: remote, Consumer: consumer})
	}
	return out, nil
}

// ToggleAllConsumers flips the peer-wide mute flag and cascades a
// pause-all or resume-all across the peer's consumers. Calls are
// awaited so a state query right after observes the final state; the
// first failure is returned after the cascade completes.
func (r *Room) ToggleAllConsumers(ctx context.Context, username string, muted bool) error {
	peer, err := r.Peer(username)
	if err != nil {
		return err
	}
	peer.setAllMuted(muted)

	var firstErr error
	for _, consumer := range peer.Consumers() {
		var err error
		if muted {
			err = consumer.Pause(ctx)
		} else {
			err = consumer.Resume(ctx)
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "media.room").Str("user", username).Str("consumer", consumer.ID()).Msg("toggle consumer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Room) CallMarker() *CallMarker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callMarker
}

func (r *Room) SetCallMarker(m *CallMarker) {
	r.mu.Lock()
	r.callMarker = m
	r.mu.Unlock()
}
