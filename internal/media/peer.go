package media

import (
	"sync"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is one participant's per-room state: identity, the two
// directional transports, the outbound producer, the inbound consumers
// and the "everything muted" flag. A Peer is owned exclusively by the
// Room that created it.
type Peer struct {
	user     domain.User
	socketID string

	mu            sync.Mutex
	sendTransport Transport
	recvTransport Transport
	producer      Producer
	consumers     []Consumer
	allMuted      bool
	stopped       bool
}

func NewPeer(socketID string, user domain.User) *Peer {
	return &Peer{user: user, socketID: socketID}
}

func (p *Peer) User() domain.User { return p.user }
func (p *Peer) Username() string  { return p.user.Username }
func (p *Peer) SocketID() string  { return p.socketID }

// setTransport replaces the transport of the given direction, closing
// any previous one. Create is idempotent by replacement, not additive.
func (p *Peer) setTransport(t Transport, producerSide bool) {
	p.mu.Lock()
	var old Transport
	if producerSide {
		old, p.sendTransport = p.sendTransport, t
	} else {
		old, p.recvTransport = p.recvTransport, t
	}
	p.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media.peer").Str("user", p.user.Username).Msg("closing replaced transport")
		}
	}
}

func (p *Peer) transport(producerSide bool) Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if producerSide {
		return p.sendTransport
	}
	return p.recvTransport
}

func (p *Peer) setProducer(pr Producer) {
	p.mu.Lock()
	p.producer = pr
	p.mu.Unlock()
}

// Producer returns the peer's active outbound stream, or nil.
func (p *Peer) Producer() Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producer
}

func (p *Peer) addConsumer(c Consumer) {
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
}

// Consumers returns a snapshot of the peer's inbound subscriptions.
func (p *Peer) Consumers() []Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Consumer, len(p.consumers))
	copy(out, p.consumers)
	return out
}

// Consumer finds one of the peer's consumers by id.
func (p *Peer) Consumer(id string) (Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.consumers {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// consumesProducer reports whether the peer already subscribed to the
// given remote producer.
func (p *Peer) consumesProducer(producerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.consumers {
		if c.ProducerID() == producerID {
			return true
		}
	}
	return false
}

func (p *Peer) setAllMuted(muted bool) {
	p.mu.Lock()
	p.allMuted = muted
	p.mu.Unlock()
}

// EveryConsumerMuted reports the peer-wide mute flag set by
// toggleAllConsumers.
func (p *Peer) EveryConsumerMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allMuted
}

// Stop closes every transport, producer and consumer the peer holds.
// Safe to call more than once.
func (p *Peer) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	send, recv, producer := p.sendTransport, p.recvTransport, p.producer
	consumers := p.consumers
	p.sendTransport, p.recvTransport, p.producer, p.consumers = nil, nil, nil, nil
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	if producer != nil {
		_ = producer.Close()
	}
	if send != nil {
		_ = send.Close()
	}
	if recv != nil {
		_ = recv.Close()
	}
	log.Debug().Str("module", "media.peer").Str("user", p.user.Username).Msg("peer stopped")
}
