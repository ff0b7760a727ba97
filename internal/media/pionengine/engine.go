// Package pionengine implements the media engine interfaces on top of
// pion/webrtc's ORTC API: one ICE/DTLS transport per direction per
// peer, RTP receivers as producers, RTP senders fed by per-producer
// relay loops as consumers.
package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Options configure the engine's network footprint.
type Options struct {
	// ListenIP is advertised in ICE candidates (NAT 1:1 mapping). Empty
	// keeps pion's interface discovery.
	ListenIP string
	// MinPort/MaxPort bound the ephemeral UDP range. Zero values leave
	// the range unrestricted.
	MinPort uint16
	MaxPort uint16
	// ICEServers are handed to gatherers, typically a STUN server.
	ICEServers []string
}

// Engine is one configured pion API instance. All routers created from
// it share the setting and media engines.
type Engine struct {
	api  *webrtc.API
	opts Options

	mu      sync.Mutex
	routers []*Router
	closed  bool
}

func defaultCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
			PayloadType: 96,
		},
	}
}

func New(opts Options) (*Engine, error) {
	se := webrtc.SettingEngine{}
	if opts.MinPort != 0 || opts.MaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(opts.MinPort, opts.MaxPort); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}
	if opts.ListenIP != "" {
		se.SetNAT1To1IPs([]string{opts.ListenIP}, webrtc.ICECandidateTypeHost)
	}

	me := &webrtc.MediaEngine{}
	for _, codec := range defaultCodecs() {
		kind := webrtc.RTPCodecTypeAudio
		if codec.MimeType == webrtc.MimeTypeVP8 {
			kind = webrtc.RTPCodecTypeVideo
		}
		if err := me.RegisterCodec(codec, kind); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", codec.MimeType, err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))
	log.Info().Str("module", "pionengine").Str("listen_ip", opts.ListenIP).Msg("engine created")
	return &Engine{api: api, opts: opts}, nil
}

// CreateRouter returns a new router sharing this engine's API instance.
func (e *Engine) CreateRouter(ctx context.Context) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	r := newRouter(e)
	e.routers = append(e.routers, r)
	return r, nil
}

// Close tears down every router still attached to the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	routers := e.routers
	e.routers = nil
	e.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

func (e *Engine) detach(r *Router) {
	e.mu.Lock()
	for i, have := range e.routers {
		if have == r {
			e.routers = append(e.routers[:i], e.routers[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// Router routes media between the transports of one room: it tracks
// live producers and runs one relay loop per producer fanning packets
// out to the consumers subscribed to it.
type Router struct {
	id     string
	engine *Engine
	caps   media.RTPCapabilities

	mu         sync.Mutex
	producers  map[string]*producer
	relays     map[string]*relay
	transports []*transport
	closed     bool
}

func newRouter(e *Engine) *Router {
	caps := media.RTPCapabilities{}
	for _, codec := range defaultCodecs() {
		caps.Codecs = append(caps.Codecs, media.CodecCapability{
			MimeType:  codec.MimeType,
			ClockRate: codec.ClockRate,
			Channels:  codec.Channels,
		})
	}
	return &Router{
		id:        uuid.NewString(),
		engine:    e,
		caps:      caps,
		producers: make(map[string]*producer),
		relays:    make(map[string]*relay),
	}
}

func (r *Router) RTPCapabilities() media.RTPCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context) (media.Transport, error) {
	t, err := newTransport(ctx, r)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

// CanConsume requires the producer to exist and its codec to be present
// in the consumer's capabilities.
func (r *Router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return caps.Supports(p.params.MimeType)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := r.transports
	relays := r.relays
	r.transports, r.producers = nil, map[string]*producer{}
	r.relays = map[string]*relay{}
	r.mu.Unlock()

	for _, rel := range relays {
		rel.stop()
	}
	for _, t := range transports {
		_ = t.Close()
	}
	r.engine.detach(r)
	log.Debug().Str("module", "pionengine").Str("router", r.id).Msg("router closed")
	return nil
}

func (r *Router) registerProducer(p *producer, rel *relay) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.relays[p.id] = rel
	r.mu.Unlock()
}

func (r *Router) dropProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	rel := r.relays[id]
	delete(r.relays, id)
	r.mu.Unlock()
	if rel != nil {
		rel.stop()
	}
}

func (r *Router) producerByID(id string) (*producer, *relay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	if !ok {
		return nil, nil, false
	}
	return p, r.relays[id], true
}

func (r *Router) dropTransport(t *transport) {
	r.mu.Lock()
	for i, have := range r.transports {
		if have == t {
			r.transports = append(r.transports[:i], r.transports[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}
