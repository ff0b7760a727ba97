// Package mediatest provides an in-memory media.Engine for tests, so
// room/peer/worker lifecycle can be exercised without opening sockets.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/parley-chat/parley/internal/media"
)

var ids atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, ids.Add(1))
}

// DefaultCaps is the capability set fake routers advertise.
var DefaultCaps = media.RTPCapabilities{Codecs: []media.CodecCapability{
	{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{MimeType: "video/VP8", ClockRate: 90000},
}}

type Engine struct {
	mu      sync.Mutex
	Routers []*Router
	closed  bool
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreateRouter(ctx context.Context) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Router{engine: e, producers: make(map[string]media.MediaKind)}
	e.Routers = append(e.Routers, r)
	return r, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

type Router struct {
	engine *Engine

	mu        sync.Mutex
	producers map[string]media.MediaKind
	Closed    bool
}

func (r *Router) RTPCapabilities() media.RTPCapabilities { return DefaultCaps }

func (r *Router) CreateTransport(ctx context.Context) (media.Transport, error) {
	return &Transport{router: r, id: nextID("transport")}, nil
}

func (r *Router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	kind, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	mime := "audio/opus"
	if kind == media.KindVideo {
		mime = "video/VP8"
	}
	return caps.Supports(mime)
}

func (r *Router) Close() error {
	r.mu.Lock()
	r.Closed = true
	r.mu.Unlock()
	return nil
}

func (r *Router) registerProducer(id string, kind media.MediaKind) {
	r.mu.Lock()
	r.producers[id] = kind
	r.mu.Unlock()
}

type Transport struct {
	router *Router
	id     string

	mu        sync.Mutex
	Connected bool
	Closed    bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() media.TransportParams {
	return media.TransportParams{
		ID:            t.id,
		ICEParameters: media.ICEParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id},
		ICECandidates: []media.ICECandidate{{Foundation: "1", Address: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
		DTLS:          media.DTLSParameters{Role: "auto", Fingerprints: []media.DTLSFingerprint{{Algorithm: "sha-256", Value: t.id}}},
	}
}

func (t *Transport) Connect(ctx context.Context, dtls media.DTLSParameters) error {
	t.mu.Lock()
	t.Connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	p := &Producer{id: nextID("producer"), kind: opts.Kind, params: opts.RTPParameters}
	t.router.registerProducer(p.id, p.kind)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps media.RTPCapabilities) (media.Consumer, error) {
	t.router.mu.Lock()
	kind := t.router.producers[producerID]
	t.router.mu.Unlock()
	return &Consumer{id: nextID("consumer"), producerID: producerID, kind: kind, paused: true}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.Closed = true
	t.mu.Unlock()
	return nil
}

type Producer struct {
	id     string
	kind   media.MediaKind
	params media.RTPParameters
	closed atomic.Bool
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() media.RTPParameters { return p.params }
func (p *Producer) Close() error                       { p.closed.Store(true); return nil }
func (p *Producer) IsClosed() bool                     { return p.closed.Load() }

type Consumer struct {
	id         string
	producerID string
	kind       media.MediaKind

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producerID }
func (c *Consumer) Kind() media.MediaKind              { return c.kind }
func (c *Consumer) RTPParameters() media.RTPParameters { return media.RTPParameters{} }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
