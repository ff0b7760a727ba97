package pionengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errTransportClosed = errors.New("transport closed")

// transport is one ICE+DTLS pair built through pion's ORTC API. The
// server side is always the ICE controlled / DTLS server role, matching
// a browser client that initiates.
type transport struct {
	id     string
	router *Router

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   media.TransportParams

	mu        sync.Mutex
	producers []*producer
	consumers []*consumer
	closed    bool
}

func newTransport(ctx context.Context, r *Router) (*transport, error) {
	api := r.engine.api
	var servers []webrtc.ICEServer
	for _, url := range r.engine.opts.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := &transport{
		id:       uuid.NewString(),
		router:   r,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.params = media.TransportParams{
		ID: t.id,
		ICEParameters: media.ICEParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
		},
		ICECandidates: convertCandidates(candidates),
		DTLS:          convertDTLS(dtlsParams),
		Capabilities:  r.caps,
	}
	return t, nil
}

func convertCandidates(in []webrtc.ICECandidate) []media.ICECandidate {
	out := make([]media.ICECandidate, 0, len(in))
	for _, c := range in {
		out = append(out, media.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return out
}

func convertDTLS(in webrtc.DTLSParameters) media.DTLSParameters {
	out := media.DTLSParameters{Role: in.Role.String()}
	for _, f := range in.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, media.DTLSFingerprint{
			Algorithm: f.Algorithm,
			Value:     f.Value,
		})
	}
	return out
}

func (t *transport) ID() string                    { return t.id }
func (t *transport) Params() media.TransportParams { return t.params }

// Connect starts ICE with the remote credentials, then DTLS with the
// remote fingerprints. The remote is the controlling/client side.
func (t *transport) Connect(ctx context.Context, dtls media.DTLSParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	t.mu.Unlock()

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, webrtc.ICEParameters{
		UsernameFragment: dtls.ICE.UsernameFragment,
		Password:         dtls.ICE.Password,
	}, &role); err != nil {
		return fmt.Errorf("start ice: %w", err)
	}

	remote := webrtc.DTLSParameters{Role: webrtc.DTLSRoleClient}
	for _, f := range dtls.Fingerprints {
		remote.Fingerprints = append(remote.Fingerprints, webrtc.DTLSFingerprint{
			Algorithm: f.Algorithm,
			Value:     f.Value,
		})
	}
	if err := t.dtls.Start(remote); err != nil {
		return fmt.Errorf("start dtls: %w", err)
	}
	log.Debug().Str("module", "pionengine").Str("transport", t.id).Msg("transport connected")
	return nil
}

// Produce attaches an RTP receiver for the announced stream and starts
// the relay loop reading it.
func (t *transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errTransportClosed
	}
	t.mu.Unlock()

	kind := webrtc.RTPCodecTypeAudio
	if opts.Kind == media.KindVideo {
		kind = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.router.engine.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(opts.RTPParameters.SSRC),
				PayloadType: webrtc.PayloadType(opts.RTPParameters.PayloadType),
			},
		}},
	}); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	p := &producer{
		id:       uuid.NewString(),
		kind:     opts.Kind,
		params:   opts.RTPParameters,
		receiver: receiver,
		router:   t.router,
	}
	rel := newRelay(receiver.Track())
	t.router.registerProducer(p, rel)
	go rel.loop()

	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	log.Info().Str("module", "pionengine").Str("producer", p.id).Str("kind", string(opts.Kind)).Msg("producer created")
	return p, nil
}

// Consume builds an out-track fed by the producer's relay and an RTP
// sender carrying it over this transport. The consumer starts paused.
func (t *transport) Consume(ctx context.Context, producerID string, caps media.RTPCapabilities) (media.Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errTransportClosed
	}
	t.mu.Unlock()

	p, rel, ok := t.router.producerByID(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}
	if !caps.Supports(p.params.MimeType) {
		return nil, fmt.Errorf("capabilities cannot consume %s", p.params.MimeType)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  p.params.MimeType,
		ClockRate: p.params.ClockRate,
		Channels:  p.params.Channels,
	}, id, "parley")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.router.engine.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	c := &consumer{
		id:         id,
		producerID: producerID,
		kind:       p.kind,
		params:     p.params,
		sender:     sender,
		relay:      rel,
	}
	c.out = newOutTrack(track)
	c.out.setState(trackMuted)
	rel.addOutTrack(id, c.out)

	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	log.Info().Str("module", "pionengine").Str("consumer", id).Str("producer", producerID).Msg("consumer created")
	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	err := t.dtls.Stop()
	if stopErr := t.ice.Stop(); err == nil {
		err = stopErr
	}
	t.router.dropTransport(t)
	return err
}

// producer wraps one RTP receiver.
type producer struct {
	id       string
	kind     media.MediaKind
	params   media.RTPParameters
	receiver *webrtc.RTPReceiver
	router   *Router

	closed atomic.Bool
}

func (p *producer) ID() string                         { return p.id }
func (p *producer) Kind() media.MediaKind              { return p.kind }
func (p *producer) RTPParameters() media.RTPParameters { return p.params }

func (p *producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.router.dropProducer(p.id)
	return p.receiver.Stop()
}

// consumer wraps one RTP sender fed by a relay out-track. Pause and
// resume only flip the out-track state; the sender stays negotiated.
type consumer struct {
	id         string
	producerID string
	kind       media.MediaKind
	params     media.RTPParameters
	sender     *webrtc.RTPSender
	relay      *relay
	out        *outTrack

	closed atomic.Bool
}

func (c *consumer) ID() string                         { return c.id }
func (c *consumer) ProducerID() string                 { return c.producerID }
func (c *consumer) Kind() media.MediaKind              { return c.kind }
func (c *consumer) RTPParameters() media.RTPParameters { return c.params }

func (c *consumer) Paused() bool {
	return c.out.state() != trackOk
}

func (c *consumer) Pause(ctx context.Context) error {
	if c.closed.Load() {
		return errTransportClosed
	}
	c.out.setState(trackMuted)
	return nil
}

func (c *consumer) Resume(ctx context.Context) error {
	if c.closed.Load() {
		return errTransportClosed
	}
	c.out.setState(trackOk)
	return nil
}

func (c *consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.out.setState(trackDelete)
	c.relay.removeOutTrack(c.id)
	return c.sender.Stop()
}
