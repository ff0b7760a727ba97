// Package media owns the in-memory voice-call state: capacity-bounded
// workers, per-channel rooms and per-participant peers. The underlying
// media relay engine is abstracted behind the interfaces below so the
// room/peer lifecycle can be driven (and tested) without touching the
// network; the pionengine sub-package provides the real implementation.
package media

import "context"

// MediaKind is the kind of a produced/consumed stream.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// CodecCapability describes one codec a router can route.
type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// RTPCapabilities is the set of codecs an endpoint (router or client)
// can handle. Consumption is only possible when the producer's codec is
// present on the consuming side.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// Supports reports whether caps contain a codec with the given mime type.
func (c RTPCapabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if codec.MimeType == mimeType {
			return true
		}
	}
	return false
}

// RTPParameters describe one concrete stream on a transport.
type RTPParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SSRC        uint32 `json:"ssrc"`
}

// ICECandidate is one local candidate advertised to the remote endpoint.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters complete a transport handshake. The remote ICE
// credentials ride along so the engine can start connectivity checks
// from a single connect call.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
	ICE          ICEParameters     `json:"iceParameters"`
}

// TransportParams are returned from transport creation and relayed to
// the remote endpoint so it can connect.
type TransportParams struct {
	ID            string          `json:"id"`
	ICEParameters ICEParameters   `json:"iceParameters"`
	ICECandidates []ICECandidate  `json:"iceCandidates"`
	DTLS          DTLSParameters  `json:"dtlsParameters"`
	Capabilities  RTPCapabilities `json:"-"`
}

// ProducerOptions describe the stream a peer is about to send.
type ProducerOptions struct {
	Kind          MediaKind     `json:"kind"`
	RTPParameters RTPParameters `json:"rtpParameters"`
}

// Engine is one instance of the media relay engine. A Worker owns
// exactly one Engine; an Engine outlives the rooms routed through it.
type Engine interface {
	CreateRouter(ctx context.Context) (Router, error)
	Close() error
}

// Router routes media between the transports of one room.
type Router interface {
	RTPCapabilities() RTPCapabilities
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether a consumer with the given capabilities
	// could decode the producer's stream.
	CanConsume(producerID string, caps RTPCapabilities) bool
	Close() error
}

// Transport is one negotiated unidirectional media path for one peer.
type Transport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, dtls DTLSParameters) error
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	Consume(ctx context.Context, producerID string, caps RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is a peer's outbound stream on its send transport.
type Producer interface {
	ID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Close() error
}

// Consumer is a peer's subscription to one remote producer, delivered
// over the peer's receive transport. Consumers start paused.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}
