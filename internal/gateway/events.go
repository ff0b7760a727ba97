package gateway

import (
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/media"
)

// Inbound event names.
const (
	EvtJoinVoiceChannel    = "joinVoiceChannel"
	EvtLeaveVoiceChannel   = "leaveVoiceChannel"
	EvtCreateTransport     = "createTransport"
	EvtConnectTransport    = "connectTransport"
	EvtProduce             = "produce"
	EvtConsume             = "consume"
	EvtChangeProducerState = "changeProducerState"
	EvtChangeConsumerState = "changeConsumerState"
	EvtResumeConsumer      = "resumeConsumer"
	EvtToggleAllConsumers  = "toggleAllConsumers"
	EvtJoinChannel         = "join"
	EvtJoinServer          = "joinServer"
	EvtJoinPrivateRoom     = "joinPrivateRoom"
	EvtTyping              = "typing"
	EvtStatus              = "status"
	EvtPing                = "ping"
)

// Outbound event names.
const (
	EvtCreateProduceTransport = "createProduceTransport"
	EvtCreateConsumeTransport = "createConsumeTransport"
	EvtTransportConnected     = "transportConnected"
	EvtNewProducer            = "newProducer"
	EvtConnected              = "connected"
	EvtRTPCapabilities        = "getRtpCapabilities"
	EvtMembers                = "members"
	EvtUserJoinedVoice        = "userJoinedVoiceChannel"
	EvtUserLeftVoice          = "userLeftVoiceChannel"
	EvtUserJoinedServer       = "userJoinedServer"
	EvtDisconnected           = "disconnected"
	EvtRejoin                 = "rejoin"
	EvtMessage                = "message"
	EvtPong                   = "pong"
	EvtError                  = "error"
)

type ChannelPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type ServerPayload struct {
	ServerID domain.ServerID `json:"serverId"`
}

type CreateTransportPayload struct {
	ChannelID  domain.ChannelID `json:"channelId"`
	IsProducer bool             `json:"isProducer"`
}

type ConnectTransportPayload struct {
	ChannelID      domain.ChannelID     `json:"channelId"`
	DTLSParameters media.DTLSParameters `json:"dtlsParameters"`
	IsProducer     bool                 `json:"isProducer"`
}

type ProducePayload struct {
	ChannelID       domain.ChannelID      `json:"channelId"`
	ProducerOptions media.ProducerOptions `json:"producerOptions"`
}

type ConsumePayload struct {
	ChannelID       domain.ChannelID      `json:"channelId"`
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

type ProducerStatePayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Paused    bool             `json:"paused"`
}

type ConsumerStatePayload struct {
	ChannelID  domain.ChannelID `json:"channelId"`
	ConsumerID string           `json:"consumerId"`
	Paused     bool             `json:"paused"`
}

type ResumeConsumerPayload struct {
	ChannelID  domain.ChannelID `json:"channelId"`
	ConsumerID string           `json:"consumerId"`
}

type ToggleAllConsumersPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Muted     bool             `json:"muted"`
}

type TypingPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Username  string           `json:"username"`
	Status    string           `json:"status"` // "typing" | "stopped"
}

type StatusPayload struct {
	Status   domain.Status   `json:"status"`
	ServerID domain.ServerID `json:"serverId,omitempty"`
}

// TransportCreatedReply carries the connection parameters the remote
// endpoint needs.
type TransportCreatedReply struct {
	Params media.TransportParams `json:"params"`
}

// ConsumeReply is sent once per freshly created consumer.
type ConsumeReply struct {
	ProducerID     string              `json:"producerId"`
	ID             string              `json:"id"`
	Kind           media.MediaKind     `json:"kind"`
	RTPParameters  media.RTPParameters `json:"rtpParameters"`
	User           domain.User         `json:"user"`
	ResumeConsumer bool                `json:"resumeConsumer"`
}

type MembersReply struct {
	ChannelID domain.ChannelID    `json:"channelId"`
	Members   []domain.MemberInfo `json:"members"`
}

type CapabilitiesReply struct {
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
	Channel         *domain.Channel       `json:"channel"`
}

type JoinedServerReply struct {
	VoiceChannelMembers map[domain.ChannelID][]domain.MemberInfo `json:"voiceChannelMembers"`
}

// RejoinReply replays a live voice session to a freshly reconnected
// socket so the client can re-issue joinVoiceChannel.
type RejoinReply struct {
	ChannelID domain.ChannelID `json:"channelId"`
	ServerID  domain.ServerID  `json:"serverId"`
}
