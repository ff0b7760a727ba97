package domain

import "time"

// MessageType mirrors the subset of message kinds the gateway emits itself.
type MessageType string

const (
	MessageDefault   MessageType = "Default"
	MessageVoiceCall MessageType = "VoiceCallEnded"
)

// Message is a persisted channel message. The gateway only ever creates
// system messages (call started / call duration); regular messages are
// written elsewhere and merely broadcast.
type Message struct {
	ID              int64       `json:"id"`
	ChannelID       ChannelID   `json:"channelId"`
	Author          MemberInfo  `json:"member"`
	Content         string      `json:"message"`
	Type            MessageType `json:"type"`
	IsSystemMessage bool        `json:"isSystemMessage"`
	CreatedAt       time.Time   `json:"createdAt"`
}
