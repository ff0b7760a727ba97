package domain

type (
	ChannelID int64
	ServerID  int64
)

// ChannelType distinguishes the two socket group namespaces a channel id
// can address: its text room and its voice room.
type ChannelType string

const (
	ChannelText  ChannelType = "Text"
	ChannelVoice ChannelType = "Voice"
)

type Server struct {
	ID ServerID `json:"id"`
	// IsGlobal marks the designated default server; voice-call system
	// messages are only written for its channels.
	IsGlobal bool `json:"isGlobalServer"`
}

type Channel struct {
	ID       ChannelID   `json:"id"`
	ServerID ServerID    `json:"serverId"`
	Type     ChannelType `json:"type"`
	Name     string      `json:"name"`
	Server   Server      `json:"server"`
}
