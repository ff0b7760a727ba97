package hub

import (
	"fmt"

	"github.com/parley-chat/parley/internal/domain"
)

// Group name helpers. Every channel id addresses two distinct groups
// (its text room and its voice room); each user additionally has a
// private group delivering events to exactly their connected sockets.

func TextChannelRoom(id domain.ChannelID) string {
	return fmt.Sprintf("channel/%s/%d", domain.ChannelText, id)
}

func VoiceChannelRoom(id domain.ChannelID) string {
	return fmt.Sprintf("channel/%s/%d", domain.ChannelVoice, id)
}

func ServerRoom(id domain.ServerID) string {
	return fmt.Sprintf("server/%d", id)
}

func PrivateRoom(username string) string {
	return fmt.Sprintf("private/%s", username)
}
