package http

import (
	"github.com/parley-chat/parley/internal/gateway"
)

// RoomView is one live voice room as exposed by the introspection API.
type RoomView struct {
	ChannelID int64    `json:"channelId"`
	Members   []string `json:"members"`
}

// WorkerView is one media worker with its current room load.
type WorkerView struct {
	ID    string `json:"id"`
	Rooms int    `json:"rooms"`
}

func voiceRoomsView(gw *gateway.Gateway) []RoomView {
	out := []RoomView{}
	for _, id := range gw.Registry().ChannelIDs() {
		members := gw.Registry().Usernames(id)
		if members == nil {
			members = []string{}
		}
		out = append(out, RoomView{ChannelID: int64(id), Members: members})
	}
	return out
}

func workersView(gw *gateway.Gateway) []WorkerView {
	out := []WorkerView{}
	for _, w := range gw.Registry().Workers() {
		out = append(out, WorkerView{ID: w.ID(), Rooms: w.RoomsCount()})
	}
	return out
}
