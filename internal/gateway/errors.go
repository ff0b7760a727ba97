package gateway

import "errors"

// ErrRoomNotFound is returned by handlers that assume a prior join
// already created the room; hitting it means the caller raced a
// join/leave or sent a malformed request.
var ErrRoomNotFound = errors.New("no room exists for this channel")

// ErrorReply is the signaling-layer error payload scoped to one failing
// call; domain errors never tear the connection down.
type ErrorReply struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
