package media

import "errors"

var (
	// ErrPeerNotFound is returned when a handler assumes a peer that a
	// prior join should have registered. Caller bug, not retryable.
	ErrPeerNotFound = errors.New("no peer with this username in this room")

	// ErrNoSendTransport rejects producing before createTransport.
	ErrNoSendTransport = errors.New("create a send transport before producing")

	// ErrNoRecvTransport rejects consuming before createTransport.
	ErrNoRecvTransport = errors.New("create a receive transport before consuming")

	// ErrRoomNotEmpty means Destroy was called with peers still present,
	// which is a programming error in the caller.
	ErrRoomNotEmpty = errors.New("room must have no peers before it can be destroyed")
)
