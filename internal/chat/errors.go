package chat

import "errors"

// Validation failures are rejected before any network action and never
// retried. Transport and request failures surface as UI-visible states and
// are never thrown past the coordinator.
var (
	ErrEmptyMessage    = errors.New("message body is empty")
	ErrNoRoomSelected  = errors.New("no room selected")
	ErrRoomNotJoined   = errors.New("room is not joined")
	ErrRateLimited     = errors.New("sending too fast")
	ErrNotConnected    = errors.New("socket is not connected")
	ErrUnauthenticated = errors.New("credential rejected")
)
