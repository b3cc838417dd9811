package server

import "errors"

// ErrAlreadyOpen names a second StreamOpen on one connection. No function
// in this package returns it: a connWorker that is already streaming
// ignores a repeated StreamOpen.
var ErrAlreadyOpen = errors.New("server: stream already open on this connection")

// ErrEventQueueFull is returned by connWorker.SendEvent when a
// registered event consumer isn't draining its outbound queue fast
// enough; the event is dropped rather than stalling the dispatcher.
var ErrEventQueueFull = errors.New("server: event queue full, event dropped")
