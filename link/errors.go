package link

import "errors"

var (
	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("session config is nil")

	// ErrSessionClosed indicates that the session has been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyOpened indicates an Open call on a session that was already
	// opened. A session covers exactly one connect/disconnect lifecycle;
	// create a new session to reconnect.
	ErrAlreadyOpened = errors.New("session already opened")

	// ErrNotConnected indicates a send attempt while the session is not in
	// the Connected state.
	ErrNotConnected = errors.New("session is not connected")

	// ErrInvalidFrameSize indicates a send attempt with a buffer that is not
	// exactly one control frame.
	ErrInvalidFrameSize = errors.New("invalid outbound frame size")

	// ErrInvalidTransition is returned when an attempt is made to transition
	// the connection state to an invalid state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
