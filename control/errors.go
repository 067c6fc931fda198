package control

import "errors"

var (
	// ErrCommandSlotReserved indicates a generic parameter write to the
	// command register slot, which only the command engine may touch.
	ErrCommandSlotReserved = errors.New("command slot is reserved for the command engine")

	// ErrNotConnected indicates an operation that requires a live, connected
	// transport session.
	ErrNotConnected = errors.New("no connected session")

	// ErrSendFailureOverflow indicates that the consecutive send failure
	// threshold was crossed and the session was surfaced as lost.
	ErrSendFailureOverflow = errors.New("consecutive send failures exceeded threshold")

	// ErrEngineClosed indicates that the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")
)
