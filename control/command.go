package control

import (
	"sync"

	"github.com/hutaofa/plclink/logger"
	"github.com/hutaofa/plclink/protocol"
)

// CommandState represents the stage of the command/acknowledgment handshake.
type CommandState uint8

const (
	// CommandIdle indicates no pending command; the command register is
	// either 0 or holds a retained sticky command.
	CommandIdle CommandState = iota
	// CommandPending indicates an issued command awaiting the controller's
	// echo. Conflicting controls are locked while pending.
	CommandPending
	// CommandAcknowledged indicates the echo was observed and the request is
	// being resolved. It is visible only to resolution handlers; the engine
	// settles back to CommandIdle before the next status frame.
	CommandAcknowledged
)

// String returns string representation of the command state.
func (cs CommandState) String() string {
	switch cs {
	case CommandIdle:
		return "idle"
	case CommandPending:
		return "pending"
	case CommandAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// CommandRequest describes one operator command.
//
// Sticky commands (continuous axis jogs) remain logically active after
// acknowledgment until explicitly superseded or stopped; one-shot commands
// (start/stop/e-stop presses) self-clear once acknowledged. Stickiness is
// configuration supplied by the caller, never inferred from the id.
type CommandRequest struct {
	ID     uint16
	Label  string
	Sticky bool
}

// CommandHandler is invoked with the affected request when a command is
// issued or resolved. Handlers run outside the engine's lock.
type CommandHandler func(req CommandRequest)

// CommandEngine correlates operator-issued command ids with the echoed
// command id in inbound status frames.
//
// At most one request is pending at a time: issuing while pending replaces
// the pending request outright, and the superseded request is discarded
// without resolution. Snapshots whose echo does not match the pending id
// produce no transition.
type CommandEngine struct {
	mu         sync.Mutex
	store      *ParameterStore
	logger     logger.Logger
	state      CommandState
	pending    CommandRequest
	active     CommandRequest
	hasActive  bool
	onIssued   CommandHandler
	onResolved CommandHandler
}

// NewCommandEngine creates a CommandEngine writing its command register into
// the given store.
func NewCommandEngine(store *ParameterStore, l logger.Logger) *CommandEngine {
	if l == nil {
		l = logger.GetLogger()
	}
	return &CommandEngine{store: store, logger: l}
}

// SetHandlers registers the issue and resolution handlers. Either may be nil.
func (ce *CommandEngine) SetHandlers(onIssued, onResolved CommandHandler) {
	ce.mu.Lock()
	ce.onIssued = onIssued
	ce.onResolved = onResolved
	ce.mu.Unlock()
}

// Issue transitions the engine to Pending for the given request and writes
// the request id into the command register. Any previously pending request
// is replaced outright.
func (ce *CommandEngine) Issue(req CommandRequest) {
	ce.mu.Lock()
	if ce.state == CommandPending {
		ce.logger.Debug("superseding pending command",
			"old_id", ce.pending.ID, "new_id", req.ID, "label", req.Label,
		)
	}
	ce.state = CommandPending
	ce.pending = req
	ce.store.setCommand(req.ID)
	handler := ce.onIssued
	ce.mu.Unlock()

	ce.logger.Debug("command issued", "id", req.ID, "label", req.Label, "sticky", req.Sticky)

	if handler != nil {
		handler(req)
	}
}

// ObserveStatus evaluates one inbound status snapshot against the pending
// request. A matching echo resolves the request: one-shot commands reset the
// command register to 0 and return to Idle; sticky commands keep the register
// and stay marked active until a later command supersedes them.
func (ce *CommandEngine) ObserveStatus(snap protocol.StatusSnapshot) {
	ce.mu.Lock()

	if ce.state != CommandPending || snap.Echo() != ce.pending.ID {
		ce.mu.Unlock()
		return
	}

	req := ce.pending
	ce.state = CommandAcknowledged

	if req.Sticky {
		ce.active = req
		ce.hasActive = true
	} else {
		ce.store.setCommand(0)
		ce.hasActive = false
	}

	ce.state = CommandIdle
	ce.pending = CommandRequest{}
	handler := ce.onResolved
	ce.mu.Unlock()

	ce.logger.Debug("command acknowledged", "id", req.ID, "label", req.Label, "sticky", req.Sticky)

	if handler != nil {
		handler(req)
	}
}

// State returns the current handshake state.
func (ce *CommandEngine) State() CommandState {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.state
}

// Pending returns the currently pending request, if any.
func (ce *CommandEngine) Pending() (CommandRequest, bool) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.pending, ce.state == CommandPending
}

// ActiveSticky returns the retained sticky command, if one is active.
func (ce *CommandEngine) ActiveSticky() (CommandRequest, bool) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.active, ce.hasActive
}

// ControlsLocked reports whether conflicting controls should be disabled:
// true exactly while a request is pending.
func (ce *CommandEngine) ControlsLocked() bool {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.state == CommandPending
}

// Reset discards any pending and active command and zeroes the command
// register. Used when a session is torn down.
func (ce *CommandEngine) Reset() {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	ce.state = CommandIdle
	ce.pending = CommandRequest{}
	ce.active = CommandRequest{}
	ce.hasActive = false
	ce.store.setCommand(0)
}
