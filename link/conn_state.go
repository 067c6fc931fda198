package link

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hutaofa/plclink/logger"
)

// ConnState represents the stages of a transport session's lifecycle.
type ConnState uint32

// Transport session states. A session always starts Disconnected, passes
// through Connecting, and ends in Disconnected (local close) or Faulted
// (remote close or I/O error).
const (
	// DisconnectedState indicates no live socket. This is both the initial
	// state and the terminal state of a local disconnect.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that the socket is being established.
	ConnectingState
	// ConnectedState indicates that the socket is live and frames may flow.
	ConnectedState
	// FaultedState indicates that the session was torn down by a remote
	// close or an I/O error. The fault cause is retained by the StateMgr.
	FaultedState
)

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnecting returns if the current state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsFaulted returns if the current state is faulted.
func (cs ConnState) IsFaulted() bool { return cs == FaultedState }

// IsDown returns if the session is in either terminal state.
func (cs ConnState) IsDown() bool { return cs == DisconnectedState || cs == FaultedState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case FaultedState:
		return "faulted"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked when the state of a transport session
// changes. cause is non-nil only for transitions into FaultedState.
//
// Note: handlers are invoked in blocking mode under the state manager's
// lock. Take care with long-running implementations.
type StateChangeHandler func(prevState ConnState, newState ConnState, cause error)

type stateChange struct {
	state ConnState
	cause error
}

// StateMgr manages the connection state of a transport session.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. State transitions are safe for concurrent use.
type StateMgr struct {
	mu       sync.Mutex
	ctx      context.Context
	cond     *sync.Cond
	state    atomic.Uint32
	cause    atomic.Pointer[error]
	logger   logger.Logger
	async    chan stateChange
	handlers []StateChangeHandler
}

// NewStateMgr creates a new StateMgr initialized to DisconnectedState.
//
// It accepts optional StateChangeHandler functions invoked on every state
// change.
func NewStateMgr(ctx context.Context, l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	mgr := &StateMgr{
		ctx:      ctx,
		logger:   l,
		async:    make(chan stateChange, 10),
		handlers: make([]StateChangeHandler, 0, len(handlers)),
	}
	mgr.handlers = append(mgr.handlers, handlers...)

	if mgr.logger == nil {
		mgr.logger = logger.GetLogger()
	}

	mgr.state.Store(uint32(DisconnectedState))
	mgr.cond = sync.NewCond(&mgr.mu)

	go mgr.asyncStateChangeTask()

	return mgr
}

// State returns the current connection state.
func (mgr *StateMgr) State() ConnState {
	return ConnState(mgr.state.Load())
}

// Cause returns the error that drove the last transition into FaultedState,
// or nil if the session never faulted.
func (mgr *StateMgr) Cause() error {
	if p := mgr.cause.Load(); p != nil {
		return *p
	}
	return nil
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on
// state changes.
func (mgr *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or an error if the context is canceled or times out.
func (mgr *StateMgr) WaitState(ctx context.Context, state ConnState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// ToConnecting transitions the state to ConnectingState.
//
// This transition is only allowed from DisconnectedState or FaultedState.
// If the state is already ConnectingState, the function is a no-op.
func (mgr *StateMgr) ToConnecting() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState.IsConnecting() {
		return nil
	}
	if !curState.IsDown() {
		return ErrInvalidTransition
	}

	mgr.setState(ConnectingState)
	mgr.invokeHandlers(curState, ConnectingState, nil)

	return nil
}

// ToConnected transitions the state to ConnectedState.
//
// This transition is only allowed from ConnectingState.
func (mgr *StateMgr) ToConnected() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState.IsConnected() {
		return nil
	}
	if !curState.IsConnecting() {
		return ErrInvalidTransition
	}

	mgr.setState(ConnectedState)
	mgr.invokeHandlers(curState, ConnectedState, nil)

	return nil
}

// ToDisconnected transitions the state to DisconnectedState.
// This transition is allowed from any state and represents a local,
// deliberate disconnect or a reset of the session.
func (mgr *StateMgr) ToDisconnected() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState.IsDisconnected() {
		return
	}

	// change state BEFORE handlers run so late observers see it down
	mgr.setState(DisconnectedState)
	mgr.invokeHandlers(curState, DisconnectedState, nil)
}

// ToFaulted transitions the state to FaultedState with the given cause.
//
// This transition is only allowed from ConnectingState or ConnectedState; a
// session that is already down stays in its terminal state.
func (mgr *StateMgr) ToFaulted(cause error) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState.IsDown() {
		return ErrInvalidTransition
	}

	if cause != nil {
		mgr.cause.Store(&cause)
	}

	mgr.setState(FaultedState)
	mgr.invokeHandlers(curState, FaultedState, cause)

	return nil
}

// ToDisconnectedAsync transitions to DisconnectedState asynchronously via
// the state manager's background goroutine.
func (mgr *StateMgr) ToDisconnectedAsync() {
	mgr.changeStateAsync(DisconnectedState, nil)
}

// ToFaultedAsync transitions to FaultedState asynchronously via the state
// manager's background goroutine.
func (mgr *StateMgr) ToFaultedAsync(cause error) {
	mgr.changeStateAsync(FaultedState, cause)
}

// setState atomically sets the current state and broadcasts a signal to any
// waiting goroutines.
func (mgr *StateMgr) setState(newState ConnState) {
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()
}

// invokeHandlers invokes all registered handlers with the previous and new states.
func (mgr *StateMgr) invokeHandlers(prevState, newState ConnState, cause error) {
	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(prevState, newState, cause)
		}
	}
}

func (mgr *StateMgr) changeStateAsync(state ConnState, cause error) {
	if mgr.State() == state {
		return
	}

	select {
	case mgr.async <- stateChange{state: state, cause: cause}:
	case <-mgr.ctx.Done():
	}
}

// asyncStateChangeTask handles state changing in the background.
func (mgr *StateMgr) asyncStateChangeTask() {
	for {
		select {
		case <-mgr.ctx.Done():
			return

		case change := <-mgr.async:
			prevState := mgr.State()
			if change.state == prevState {
				continue
			}

			var err error
			switch change.state {
			case DisconnectedState:
				mgr.ToDisconnected()
			case FaultedState:
				err = mgr.ToFaulted(change.cause)
			case ConnectingState:
				err = mgr.ToConnecting()
			case ConnectedState:
				err = mgr.ToConnected()
			}

			if err != nil {
				mgr.logger.Debug("async state change rejected",
					"prevState", prevState, "desiredState", change.state, "error", err,
				)
			}
		}
	}
}
