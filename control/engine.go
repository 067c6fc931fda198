package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hutaofa/plclink/internal/ring"
	"github.com/hutaofa/plclink/internal/task"
	"github.com/hutaofa/plclink/link"
	"github.com/hutaofa/plclink/logger"
	"github.com/hutaofa/plclink/protocol"
)

// StatusHandler receives every decoded status snapshot, in arrival order.
// Handlers run on the receive pump goroutine and must return promptly; they
// must not call Connect, Disconnect or Close.
type StatusHandler func(snap protocol.StatusSnapshot)

// ConnStateHandler receives connection state transitions of the active
// session. Handlers run on the session's transition path and must not block.
type ConnStateHandler func(prev, next link.ConnState, cause error)

// Engine ties together the parameter store, the command/acknowledgment
// machine, the transmit scheduler and a transport session. It is the
// top-level entry point of the package.
//
// An Engine outlives its sessions: Connect may be called repeatedly with
// different transport configs, and switching transports tears down the
// previous session first so at most one link is ever active.
type Engine struct {
	pctx    context.Context
	cfg     *Config
	logger  logger.Logger
	store   *ParameterStore
	cmd     *CommandEngine
	recent  *ring.Ring[protocol.StatusSnapshot]
	decoder protocol.StatusDecoder

	mutex    sync.Mutex
	sess     link.Session
	taskMgr  *task.Manager
	connCtx  context.Context
	connStop context.CancelFunc

	closed atomic.Bool

	subID        atomic.Uint64
	statusSubs   *xsync.MapOf[uint64, StatusHandler]
	stateSubs    *xsync.MapOf[uint64, ConnStateHandler]
	issuedSubs   *xsync.MapOf[uint64, CommandHandler]
	resolvedSubs *xsync.MapOf[uint64, CommandHandler]
}

// NewEngine creates an Engine in the disconnected state.
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	store := NewParameterStore()

	e := &Engine{
		pctx:         ctx,
		cfg:          cfg,
		logger:       cfg.logger,
		store:        store,
		cmd:          NewCommandEngine(store, cfg.logger),
		recent:       ring.New[protocol.StatusSnapshot](cfg.recentDepth),
		decoder:      protocol.StatusDecoder{BitOrder: cfg.bitOrder},
		statusSubs:   xsync.NewMapOf[uint64, StatusHandler](),
		stateSubs:    xsync.NewMapOf[uint64, ConnStateHandler](),
		issuedSubs:   xsync.NewMapOf[uint64, CommandHandler](),
		resolvedSubs: xsync.NewMapOf[uint64, CommandHandler](),
	}

	e.cmd.SetHandlers(e.notifyIssued, e.notifyResolved)

	return e, nil
}

// Connect establishes a session using the given transport config and starts
// the receive pump and the transmit scheduler. If a session is already
// active it is torn down first, so Connect doubles as a transport switch.
func (e *Engine) Connect(linkCfg *link.Config) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.dropSessionLocked(nil)

	connCtx, connStop := context.WithCancel(e.pctx)

	sess, err := link.NewSession(connCtx, linkCfg)
	if err != nil {
		connStop()

		return err
	}

	sess.AddStateHandler(e.notifyConnState)

	if err := sess.Open(); err != nil {
		connStop()

		return fmt.Errorf("connect %s: %w", linkCfg.Kind(), err)
	}

	mgr := task.NewManager(connCtx, e.logger)

	sched := newScheduler(connCtx, e.store, sess,
		e.cfg.interval, e.cfg.failThreshold, e.logger,
		func(err error) { e.connectionLost(sess, err) })

	frames := sess.Frames()
	if err := mgr.Start("statusPump", func() bool { return e.pumpOnce(connCtx, frames) }); err != nil {
		connStop()
		_ = sess.Close()

		return err
	}

	if err := mgr.Start("txScheduler", sched.tick); err != nil {
		connStop()
		mgr.Stop()
		_ = sess.Close()

		return err
	}

	e.sess = sess
	e.taskMgr = mgr
	e.connCtx = connCtx
	e.connStop = connStop

	e.logger.Info("link established",
		"transport", linkCfg.Kind(), "remote", linkCfg.RemoteAddr(), "interval", e.cfg.interval,
	)

	return nil
}

// Disconnect tears down the active session, if any. The parameter store
// keeps its values; any in-flight command is discarded.
func (e *Engine) Disconnect() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.dropSessionLocked(nil)

	return nil
}

// Close disconnects and marks the engine unusable for further Connect calls.
func (e *Engine) Close() error {
	e.closed.Store(true)

	return e.Disconnect()
}

// dropSessionLocked stops the scheduler and pump, closes the session and
// resets the command machine. A non-nil cause faults the session instead of
// closing it cleanly, so state subscribers see the lost connection with its
// error. Callers hold e.mutex.
func (e *Engine) dropSessionLocked(cause error) {
	if e.sess == nil {
		return
	}

	e.connStop()
	e.taskMgr.Stop()
	e.taskMgr.Wait()

	if err := e.sess.CloseWithCause(cause); err != nil {
		e.logger.Warn("session close", "error", err)
	}

	e.cmd.Reset()

	e.sess = nil
	e.taskMgr = nil
	e.connCtx = nil
	e.connStop = nil
}

// connectionLost runs when the scheduler crosses the send failure threshold
// on the given session. Teardown happens on a fresh goroutine because the
// scheduler task cannot wait for its own task manager to stop; by the time
// the goroutine runs the engine may already hold a newer session, in which
// case the stale loss is ignored.
func (e *Engine) connectionLost(sess link.Session, err error) {
	e.logger.Error("connection lost", "error", err)

	go func() {
		e.mutex.Lock()
		defer e.mutex.Unlock()

		if e.sess != sess {
			return
		}

		e.dropSessionLocked(err)
	}()
}

// pumpOnce drains one status frame from the session, decodes it and fans it
// out to the store, the command machine, the recent ring and subscribers.
// Returning false ends the pump task.
func (e *Engine) pumpOnce(ctx context.Context, frames <-chan []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case frame, ok := <-frames:
		if !ok {
			return false
		}

		snap, err := e.decoder.Decode(frame)
		if err != nil {
			e.logger.Warn("status frame dropped", "error", err)

			return true
		}

		e.store.updateStatus(snap)
		e.recent.Push(snap)
		e.cmd.ObserveStatus(snap)

		e.statusSubs.Range(func(_ uint64, h StatusHandler) bool {
			h(snap)

			return true
		})

		return true
	}
}

// SetParameter updates one outbound parameter slot. The value appears in the
// next transmitted frame. The command slot is managed by IssueCommand and is
// rejected here.
func (e *Engine) SetParameter(slot int, value uint16) error {
	return e.store.SetValue(slot, value)
}

// Parameter returns the current value of one outbound parameter slot.
func (e *Engine) Parameter(slot int) (uint16, error) {
	return e.store.Value(slot)
}

// IssueCommand loads a command into the command register and begins waiting
// for the controller to echo it back. A command already pending is
// superseded outright. The engine must be connected.
func (e *Engine) IssueCommand(id uint16, label string, sticky bool) error {
	e.mutex.Lock()
	sess := e.sess
	e.mutex.Unlock()

	if sess == nil || !sess.State().IsConnected() {
		return ErrNotConnected
	}

	e.cmd.Issue(CommandRequest{ID: id, Label: label, Sticky: sticky})

	return nil
}

// LatestStatus returns the most recent decoded status snapshot, if any
// frame arrived on the current or a previous session.
func (e *Engine) LatestStatus() (protocol.StatusSnapshot, bool) {
	return e.store.LatestStatus()
}

// RecentStatuses returns up to n recent snapshots, newest first.
func (e *Engine) RecentStatuses(n int) []protocol.StatusSnapshot {
	return e.recent.Latest(n)
}

// ControlsLocked reports whether a command is awaiting acknowledgment, which
// front ends use to gate conflicting inputs.
func (e *Engine) ControlsLocked() bool {
	return e.cmd.ControlsLocked()
}

// CommandState returns the current command machine state.
func (e *Engine) CommandState() CommandState {
	return e.cmd.State()
}

// ActiveSticky returns the sticky command still in the register, if any.
func (e *Engine) ActiveSticky() (CommandRequest, bool) {
	return e.cmd.ActiveSticky()
}

// State returns the connection state of the active session, or
// DisconnectedState when none exists.
func (e *Engine) State() link.ConnState {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.sess == nil {
		return link.DisconnectedState
	}

	return e.sess.State()
}

// Metrics returns the transport counters of the active session, or nil when
// disconnected.
func (e *Engine) Metrics() *link.SessionMetrics {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.sess == nil {
		return nil
	}

	return e.sess.Metrics()
}

// OnStatus registers a handler for every decoded status snapshot. The
// returned function cancels the subscription.
func (e *Engine) OnStatus(h StatusHandler) func() {
	id := e.subID.Add(1)
	e.statusSubs.Store(id, h)

	return func() { e.statusSubs.Delete(id) }
}

// OnConnState registers a handler for connection state transitions.
func (e *Engine) OnConnState(h ConnStateHandler) func() {
	id := e.subID.Add(1)
	e.stateSubs.Store(id, h)

	return func() { e.stateSubs.Delete(id) }
}

// OnCommandIssued registers a handler invoked when a command enters the
// pending state.
func (e *Engine) OnCommandIssued(h CommandHandler) func() {
	id := e.subID.Add(1)
	e.issuedSubs.Store(id, h)

	return func() { e.issuedSubs.Delete(id) }
}

// OnCommandResolved registers a handler invoked when a pending command is
// acknowledged by the controller.
func (e *Engine) OnCommandResolved(h CommandHandler) func() {
	id := e.subID.Add(1)
	e.resolvedSubs.Store(id, h)

	return func() { e.resolvedSubs.Delete(id) }
}

func (e *Engine) notifyConnState(prev, next link.ConnState, cause error) {
	e.stateSubs.Range(func(_ uint64, h ConnStateHandler) bool {
		h(prev, next, cause)

		return true
	})
}

func (e *Engine) notifyIssued(req CommandRequest) {
	e.issuedSubs.Range(func(_ uint64, h CommandHandler) bool {
		h(req)

		return true
	})
}

func (e *Engine) notifyResolved(req CommandRequest) {
	e.resolvedSubs.Range(func(_ uint64, h CommandHandler) bool {
		h(req)

		return true
	})
}
