// Package link provides the transport session layer of plclink: a uniform
// abstraction over a TCP client connection or a UDP send/receive socket pair,
// owning the socket lifecycle and delivering exact status-frame payloads to
// the consumer.
//
// A Session covers exactly one connect/disconnect lifecycle. Switching
// transport kind or endpoint means closing the current session and building a
// new one from a fresh Config; a session never reconnects on its own.
package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hutaofa/plclink/internal/task"
	"github.com/hutaofa/plclink/logger"
)

// Session defines the interface of one transport session.
type Session interface {
	// Open establishes the session's sockets and starts its receive loop.
	// It is synchronous: when Open returns nil the session is Connected.
	// A session can be opened at most once.
	Open() error

	// Close tears the session down: the receive loop is abandoned, the
	// socket is closed, and no frame or state events are delivered after
	// Close returns. Closing a closed session is a no-op.
	Close() error

	// CloseWithCause tears the session down like Close but settles it in
	// Faulted carrying the given cause, so state handlers can distinguish a
	// lost connection from a deliberate local close. A nil cause is
	// equivalent to Close.
	CloseWithCause(cause error) error

	// Send transmits one control frame. It fails with ErrNotConnected when
	// the session is not Connected and ErrInvalidFrameSize when the buffer
	// is not exactly one control frame.
	Send(frame []byte) error

	// Frames returns the channel of inbound status-frame payloads. Every
	// delivered slice is exactly one status frame and is owned by the
	// receiver. The channel is closed during teardown.
	Frames() <-chan []byte

	// State returns the current connection state.
	State() ConnState

	// Cause returns the error that faulted the session, or nil.
	Cause() error

	// AddStateHandler registers handlers invoked on connection state changes.
	AddStateHandler(handlers ...StateChangeHandler)

	// Metrics returns the session's counters.
	Metrics() *SessionMetrics

	// Kind returns the transport kind of the session.
	Kind() Kind
}

// NewSession creates the transport session described by cfg. The returned
// session is Disconnected until Open is called. The given context bounds the
// whole session lifecycle; canceling it is equivalent to Close.
func NewSession(ctx context.Context, cfg *Config) (Session, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	switch cfg.kind {
	case KindUDP:
		return newUDPSession(ctx, cfg), nil
	default:
		return newTCPSession(ctx, cfg), nil
	}
}

// baseSession carries the state shared by the TCP and UDP implementations:
// lifecycle context, state manager, task manager, the inbound frame channel,
// and the teardown sequence.
type baseSession struct {
	pctx      context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *Config
	logger    logger.Logger
	stateMgr  *StateMgr
	taskMgr   *task.Manager
	frameChan chan []byte
	metrics   SessionMetrics
	opened    atomic.Bool
	shutdown  atomic.Bool
	closeOnce sync.Once
}

func (s *baseSession) init(ctx context.Context, cfg *Config) {
	s.pctx = ctx
	s.cfg = cfg
	s.logger = cfg.logger
	s.frameChan = make(chan []byte, cfg.frameQueueSize)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stateMgr = NewStateMgr(s.ctx, cfg.logger)
	s.taskMgr = task.NewManager(s.ctx, cfg.logger)
}

func (s *baseSession) Frames() <-chan []byte {
	return s.frameChan
}

func (s *baseSession) State() ConnState {
	return s.stateMgr.State()
}

func (s *baseSession) Cause() error {
	return s.stateMgr.Cause()
}

func (s *baseSession) AddStateHandler(handlers ...StateChangeHandler) {
	s.stateMgr.AddHandler(handlers...)
}

func (s *baseSession) Metrics() *SessionMetrics {
	return &s.metrics
}

func (s *baseSession) Kind() Kind {
	return s.cfg.kind
}

// deliverFrame hands one received frame to the consumer. The payload is
// copied because buf is the receive goroutine's scratch buffer.
func (s *baseSession) deliverFrame(buf []byte) bool {
	frame := make([]byte, len(buf))
	copy(frame, buf)

	select {
	case <-s.ctx.Done():
		return false
	case s.frameChan <- frame:
		return true
	}
}

// shutdownWith runs the teardown sequence exactly once: mark shutdown,
// record the fault cause if any, cancel the context, stop all tasks, close
// the socket, wait for the goroutines to drain, then close the frame channel
// and settle the terminal state.
//
// closeSocket must be safe to call with a nil/never-opened socket.
func (s *baseSession) shutdownWith(cause error, closeSocket func()) {
	s.closeOnce.Do(func() {
		s.shutdown.Store(true)

		if cause != nil {
			_ = s.stateMgr.ToFaulted(cause)
		}

		s.cancel()
		s.taskMgr.Stop()
		closeSocket()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.closeTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			s.taskMgr.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Error("session close timeout", "timeout", s.cfg.closeTimeout)
		}

		close(s.frameChan)

		if !s.stateMgr.State().IsFaulted() {
			s.stateMgr.ToDisconnected()
		}

		s.logger.Debug("session closed", "kind", s.cfg.kind, "state", s.stateMgr.State())
	})
}

// fault tears the session down from a receive-loop error. It runs in its own
// goroutine because the receive loop itself is one of the tasks the teardown
// waits for.
func (s *baseSession) fault(cause error, closeSocket func()) {
	if s.shutdown.Load() {
		return
	}
	go s.shutdownWith(cause, closeSocket)
}

func sendDeadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
