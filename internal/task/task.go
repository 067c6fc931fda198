// Package task manages the lifecycle of the goroutines behind a transport
// session and the control engine: socket receive loops, the transmit
// scheduler loop, and event dispatch loops.
//
// A Manager uses a context.Context to signal all running tasks to stop, and a
// sync.WaitGroup to wait for them to terminate. After Wait() returns, the
// Manager re-arms itself from its parent context so a session can be opened
// again.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hutaofa/plclink/logger"
)

// Func performs one iteration of a task loop. It returns true to keep the
// loop running, or false to stop the goroutine.
type Func func() bool

// RecvFunc performs one iteration of a receive loop. buf is a scratch buffer
// owned by the goroutine and reused across iterations. It returns true to
// keep the loop running, or false to stop the goroutine.
type RecvFunc func(buf []byte) bool

// CancelFunc is called when a receive goroutine exits or is canceled. It can
// be used to release resources tied to the goroutine.
type CancelFunc func()

// Manager manages the lifecycle of named goroutines.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protects ctx and cancel
	taskMu sync.RWMutex // protects task creation during Wait()
}

// NewManager creates a new Manager with the given parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

// getContext safely returns the current context.
func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine that calls taskFunc in a loop until it returns
// false or the manager is stopped.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartReceiver starts a new goroutine that calls taskFunc in a loop with a
// reusable scratch buffer of bufSize bytes. cancelFunc, if non-nil, is called
// when the goroutine exits.
func (mgr *Manager) StartReceiver(name string, bufSize int, taskFunc RecvFunc, cancelFunc CancelFunc) error {
	mgr.logger.Debug("start receiver task", "name", name, "buf_size", bufSize)

	if bufSize <= 0 {
		return fmt.Errorf("invalid receive buffer size: %d", bufSize)
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if cancelFunc != nil {
			defer cancelFunc()
		}

		buf := make([]byte, bufSize)
		mgr.runTaskLoop(name, func() bool {
			return taskFunc(buf)
		})
	})

	return starter.waitForStart()
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then re-arms the manager from
// its parent context so tasks can be started again.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// runTaskLoop runs a task function in a loop with context cancellation and
// panic protection.
func (mgr *Manager) runTaskLoop(name string, taskFunc func() bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}

// taskStarter encapsulates common startup logic.
type taskStarter struct {
	mgr     *Manager
	name    string
	started chan error
}

func (mgr *Manager) newTaskStarter(name string) (*taskStarter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

// startTask runs the common startup sequence for all tasks.
func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.started <- fmt.Errorf("panic during startup: %v", r)
				}
			}()

			s.mgr.count.Add(1)
			s.started <- nil
		}()

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug(fmt.Sprintf("%s task terminated", s.name), "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

// waitForStart waits for the task goroutine to report startup.
func (s *taskStarter) waitForStart() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			s.mgr.wg.Done() // compensate for failed start
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("context cancelled while starting %s", s.name)
	}
}
