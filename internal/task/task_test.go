package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hutaofa/plclink/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlog(logger.ErrorLevel, false)
}

func TestManagerStartStop(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())

	var iterations atomic.Int32
	err := mgr.Start("counter", func() bool {
		iterations.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	require.NoError(err)
	require.Equal(1, mgr.TaskCount())

	time.Sleep(20 * time.Millisecond)
	mgr.Stop()
	mgr.Wait()

	require.Equal(0, mgr.TaskCount())
	require.Greater(iterations.Load(), int32(0))
}

func TestManagerTaskSelfStop(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())

	done := make(chan struct{})
	err := mgr.Start("oneshot", func() bool {
		close(done)
		return false
	})
	require.NoError(err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	mgr.Wait()
	require.Equal(0, mgr.TaskCount())
}

func TestManagerRestartAfterWait(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())

	require.NoError(mgr.Start("first", func() bool { return false }))
	mgr.Stop()
	mgr.Wait()

	// The manager must be usable again after a full stop/wait cycle.
	ran := make(chan struct{})
	require.NoError(mgr.Start("second", func() bool {
		close(ran)
		return false
	}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run after restart")
	}

	mgr.Stop()
	mgr.Wait()
}

func TestManagerStartAfterStop(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())
	mgr.Stop()

	err := mgr.Start("late", func() bool { return false })
	require.Error(err)
}

func TestManagerReceiverBuffer(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())

	var canceled atomic.Bool
	got := make(chan int, 1)
	err := mgr.StartReceiver("recv", 26, func(buf []byte) bool {
		got <- len(buf)
		return false
	}, func() { canceled.Store(true) })
	require.NoError(err)

	select {
	case n := <-got:
		require.Equal(26, n)
	case <-time.After(time.Second):
		t.Fatal("receiver did not run")
	}

	mgr.Wait()
	require.True(canceled.Load())
}

func TestManagerReceiverInvalidBufSize(t *testing.T) {
	mgr := NewManager(context.Background(), testLogger())
	err := mgr.StartReceiver("bad", 0, func(buf []byte) bool { return false }, nil)
	require.Error(t, err)
}

func TestManagerPanicRecovery(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), testLogger())

	err := mgr.Start("panicky", func() bool {
		panic("boom")
	})
	require.NoError(err)

	// The panic must not crash the process; the goroutine terminates.
	mgr.Wait()
	require.Equal(0, mgr.TaskCount())
}
