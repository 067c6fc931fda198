package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hutaofa/plclink/logger"
	"github.com/hutaofa/plclink/protocol"
)

func testLogger() logger.Logger {
	return logger.NewSlog(logger.ErrorLevel, false)
}

// fakeSender records sent frames and can be scripted to fail.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	stamps []time.Time
	errs   []error
}

func (f *fakeSender) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	f.stamps = append(f.stamps, time.Now())

	return nil
}

func (f *fakeSender) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func runTicks(sched *scheduler, max int) int {
	for i := 0; i < max; i++ {
		if !sched.tick() {
			return i
		}
	}
	return max
}

func TestSchedulerSendsStoreSnapshot(t *testing.T) {
	require := require.New(t)

	store := NewParameterStore()
	require.NoError(store.SetValue(protocol.SlotTargetSpeed, 900))
	store.setCommand(5)

	sender := &fakeSender{}
	sched := newScheduler(context.Background(), store, sender,
		time.Millisecond, DefaultSendFailureThreshold, testLogger(), nil)

	require.Equal(3, runTicks(sched, 3))

	frames := sender.sent()
	require.Len(frames, 3)

	for _, frame := range frames {
		require.Len(frame, protocol.ControlFrameSize)
		vec, err := protocol.DecodeControl(frame)
		require.NoError(err)
		require.Equal(uint16(900), vec[protocol.SlotTargetSpeed])
		require.Equal(uint16(5), vec[protocol.SlotCommand])
	}
}

func TestSchedulerCadenceDoesNotDrift(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	require := require.New(t)

	interval := 5 * time.Millisecond
	ticks := 40

	sender := &fakeSender{}
	sched := newScheduler(context.Background(), NewParameterStore(), sender,
		interval, DefaultSendFailureThreshold, testLogger(), nil)

	start := time.Now()
	require.Equal(ticks, runTicks(sched, ticks))
	elapsed := time.Since(start)

	// The long-run rate is anchored to absolute deadlines, so total elapsed
	// time stays close to ticks*interval regardless of per-tick jitter.
	want := time.Duration(ticks) * interval
	require.InDelta(float64(want), float64(elapsed), float64(3*interval))
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newScheduler(ctx, NewParameterStore(), &fakeSender{},
		time.Hour, DefaultSendFailureThreshold, testLogger(), nil)

	require.False(sched.tick())
	require.Empty(sched.tickCount)
}

func TestSchedulerSkipsFailedTickAndRecovers(t *testing.T) {
	require := require.New(t)

	sendErr := errors.New("socket buffer full")
	sender := &fakeSender{errs: []error{nil, sendErr, sendErr, nil}}

	var lostErr error
	sched := newScheduler(context.Background(), NewParameterStore(), sender,
		time.Millisecond, 5, testLogger(), func(err error) { lostErr = err })

	require.Equal(6, runTicks(sched, 6))

	// Two ticks were skipped, not retried; the rest went out.
	require.Len(sender.sent(), 4)
	require.Zero(sched.failures)
	require.Nil(lostErr)
}

func TestSchedulerDeclaresConnectionLost(t *testing.T) {
	require := require.New(t)

	sendErr := errors.New("connection refused")
	sender := &fakeSender{errs: []error{sendErr, sendErr, sendErr, sendErr}}

	var lostErr error
	sched := newScheduler(context.Background(), NewParameterStore(), sender,
		time.Millisecond, 3, testLogger(), func(err error) { lostErr = err })

	// The third consecutive failure crosses the threshold and ends the loop.
	require.Equal(2, runTicks(sched, 10))

	require.ErrorIs(lostErr, ErrSendFailureOverflow)
	require.Empty(sender.sent())
}
