package control

import (
	"context"
	"fmt"
	"time"

	"github.com/hutaofa/plclink/internal/pool"
	"github.com/hutaofa/plclink/logger"
	"github.com/hutaofa/plclink/protocol"
)

// frameSender is the slice of the transport session the scheduler needs.
type frameSender interface {
	Send(frame []byte) error
}

// lostFunc is invoked once when the consecutive send failure threshold is
// crossed. The scheduler stops after calling it.
type lostFunc func(err error)

// scheduler drives the periodic transmit loop: each tick snapshots the
// parameter store, encodes a control frame, and sends it over the session.
//
// Scheduling is self-correcting against drift: the next target fire time
// advances by the fixed interval from the previous target, not from "now",
// so jitter from slow sends does not shift the long-run average rate. A tick
// that falls behind fires immediately and the loop catches up.
//
// A failed send skips the tick without retrying mid-cycle; consecutive
// failures beyond the threshold surface as a connection-lost event through
// onLost instead of being retried indefinitely.
type scheduler struct {
	ctx       context.Context
	store     *ParameterStore
	sender    frameSender
	logger    logger.Logger
	interval  time.Duration
	threshold int
	onLost    lostFunc

	target    time.Time
	failures  int
	tickCount uint64
}

func newScheduler(ctx context.Context, store *ParameterStore, sender frameSender,
	interval time.Duration, threshold int, l logger.Logger, onLost lostFunc,
) *scheduler {
	return &scheduler{
		ctx:       ctx,
		store:     store,
		sender:    sender,
		logger:    l,
		interval:  interval,
		threshold: threshold,
		onLost:    onLost,
	}
}

// tick performs one scheduling cycle: wait for the target deadline, advance
// the target by one interval, then snapshot-encode-send. It returns true to
// keep the loop running and is shaped to run under the task manager.
func (s *scheduler) tick() bool {
	if s.target.IsZero() {
		s.target = time.Now().Add(s.interval)
	}

	timer := pool.GetTimer(time.Until(s.target))
	defer pool.PutTimer(timer)

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
	}

	// Advance from the previous target, not from now.
	s.target = s.target.Add(s.interval)
	s.tickCount++

	frame := protocol.EncodeControl(s.store.SnapshotForSend())

	if err := s.sender.Send(frame); err != nil {
		s.failures++
		s.logger.Warn("transmit tick skipped",
			"tick", s.tickCount, "consecutive_failures", s.failures, "error", err,
		)

		if s.failures >= s.threshold {
			err = fmt.Errorf("%w after %d ticks: %v", ErrSendFailureOverflow, s.failures, err)
			s.logger.Error("transmit failure threshold crossed", "error", err)
			if s.onLost != nil {
				s.onLost(err)
			}

			return false
		}

		return true
	}

	s.failures = 0

	return true
}
