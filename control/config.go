package control

import (
	"fmt"
	"time"

	"github.com/hutaofa/plclink/logger"
	"github.com/hutaofa/plclink/protocol"
)

const (
	// DefaultInterval is the transmit cycle period, 50 frames per second.
	DefaultInterval = 20 * time.Millisecond
	// DefaultSendFailureThreshold is the number of consecutive failed
	// transmit ticks tolerated before the connection is declared lost.
	DefaultSendFailureThreshold = 5
	// DefaultRecentDepth is how many decoded status snapshots the engine
	// retains for RecentStatuses.
	DefaultRecentDepth = 32
)

// Config carries engine-level settings, independent of any transport.
type Config struct {
	interval      time.Duration
	failThreshold int
	recentDepth   int
	bitOrder      protocol.BitOrder
	logger        logger.Logger
}

// NewConfig creates an engine Config with defaults applied, then the options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		interval:      DefaultInterval,
		failThreshold: DefaultSendFailureThreshold,
		recentDepth:   DefaultRecentDepth,
		bitOrder:      protocol.LSBFirst,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	fn func(*Config) error
}

func (f *optFunc) apply(cfg *Config) error { return f.fn(cfg) }

func newOptFunc(fn func(*Config) error) *optFunc { return &optFunc{fn: fn} }

// WithInterval sets the transmit cycle period. The accepted range is
// 1ms to 1s.
func WithInterval(d time.Duration) Option {
	return newOptFunc(func(cfg *Config) error {
		if d < time.Millisecond || d > time.Second {
			return fmt.Errorf("interval %v out of range [1ms, 1s]", d)
		}
		cfg.interval = d

		return nil
	})
}

// WithSendFailureThreshold sets how many consecutive failed transmit ticks
// are tolerated before the engine declares the connection lost. The accepted
// range is 1 to 100.
func WithSendFailureThreshold(n int) Option {
	return newOptFunc(func(cfg *Config) error {
		if n < 1 || n > 100 {
			return fmt.Errorf("send failure threshold %d out of range [1, 100]", n)
		}
		cfg.failThreshold = n

		return nil
	})
}

// WithRecentDepth sets how many decoded status snapshots the engine retains.
// The accepted range is 1 to 256.
func WithRecentDepth(n int) Option {
	return newOptFunc(func(cfg *Config) error {
		if n < 1 || n > 256 {
			return fmt.Errorf("recent depth %d out of range [1, 256]", n)
		}
		cfg.recentDepth = n

		return nil
	})
}

// WithBitOrder selects how incoming flag bytes map bit positions to flag
// indices. The default is protocol.LSBFirst.
func WithBitOrder(order protocol.BitOrder) Option {
	return newOptFunc(func(cfg *Config) error {
		if order != protocol.LSBFirst && order != protocol.MSBFirst {
			return fmt.Errorf("%w: %d", protocol.ErrInvalidBitOrder, order)
		}
		cfg.bitOrder = order

		return nil
	})
}

// WithLogger sets the logger used by the engine and its background tasks.
func WithLogger(l logger.Logger) Option {
	return newOptFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		cfg.logger = l

		return nil
	})
}
