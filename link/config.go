package link

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hutaofa/plclink/logger"
)

// Kind discriminates the transport used by a session.
type Kind uint8

const (
	// KindTCP selects a stream-oriented client connection to the controller.
	KindTCP Kind = iota
	// KindUDP selects a datagram socket pair: a local listen port for status
	// frames and a target address for control frames.
	KindUDP
)

// String returns string representation of the transport kind.
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Config holds the configuration parameters for one transport session.
// A Config is immutable for the lifetime of the session built from it;
// switching transport kind or endpoint means building a new Config and a new
// session.
type Config struct {
	kind Kind

	// TCP mode.
	host      string
	port      int
	localPort int // optional local bind port; 0 means ephemeral

	// UDP mode.
	listenPort int
	targetHost string
	targetPort int

	// connectTimeout bounds the TCP dial. Defaults to 3 seconds.
	connectTimeout time.Duration

	// sendTimeout bounds a single frame write. Defaults to 1 second.
	sendTimeout time.Duration

	// closeTimeout bounds the teardown of the session's goroutines.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// frameQueueSize is the capacity of the inbound frame channel.
	// Defaults to 16.
	frameQueueSize int

	logger logger.Logger
}

// NewTCPConfig creates a session configuration for a TCP client connection to
// host:port, customized by the given functional options.
func NewTCPConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := defaultConfig(KindTCP)

	if err := validateHost(host); err != nil {
		return nil, err
	}
	if err := validatePort("remote port", port); err != nil {
		return nil, err
	}
	cfg.host = host
	cfg.port = port

	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewUDPConfig creates a session configuration for a UDP send/receive pair:
// status frames are received on listenPort, control frames are sent to
// targetHost:targetPort.
func NewUDPConfig(listenPort int, targetHost string, targetPort int, opts ...Option) (*Config, error) {
	cfg := defaultConfig(KindUDP)

	if err := validatePort("listen port", listenPort); err != nil {
		return nil, err
	}
	if err := validateHost(targetHost); err != nil {
		return nil, err
	}
	if err := validatePort("target port", targetPort); err != nil {
		return nil, err
	}
	cfg.listenPort = listenPort
	cfg.targetHost = targetHost
	cfg.targetPort = targetPort

	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig(kind Kind) *Config {
	return &Config{
		kind:           kind,
		connectTimeout: 3 * time.Second,
		sendTimeout:    1 * time.Second,
		closeTimeout:   3 * time.Second,
		frameQueueSize: 16,
		logger:         logger.GetLogger(),
	}
}

func applyOptions(cfg *Config, opts []Option) error {
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Kind returns the transport kind of this configuration.
func (cfg *Config) Kind() Kind {
	return cfg.kind
}

// RemoteAddr returns the remote endpoint as host:port.
func (cfg *Config) RemoteAddr() string {
	if cfg.kind == KindUDP {
		return net.JoinHostPort(cfg.targetHost, strconv.Itoa(cfg.targetPort))
	}
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d is out of range [1, 65535]", name, port)
	}
	return nil
}

// Option represents a functional option for configuring a session Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithLocalPort binds the local endpoint of a TCP connection to the given
// source port before dialing, for firewall/NAT predictability. A failure to
// bind the port surfaces as a connect error from Open.
//
// The default is 0, which lets the kernel pick an ephemeral port.
//
// This option only applies to TCP configurations.
func WithLocalPort(port int) Option {
	return newOptFunc("WithLocalPort", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if cfg.kind != KindTCP {
			return errors.New("local port bind only applies to TCP sessions")
		}
		if port < 0 || port > 65535 {
			return errors.New("local port is out of range [0, 65535]")
		}
		cfg.localPort = port

		return nil
	})
}

// WithConnectTimeout sets the timeout for establishing the TCP connection.
// The timeout must be within the range of 100 milliseconds to 30 seconds.
//
// The default value is 3 seconds.
func WithConnectTimeout(val time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("connect timeout out of range [0.1s, 30s]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithSendTimeout sets the write deadline applied to each outbound frame.
// The timeout must be within the range of 10 milliseconds to 10 seconds.
//
// The default value is 1 second.
func WithSendTimeout(val time.Duration) Option {
	return newOptFunc("WithSendTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 10*time.Millisecond || val > 10*time.Second {
			return errors.New("send timeout out of range [10ms, 10s]")
		}
		cfg.sendTimeout = val

		return nil
	})
}

// WithCloseTimeout sets the timeout for tearing down the session's goroutines
// on Close. The timeout must be within the range of 1 to 30 seconds.
//
// The default value is 3 seconds.
func WithCloseTimeout(val time.Duration) Option {
	return newOptFunc("WithCloseTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 1*time.Second || val > 30*time.Second {
			return errors.New("close timeout out of range [1s, 30s]")
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithFrameQueueSize sets the capacity of the inbound frame channel, which
// buffers received status frames before the consumer drains them.
//
// The queue size must be within the range of 1 to 1024.
//
// The default value is 16.
func WithFrameQueueSize(size int) Option {
	return newOptFunc("WithFrameQueueSize", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if size < 1 || size > 1024 {
			return errors.New("frame queue size out of range [1, 1024]")
		}
		cfg.frameQueueSize = size

		return nil
	})
}

// WithLogger sets the logger for the session.
//
// The default logger is the package-level default logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
