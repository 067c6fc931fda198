package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hutaofa/plclink/protocol"
)

// TCPSession is a stream-oriented transport session: a client connection to
// the controller's TCP server. Because TCP has no message boundaries, the
// receive loop reassembles the byte stream into exact 26-byte status frames
// with io.ReadFull before delivering them.
type TCPSession struct {
	baseSession

	connMutex sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
}

var _ Session = (*TCPSession)(nil)

func newTCPSession(ctx context.Context, cfg *Config) *TCPSession {
	s := &TCPSession{}
	s.init(ctx, cfg)
	return s
}

// Open dials the controller. If the configuration carries a nonzero local
// port, the local endpoint is bound to it before connecting; a bind failure
// surfaces as a connect error. On success the session is Connected and the
// receive loop is running.
func (s *TCPSession) Open() error {
	if !s.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpened
	}

	if err := s.stateMgr.ToConnecting(); err != nil {
		return err
	}

	dialer := &net.Dialer{
		Timeout:   s.cfg.connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if s.cfg.localPort > 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: s.cfg.localPort}
	}

	addr := s.cfg.RemoteAddr()
	conn, err := dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		s.stateMgr.ToDisconnected()
		s.cancel()
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	s.connMutex.Lock()
	s.conn = conn
	s.reader = bufio.NewReaderSize(conn, 4*protocol.StatusFrameSize)
	s.connMutex.Unlock()

	if err := s.stateMgr.ToConnected(); err != nil {
		s.shutdownWith(nil, s.closeSocket)
		return err
	}

	s.logger.Debug("connected to controller",
		"remote_addr", conn.RemoteAddr().String(),
		"local_addr", conn.LocalAddr().String(),
	)

	if err := s.taskMgr.StartReceiver("tcpReceiver", protocol.StatusFrameSize, s.receiverTask, nil); err != nil {
		s.shutdownWith(nil, s.closeSocket)
		return fmt.Errorf("start receiver: %w", err)
	}

	return nil
}

// Close tears the session down and transitions it to Disconnected.
func (s *TCPSession) Close() error {
	s.shutdownWith(nil, s.closeSocket)
	return nil
}

// CloseWithCause tears the session down and transitions it to Faulted with
// the given cause.
func (s *TCPSession) CloseWithCause(cause error) error {
	s.shutdownWith(cause, s.closeSocket)
	return nil
}

// Send transmits one control frame with the configured write deadline.
func (s *TCPSession) Send(frame []byte) error {
	if len(frame) != protocol.ControlFrameSize {
		return ErrInvalidFrameSize
	}
	if !s.stateMgr.State().IsConnected() {
		return ErrNotConnected
	}

	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if s.conn == nil {
		return ErrSessionClosed
	}

	if err := s.conn.SetWriteDeadline(sendDeadline(s.cfg.sendTimeout)); err != nil {
		s.metrics.incSendErrCount()
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := s.conn.Write(frame); err != nil {
		s.metrics.incSendErrCount()
		return fmt.Errorf("write control frame: %w", err)
	}

	s.metrics.incFrameSendCount()

	return nil
}

// receiverTask reads exactly one status frame from the stream per iteration.
// A read error faults the session; the session never reconnects on its own.
func (s *TCPSession) receiverTask(frameBuf []byte) bool {
	if _, err := io.ReadFull(s.reader, frameBuf); err != nil {
		if s.shutdown.Load() {
			return false
		}

		if isClosedConnError(err) {
			s.logger.Debug("connection closed by remote", "error", err)
			s.fault(fmt.Errorf("remote closed connection: %w", err), s.closeSocket)
		} else {
			s.logger.Error("failed to read status frame", "error", err)
			s.fault(fmt.Errorf("read status frame: %w", err), s.closeSocket)
		}

		return false
	}

	s.metrics.incFrameRecvCount()

	return s.deliverFrame(frameBuf)
}

func (s *TCPSession) closeSocket() {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if s.conn == nil {
		return
	}

	if tcpConn, ok := s.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0) // force close, pending reads return immediately
	}

	if err := s.conn.Close(); err != nil && !isClosedConnError(err) {
		s.logger.Error("failed to close TCP connection", "error", err)
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "connection reset by peer")
}
