package link

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/hutaofa/plclink/protocol"
)

// udpRecvBufSize is generous compared to the 26-byte status frame so that
// oversized datagrams are read whole and can be dropped as malformed instead
// of poisoning the next read.
const udpRecvBufSize = 2048

// UDPSession is a datagram transport session: status frames arrive on a
// locally bound listen port, control frames go out as discrete datagrams to
// the configured target. Each received datagram is one candidate frame;
// datagrams that are not exactly one status frame are dropped and counted,
// without closing the session.
type UDPSession struct {
	baseSession

	sockMutex  sync.Mutex
	sock       *net.UDPConn
	targetAddr *net.UDPAddr
}

var _ Session = (*UDPSession)(nil)

func newUDPSession(ctx context.Context, cfg *Config) *UDPSession {
	s := &UDPSession{}
	s.init(ctx, cfg)
	return s
}

// Open binds the local listen socket and resolves the target address. A bind
// or resolve failure surfaces as a connect error. On success the session is
// Connected and the receive loop is running.
func (s *UDPSession) Open() error {
	if !s.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpened
	}

	if err := s.stateMgr.ToConnecting(); err != nil {
		return err
	}

	targetAddr, err := net.ResolveUDPAddr("udp", s.cfg.RemoteAddr())
	if err != nil {
		s.stateMgr.ToDisconnected()
		s.cancel()
		return fmt.Errorf("resolve target %s: %w", s.cfg.RemoteAddr(), err)
	}

	sock, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.listenPort})
	if err != nil {
		s.stateMgr.ToDisconnected()
		s.cancel()
		return fmt.Errorf("bind listen port %d: %w", s.cfg.listenPort, err)
	}

	s.sockMutex.Lock()
	s.sock = sock
	s.targetAddr = targetAddr
	s.sockMutex.Unlock()

	if err := s.stateMgr.ToConnected(); err != nil {
		s.shutdownWith(nil, s.closeSocket)
		return err
	}

	s.logger.Debug("UDP session ready",
		"listen_addr", sock.LocalAddr().String(),
		"target_addr", targetAddr.String(),
	)

	if err := s.taskMgr.StartReceiver("udpReceiver", udpRecvBufSize, s.receiverTask, nil); err != nil {
		s.shutdownWith(nil, s.closeSocket)
		return fmt.Errorf("start receiver: %w", err)
	}

	return nil
}

// Close tears the session down and transitions it to Disconnected.
func (s *UDPSession) Close() error {
	s.shutdownWith(nil, s.closeSocket)
	return nil
}

// CloseWithCause tears the session down and transitions it to Faulted with
// the given cause.
func (s *UDPSession) CloseWithCause(cause error) error {
	s.shutdownWith(cause, s.closeSocket)
	return nil
}

// Send transmits one control frame as a single datagram to the target.
func (s *UDPSession) Send(frame []byte) error {
	if len(frame) != protocol.ControlFrameSize {
		return ErrInvalidFrameSize
	}
	if !s.stateMgr.State().IsConnected() {
		return ErrNotConnected
	}

	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()

	if s.sock == nil {
		return ErrSessionClosed
	}

	if err := s.sock.SetWriteDeadline(sendDeadline(s.cfg.sendTimeout)); err != nil {
		s.metrics.incSendErrCount()
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := s.sock.WriteToUDP(frame, s.targetAddr); err != nil {
		s.metrics.incSendErrCount()
		return fmt.Errorf("write control datagram: %w", err)
	}

	s.metrics.incFrameSendCount()

	return nil
}

// receiverTask reads one datagram per iteration. Wrong-sized datagrams are
// dropped and logged; only socket errors fault the session.
func (s *UDPSession) receiverTask(buf []byte) bool {
	n, addr, err := s.sock.ReadFromUDP(buf)
	if err != nil {
		if s.shutdown.Load() {
			return false
		}

		s.logger.Error("failed to read datagram", "error", err)
		s.fault(fmt.Errorf("read status datagram: %w", err), s.closeSocket)

		return false
	}

	if n != protocol.StatusFrameSize {
		s.metrics.incMalformedCount()
		s.logger.Warn("dropping malformed datagram",
			"size", n, "want", protocol.StatusFrameSize, "from", addr.String(),
		)

		return true
	}

	s.metrics.incFrameRecvCount()

	return s.deliverFrame(buf[:n])
}

func (s *UDPSession) closeSocket() {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()

	if s.sock == nil {
		return
	}

	if err := s.sock.Close(); err != nil && !isClosedConnError(err) {
		s.logger.Error("failed to close UDP socket", "error", err)
	}
}
