package link

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hutaofa/plclink/protocol"
)

// startTCPServer starts a loopback controller endpoint accepting exactly one
// connection and returns the listener and a channel delivering the accepted
// connection.
func startTCPServer(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	return ln, accepted
}

func tcpConfigFor(t *testing.T, ln net.Listener, opts ...Option) *Config {
	t.Helper()

	addr := ln.Addr().(*net.TCPAddr)
	opts = append([]Option{WithLogger(testLogger()), WithCloseTimeout(time.Second)}, opts...)
	cfg, err := NewTCPConfig("127.0.0.1", addr.Port, opts...)
	require.NoError(t, err)

	return cfg
}

func acceptConn(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(time.Second):
		t.Fatal("server did not accept connection")
		return nil
	}
}

func statusFrameWithEcho(echo uint16) []byte {
	var snap protocol.StatusSnapshot
	snap.Words[protocol.EchoIndex] = echo
	return protocol.EncodeStatus(snap, protocol.LSBFirst)
}

func TestTCPSessionOpenSendReceive(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)
	require.Equal(KindTCP, sess.Kind())
	require.True(sess.State().IsDisconnected())

	require.NoError(sess.Open())
	defer sess.Close()
	require.True(sess.State().IsConnected())

	remote := acceptConn(t, accepted)

	// Outbound: one control frame reaches the controller intact.
	var vec protocol.ParameterVector
	vec[protocol.SlotTargetSpeed] = 1200
	require.NoError(sess.Send(protocol.EncodeControl(vec)))

	got := make([]byte, protocol.ControlFrameSize)
	_ = remote.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(remote, got)
	require.NoError(err)

	decoded, err := protocol.DecodeControl(got)
	require.NoError(err)
	require.Equal(vec, decoded)
	require.Equal(uint64(1), sess.Metrics().FrameSendCount.Load())

	// Inbound: a status frame arrives on the frame channel.
	_, err = remote.Write(statusFrameWithEcho(7))
	require.NoError(err)

	select {
	case frame := <-sess.Frames():
		snap, err := protocol.DecodeStatus(frame)
		require.NoError(err)
		require.Equal(uint16(7), snap.Echo())
	case <-time.After(time.Second):
		t.Fatal("no status frame delivered")
	}
}

func TestTCPSessionReassemblesFragmentedStream(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)
	require.NoError(sess.Open())
	defer sess.Close()

	remote := acceptConn(t, accepted)

	// Two status frames written in awkward fragments across the stream.
	payload := append(statusFrameWithEcho(1), statusFrameWithEcho(2)...)
	for _, chunk := range [][]byte{payload[:10], payload[10:30], payload[30:]} {
		_, err = remote.Write(chunk)
		require.NoError(err)
		time.Sleep(5 * time.Millisecond)
	}

	for want := uint16(1); want <= 2; want++ {
		select {
		case frame := <-sess.Frames():
			require.Len(frame, protocol.StatusFrameSize)
			snap, err := protocol.DecodeStatus(frame)
			require.NoError(err)
			require.Equal(want, snap.Echo())
		case <-time.After(time.Second):
			t.Fatalf("frame %d not delivered", want)
		}
	}
}

func TestTCPSessionRemoteCloseFaults(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)

	var faulted atomic.Bool
	var cause atomic.Pointer[error]
	sess.AddStateHandler(func(prev, cur ConnState, err error) {
		if cur.IsFaulted() {
			faulted.Store(true)
			cause.Store(&err)
		}
	})

	require.NoError(sess.Open())
	remote := acceptConn(t, accepted)

	_ = remote.Close()

	// The frame channel closes and the session settles in Faulted with a cause.
	select {
	case _, ok := <-sess.Frames():
		require.False(ok)
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed after remote close")
	}

	require.Eventually(faulted.Load, time.Second, 10*time.Millisecond)
	require.True(sess.State().IsFaulted())
	require.Error(sess.Cause())
	require.Error(*cause.Load())

	// Sends are rejected once down.
	require.ErrorIs(sess.Send(make([]byte, protocol.ControlFrameSize)), ErrNotConnected)
}

func TestTCPSessionLocalClose(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)
	require.NoError(sess.Open())
	_ = acceptConn(t, accepted)

	require.NoError(sess.Close())
	require.True(sess.State().IsDisconnected())
	require.NoError(sess.Cause())

	// Close is idempotent, and no events arrive after it returns.
	require.NoError(sess.Close())
	_, ok := <-sess.Frames()
	require.False(ok)
}

func TestTCPSessionCloseWithCauseFaults(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)
	require.NoError(sess.Open())
	_ = acceptConn(t, accepted)

	var mu sync.Mutex
	var faultCause error
	sess.AddStateHandler(func(prev, next ConnState, cause error) {
		mu.Lock()
		defer mu.Unlock()
		if next.IsFaulted() {
			faultCause = cause
		}
	})

	lossErr := errors.New("send failure threshold crossed")
	require.NoError(sess.CloseWithCause(lossErr))

	// The session settles in Faulted with the cause, not Disconnected, so
	// observers can tell a lost connection from a deliberate close.
	require.True(sess.State().IsFaulted())
	require.ErrorIs(sess.Cause(), lossErr)

	mu.Lock()
	require.ErrorIs(faultCause, lossErr)
	mu.Unlock()

	_, ok := <-sess.Frames()
	require.False(ok)
	require.ErrorIs(sess.Send(make([]byte, protocol.ControlFrameSize)), ErrNotConnected)
}

func TestTCPSessionConnectFailure(t *testing.T) {
	require := require.New(t)

	// Grab a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	cfg, err := NewTCPConfig("127.0.0.1", port,
		WithLogger(testLogger()), WithConnectTimeout(200*time.Millisecond))
	require.NoError(err)

	sess, err := NewSession(context.Background(), cfg)
	require.NoError(err)

	require.Error(sess.Open())
	require.True(sess.State().IsDisconnected())
}

func TestTCPSessionOpenTwice(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)
	require.NoError(sess.Open())
	defer sess.Close()
	_ = acceptConn(t, accepted)

	require.ErrorIs(sess.Open(), ErrAlreadyOpened)
}

func TestTCPSessionSendValidation(t *testing.T) {
	require := require.New(t)

	ln, accepted := startTCPServer(t)

	sess, err := NewSession(context.Background(), tcpConfigFor(t, ln))
	require.NoError(err)

	// Not connected yet.
	require.ErrorIs(sess.Send(make([]byte, protocol.ControlFrameSize)), ErrNotConnected)

	require.NoError(sess.Open())
	defer sess.Close()
	_ = acceptConn(t, accepted)

	require.ErrorIs(sess.Send(make([]byte, 10)), ErrInvalidFrameSize)
}
