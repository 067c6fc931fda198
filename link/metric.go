package link

import (
	"sync/atomic"
)

// SessionMetrics contains atomic counters for a transport session.
// Counters can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// FrameSendCount indicates the number of control frames sent.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of status frames received.
	FrameRecvCount atomic.Uint64
	// SendErrCount indicates the number of failed frame writes.
	SendErrCount atomic.Uint64
	// MalformedCount indicates the number of inbound datagrams dropped for
	// not being exactly one status frame.
	MalformedCount atomic.Uint64
}

func (m *SessionMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *SessionMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *SessionMetrics) incSendErrCount() {
	m.SendErrCount.Add(1)
}

func (m *SessionMetrics) incMalformedCount() {
	m.MalformedCount.Add(1)
}
