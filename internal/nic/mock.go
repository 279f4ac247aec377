package nic

import "gatekeeper.io/dataplane/internal/core"

// MockNIC is an in-memory NIC for tests: RxBurst drains a preloaded queue
// of frames, TxBurst appends to a Sent log instead of touching a socket.
type MockNIC struct {
	rxQueue []core.RawPacket
	Sent    [][]byte
	Closed  bool

	// TxLimit, if > 0, caps how many frames TxBurst accepts per call,
	// simulating a transmit queue that falls behind.
	TxLimit int
}

// NewMockNIC builds a MockNIC preloaded with frames, returned by RxBurst in
// order.
func NewMockNIC(frames ...core.RawPacket) *MockNIC {
	return &MockNIC{rxQueue: frames}
}

// Enqueue appends more frames for a later RxBurst to return.
func (m *MockNIC) Enqueue(frames ...core.RawPacket) {
	m.rxQueue = append(m.rxQueue, frames...)
}

func (m *MockNIC) RxBurst(dst []core.RawPacket) (int, error) {
	n := copy(dst, m.rxQueue)
	m.rxQueue = m.rxQueue[n:]
	return n, nil
}

func (m *MockNIC) TxBurst(frames [][]byte) (int, error) {
	limit := len(frames)
	if m.TxLimit > 0 && m.TxLimit < limit {
		limit = m.TxLimit
	}
	for _, f := range frames[:limit] {
		cp := make([]byte, len(f))
		copy(cp, f)
		m.Sent = append(m.Sent, cp)
	}
	return limit, nil
}

func (m *MockNIC) Close() error {
	m.Closed = true
	return nil
}
