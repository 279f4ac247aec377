package nic

import (
	"testing"

	"gatekeeper.io/dataplane/internal/core"
)

func TestMockNICRxBurstRespectsDstLen(t *testing.T) {
	n := NewMockNIC(
		core.RawPacket{Data: []byte("a")},
		core.RawPacket{Data: []byte("b")},
		core.RawPacket{Data: []byte("c")},
	)

	dst := make([]core.RawPacket, 2)
	got, err := n.RxBurst(dst)
	if err != nil {
		t.Fatalf("RxBurst: %v", err)
	}
	if got != 2 {
		t.Fatalf("RxBurst returned %d, want 2", got)
	}

	dst2 := make([]core.RawPacket, BurstSize)
	got2, err := n.RxBurst(dst2)
	if err != nil {
		t.Fatalf("second RxBurst: %v", err)
	}
	if got2 != 1 {
		t.Fatalf("second RxBurst returned %d, want 1", got2)
	}
}

func TestMockNICTxBurstLogsFrames(t *testing.T) {
	n := NewMockNIC()
	frames := [][]byte{[]byte("x"), []byte("y")}
	sent, err := n.TxBurst(frames)
	if err != nil {
		t.Fatalf("TxBurst: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(n.Sent) != 2 {
		t.Fatalf("Sent log has %d entries, want 2", len(n.Sent))
	}
}

func TestMockNICTxBurstHonorsLimit(t *testing.T) {
	n := NewMockNIC()
	n.TxLimit = 1
	sent, err := n.TxBurst([][]byte{[]byte("x"), []byte("y")})
	if err != nil {
		t.Fatalf("TxBurst: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 (TxLimit)", sent)
	}
}

func TestMockNICClose(t *testing.T) {
	n := NewMockNIC()
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !n.Closed {
		t.Error("Closed = false after Close()")
	}
}
