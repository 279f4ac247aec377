// Package nic provides the poll-mode receive/transmit burst interface (§6)
// the GK and LLS workers drive directly, plus the one real implementation
// this host can offer: AF_PACKET. AF_PACKET is the closest Linux-native
// analogue to a DPDK poll-mode NIC queue available without a kernel
// bypass driver — it is not a literal port of any hardware PMD, only the
// same "poll for a burst, hand back zero-copy slices" contract.
//
// Grounded on plugins/capture/afpacket/afpacket.go: the TPacket setup
// options, the direct ZeroCopyReadPacketData loop (chosen there, and here,
// over gopacket.PacketSource.Packets() to avoid its hidden background
// goroutine racing Close() against the TPACKET_V3 mmap ring), and the
// Close()-owned-by-the-reader lifetime rule.
package nic

import (
	"fmt"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"gatekeeper.io/dataplane/internal/core"
)

// BurstSize is the fixed poll-mode burst size (§6).
const BurstSize = 32

// NIC is the poll-mode receive/transmit contract a GK or LLS worker drives
// once per loop iteration. Implementations are not safe for concurrent
// use — a worker owns its NIC exclusively, matching §5's single-writer
// rule.
type NIC interface {
	// RxBurst fills dst (len(dst) <= BurstSize) with received frames and
	// returns how many were filled; 0 when nothing is queued. MockNIC
	// returns at once; AFPacketNIC waits up to its 100ms poll timeout
	// whenever its ring is empty, so a call can block for that long.
	RxBurst(dst []core.RawPacket) (n int, err error)
	// TxBurst transmits frames, returning the count the queue accepted;
	// AFPacketNIC also returns an error wrapping core.ErrTxFailure on a
	// short count. The caller frees the rest.
	TxBurst(frames [][]byte) (sent int, err error)
	// Close releases the underlying socket/ring. Must only be called by
	// the same goroutine that calls RxBurst, per the teacher's handle
	// lifetime rule.
	Close() error
}

// Config describes one AF_PACKET-backed NIC queue.
type Config struct {
	Interface   string
	SnapLen     int
	BlockSize   int
	NumBlocks   int
	FanoutID    int
	FanoutType  string // hash|cpu|lb
	Promiscuous bool
	BPFFilter   []bpf.RawInstruction // optional classic-BPF prefilter
}

const (
	defaultSnapLen   = 65535
	defaultBlockSize = 4 * 1024 * 1024
	defaultNumBlocks = 128
)

// AFPacketNIC implements NIC over a TPACKET_V3 ring.
type AFPacketNIC struct {
	cfg    Config
	handle *afpacket.TPacket
}

// Open creates the TPacket handle and, if FanoutID is set, joins the
// fanout group identified by FanoutID/FanoutType so that multiple worker
// queues can share one physical interface the way RSS shares one NIC
// across hardware queues.
func Open(cfg Config) (*AFPacketNIC, error) {
	if cfg.SnapLen == 0 {
		cfg.SnapLen = defaultSnapLen
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = defaultNumBlocks
	}

	opts := []any{
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(cfg.SnapLen),
		afpacket.OptBlockSize(cfg.BlockSize),
		afpacket.OptNumBlocks(cfg.NumBlocks),
		afpacket.OptPollTimeout(100 * time.Millisecond),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	}
	handle, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, fmt.Errorf("nic: open %s: %w", cfg.Interface, err)
	}

	n := &AFPacketNIC{cfg: cfg, handle: handle}

	if cfg.FanoutID != 0 {
		ft, err := parseFanoutType(cfg.FanoutType)
		if err != nil {
			handle.Close()
			return nil, err
		}
		if err := handle.SetFanout(ft, uint16(cfg.FanoutID)); err != nil {
			handle.Close()
			return nil, fmt.Errorf("nic: set fanout on %s: %w", cfg.Interface, err)
		}
	}

	if len(cfg.BPFFilter) > 0 {
		if err := handle.SetBPF(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("nic: set BPF filter on %s: %w", cfg.Interface, err)
		}
	}

	return n, nil
}

func parseFanoutType(s string) (afpacket.FanoutType, error) {
	switch s {
	case "", "hash":
		return afpacket.FanoutHash, nil
	case "cpu":
		return afpacket.FanoutCPU, nil
	case "lb":
		return afpacket.FanoutLoadBalance, nil
	default:
		return 0, fmt.Errorf("nic: unknown fanout_type %q", s)
	}
}

// RxBurst reads up to len(dst) frames without blocking past the configured
// poll timeout. data returned by ZeroCopyReadPacketData is only valid
// until the next call, so the caller (the worker's own loop) must finish
// with each RawPacket before RxBurst is called again.
func (n *AFPacketNIC) RxBurst(dst []core.RawPacket) (int, error) {
	count := 0
	for count < len(dst) {
		data, ci, err := n.handle.ZeroCopyReadPacketData()
		if err != nil {
			if count > 0 {
				return count, nil
			}
			return 0, nil
		}
		dst[count] = core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			InterfaceIndex: ci.InterfaceIndex,
		}
		count++
	}
	return count, nil
}

// TxBurst writes each frame to the ring in order, stopping at the first
// rejection and returning how many were accepted.
func (n *AFPacketNIC) TxBurst(frames [][]byte) (int, error) {
	for i, f := range frames {
		if err := n.handle.WritePacketData(f); err != nil {
			return i, fmt.Errorf("%w: %v", core.ErrTxFailure, err)
		}
	}
	return len(frames), nil
}

// Close releases the TPacket handle. Must be called from the same
// goroutine driving RxBurst/TxBurst — calling it concurrently races the
// mmap ring teardown against an in-flight zero-copy read.
func (n *AFPacketNIC) Close() error {
	n.handle.Close()
	return nil
}
