package nic

import (
	"golang.org/x/net/bpf"
)

// ARPAndNDFilter assembles the classic-BPF program equivalent of the
// ethertype_filter_add(port, ARP|ND, queue) collaborator hook (§6): steer
// only ARP frames and IPv6 ICMP Neighbor Solicitation/Advertisement frames
// to the handle it is installed on, so the LLS worker's own NIC queue
// never sees ordinary IP traffic and a GK worker's queue never sees
// address resolution traffic. AF_PACKET has no hardware EtherType filter
// to program directly, so this core expresses the same steering intent as
// a BPF prefilter passed to Config.BPFFilter on the LLS worker's handle.
func ARPAndNDFilter() ([]bpf.RawInstruction, error) {
	const (
		ethertypeOff  = 12 // Ethernet: dst(6) src(6) ethertype(2)
		ipv6NextHdOff = 20 // Ethernet(14) + IPv6 fixed header next-header byte(6)
		icmp6TypeOff  = 54 // Ethernet(14) + IPv6 fixed header(40)

		ethertypeARP  = 0x0806
		ethertypeIPv6 = 0x86dd
		nextHdrICMPv6 = 58
		icmp6TypeNS   = 135
		icmp6TypeNA   = 136
	)

	insns := []bpf.Instruction{
		bpf.LoadAbsolute{Off: ethertypeOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: ethertypeARP, SkipTrue: 7},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: ethertypeIPv6, SkipFalse: 5},
		bpf.LoadAbsolute{Off: ipv6NextHdOff, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: nextHdrICMPv6, SkipFalse: 3},
		bpf.LoadAbsolute{Off: icmp6TypeOff, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: icmp6TypeNS, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: icmp6TypeNA, SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: defaultSnapLen},
	}
	return bpf.Assemble(insns)
}
