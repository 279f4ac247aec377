// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// AddressFamily distinguishes IPv4 from IPv6 for flow keys and LLS records.
type AddressFamily uint8

const (
	FamilyUnknown AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// FlowKey identifies an IP flow: address family, source/destination address,
// and an L4 descriptor reserved for later use (kept at zero value today).
// Keys are compared for bitwise equality, never by semantic IP comparison.
type FlowKey struct {
	Family AddressFamily
	Src    netip.Addr
	Dst    netip.Addr
	L4     uint32 // reserved; always 0 until 5-tuple keying is implemented
}

// Equal reports bitwise equality, per spec: no normalization, no prefix
// matching, just a direct field compare.
func (k FlowKey) Equal(o FlowKey) bool {
	return k.Family == o.Family && k.Src == o.Src && k.Dst == o.Dst && k.L4 == o.L4
}

// EthernetHeader represents the L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16 // 0x0800=IPv4, 0x86DD=IPv6, 0x0806=ARP
}

// IPHeader represents the L3 IP header view (IPv4 or IPv6, fixed header only).
type IPHeader struct {
	Family   AddressFamily
	SrcIP    netip.Addr
	DstIP    netip.Addr
	NextHdr  uint8 // protocol / next header value
	TTL      uint8
	TotalLen uint16
}
