package view

import (
	"net/netip"

	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/core"
)

// IfaceAddrs is the minimal view of an interface's configured addresses
// that IsND and LLS's solicitation-reply path need: the unicast addresses
// themselves (IPv4 and IPv6), plus the solicited-node multicast groups the
// IPv6 ones join. LLS owns the authoritative copy; GK and LLS workers each
// hold a read-only snapshot.
type IfaceAddrs struct {
	Unicast []netip.Addr
}

// Owns reports whether addr matches one of iface's configured unicast
// addresses. Exported for LLS's reply path: an ARP request or Neighbor
// Solicitation naming one of our own addresses as its target gets a reply;
// anything else does not.
func (ia IfaceAddrs) Owns(addr netip.Addr) bool {
	for _, u := range ia.Unicast {
		if u == addr {
			return true
		}
	}
	return false
}

// SolicitedNodeMulticast derives the ff02::1:ffXX:XXXX group for a unicast
// IPv6 address (the low 24 bits of addr, per RFC 4291 §2.7.1).
func SolicitedNodeMulticast(addr netip.Addr) netip.Addr {
	if !addr.Is6() {
		return netip.Addr{}
	}
	a := addr.As16()
	var b [16]byte
	b[0], b[1] = 0xff, 0x02
	b[11] = 0x01
	b[12] = 0xff
	b[13], b[14], b[15] = a[13], a[14], a[15]
	return netip.AddrFrom16(b)
}

// owns reports whether dst matches one of iface's unicast addresses or one
// of their derived solicited-node multicast groups.
func (ia IfaceAddrs) owns(dst netip.Addr) bool {
	if ia.Owns(dst) {
		return true
	}
	for _, u := range ia.Unicast {
		if SolicitedNodeMulticast(u) == dst {
			return true
		}
	}
	return false
}

// IsND reports whether e is a Neighbor Solicitation or Advertisement
// addressed to one of iface's configured addresses (§4.2): L3 is IPv6, next
// header is ICMPv6, ICMPv6 type is NS or NA, and the IPv6 destination is
// owned by iface.
func (e *Extracted) IsND(iface IfaceAddrs) bool {
	if !e.IsICMPv6 || e.IP.Family != core.FamilyIPv6 {
		return false
	}
	if e.IP.NextHdr != uint8(layers.IPProtocolICMPv6) {
		return false
	}
	switch e.ICMPv6.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborSolicitation, layers.ICMPv6TypeNeighborAdvertisement:
	default:
		return false
	}
	return iface.owns(e.IP.DstIP)
}
