package gk

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/route"
)

// Encapsulate builds a complete outbound frame for §4.8: an Ethernet header
// addressed from srcMAC (the back interface's own MAC) to dstMAC (the
// tunnel endpoint's MAC, resolved by the caller through LLS before calling
// this), wrapping the outer IP-in-IP header. Family is chosen by the
// tunnel endpoint, which is also the destination; backAddr (the back
// interface's own address) is the outer source, dscp written into the outer Traffic Class/ToS byte,
// lengths and checksums fixed up. innerIP is carried as an opaque payload —
// this is write-only on the outer headers, per §4.8's contract that the
// inner packet is untouched.
//
// Grounded on Psiphon-Labs-psiphon-tunnel-core's
// psiphon/common/packetman/packetman.go: a two-pass SerializeLayers that
// builds new outer layers around an existing packet's bytes without
// touching them — the one gopacket-serialization example in the pack that
// matches C8's exact shape (wrap, don't rewrite).
func Encapsulate(innerIP []byte, dscp uint8, backAddr netip.Addr, tunnel route.Tunnel, srcMAC, dstMAC [6]byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if tunnel.DstIP.Is4() {
		eth := &layers.Ethernet{
			SrcMAC:       srcMAC[:],
			DstMAC:       dstMAC[:],
			EthernetType: layers.EthernetTypeIPv4,
		}
		outer := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolIPv4, // IP-in-IP, RFC 2003
			TOS:      dscp << 2,
			SrcIP:    backAddr.AsSlice(),
			DstIP:    tunnel.DstIP.AsSlice(),
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, outer, gopacket.Payload(innerIP)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC[:],
		DstMAC:       dstMAC[:],
		EthernetType: layers.EthernetTypeIPv6,
	}
	outer := &layers.IPv6{
		Version:      6,
		HopLimit:     64,
		NextHeader:   layers.IPProtocolIPv6, // IPv6-in-IPv6, RFC 2473
		TrafficClass: dscp << 2,
		SrcIP:        backAddr.AsSlice(),
		DstIP:        tunnel.DstIP.AsSlice(),
	}
	if err := gopacket.SerializeLayers(buf, opts, eth, outer, gopacket.Payload(innerIP)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
