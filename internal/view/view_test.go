package view

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/core"
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func ipv4UDPPacket(t *testing.T) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    netip.MustParseAddr("192.168.1.1").AsSlice(),
		DstIP:    netip.MustParseAddr("192.168.1.2").AsSlice(),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 5001}
	if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}
	return serialize(t, eth, ip4, udp, gopacket.Payload([]byte("x")))
}

func ipv6UDPPacket(t *testing.T) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      netip.MustParseAddr("2001:db8::1").AsSlice(),
		DstIP:      netip.MustParseAddr("2001:db8::2").AsSlice(),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 5001}
	if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}
	return serialize(t, eth, ip6, udp, gopacket.Payload([]byte("x")))
}

// ipv6ExtensionHeaderPacket builds an IPv6 frame whose base header's
// NextHeader names a Hop-by-Hop Options extension header. The bytes after
// the base header never need to form a valid extension header: Extract
// rejects on NextHeader alone, before attempting to decode anything past
// the base IPv6 header.
func ipv6ExtensionHeaderPacket(t *testing.T) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolIPv6HopByHop,
		SrcIP:      netip.MustParseAddr("2001:db8::1").AsSlice(),
		DstIP:      netip.MustParseAddr("2001:db8::2").AsSlice(),
	}
	return serialize(t, eth, ip6, gopacket.Payload([]byte{0x11, 0x00, 0, 0, 0, 0, 0, 0}))
}

func arpRequestPacket(t *testing.T) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		SourceProtAddress: []byte{192, 168, 1, 1},
		DstHwAddress:      []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		DstProtAddress:    []byte{192, 168, 1, 2},
	}
	return serialize(t, eth, arp)
}

func neighborSolicitationPacket(t *testing.T) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       []byte{0x33, 0x33, 0x00, 0x00, 0x00, 0x01},
		EthernetType: layers.EthernetTypeIPv6,
	}
	dst := netip.MustParseAddr("ff02::1:ff00:2")
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   255,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      netip.MustParseAddr("2001:db8::1").AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	if err := icmp6.SetNetworkLayerForChecksum(ip6); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: netip.MustParseAddr("2001:db8::2").AsSlice(),
	}
	return serialize(t, eth, ip6, icmp6, ns)
}

func TestExtractIPv4(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(ipv4UDPPacket(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.IP.Family != core.FamilyIPv4 {
		t.Fatalf("Family = %v, want IPv4", out.IP.Family)
	}
	if out.IP.SrcIP != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("SrcIP = %v", out.IP.SrcIP)
	}
	if out.IP.DstIP != netip.MustParseAddr("192.168.1.2") {
		t.Errorf("DstIP = %v", out.IP.DstIP)
	}
	if out.Key.Family != core.FamilyIPv4 || out.Key.Src != out.IP.SrcIP || out.Key.Dst != out.IP.DstIP {
		t.Errorf("Key = %+v", out.Key)
	}
	if out.IsARP || out.IsICMPv6 {
		t.Errorf("unexpected protocol hint set on a plain UDP/IPv4 packet")
	}
}

func TestExtractIPv6(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(ipv6UDPPacket(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.IP.Family != core.FamilyIPv6 {
		t.Fatalf("Family = %v, want IPv6", out.IP.Family)
	}
	if out.IP.SrcIP != netip.MustParseAddr("2001:db8::1") {
		t.Errorf("SrcIP = %v", out.IP.SrcIP)
	}
}

func TestExtractARP(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(arpRequestPacket(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !out.IsARP {
		t.Fatal("IsARP = false, want true")
	}
	if out.ARP.Operation != layers.ARPRequest {
		t.Errorf("ARP.Operation = %v, want ARPRequest", out.ARP.Operation)
	}
}

// TestExtractRejectsIPv6ExtensionHeader is spec §4.2's "extension headers
// are rejected" for IPv6: a TCP/UDP payload with no extension header must
// still decode cleanly (TestExtractIPv4/TestExtractIPv6), but one routed
// through a Hop-by-Hop Options header must not.
func TestExtractRejectsIPv6ExtensionHeader(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(ipv6ExtensionHeaderPacket(t))
	if err == nil {
		t.Fatal("expected error for an IPv6 packet carrying an extension header")
	}
	if !errors.Is(err, core.ErrParse) {
		t.Errorf("err = %v, want it to wrap core.ErrParse", err)
	}
}

func TestExtractTooShort(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for a too-short frame")
	}
}

func TestIsNDMatchesOwnedAddress(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(neighborSolicitationPacket(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !out.IsICMPv6 {
		t.Fatal("IsICMPv6 = false, want true")
	}

	iface := IfaceAddrs{Unicast: []netip.Addr{netip.MustParseAddr("2001:db8::2")}}
	if !out.IsND(iface) {
		t.Error("IsND = false, want true for NS addressed to our solicited-node multicast group")
	}

	other := IfaceAddrs{Unicast: []netip.Addr{netip.MustParseAddr("2001:db8::9")}}
	if out.IsND(other) {
		t.Error("IsND = true, want false when the interface owns no matching address")
	}
}

func TestIsNDFalseForNonICMPv6(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(ipv6UDPPacket(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.IsND(IfaceAddrs{}) {
		t.Error("IsND = true for a UDP/IPv6 packet, want false")
	}
}

func TestSolicitedNodeMulticast(t *testing.T) {
	got := SolicitedNodeMulticast(netip.MustParseAddr("2001:db8::2"))
	want := netip.MustParseAddr("ff02::1:ff00:2")
	if got != want {
		t.Errorf("SolicitedNodeMulticast = %v, want %v", got, want)
	}
}
