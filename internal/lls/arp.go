package lls

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ARPFamily implements Family for IPv4 over ARP, grounded on
// internal/decoder/decoder.go's layer re-use pattern: the same
// serialization buffer is not reused across calls here because a
// solicitation is emitted far less often than a packet is parsed, so the
// allocation is not on anyone's fast path.
type ARPFamily struct {
	IfaceMAC [6]byte
	IfaceIP  netip.Addr
}

func (ARPFamily) Name() string { return "arp" }

// EmitSolicitation builds an ARP request for target, broadcast from the
// interface's own MAC/IP.
func (a ARPFamily) EmitSolicitation(target netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       a.IfaceMAC[:],
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   a.IfaceMAC[:],
		SourceProtAddress: a.IfaceIP.AsSlice(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    target.AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AnswerSolicitation builds an ARP reply to a request for target (one of
// our own addresses), unicast back to the requester's MAC/IP. §1's
// "answers incoming solicitations" responsibility.
func (a ARPFamily) AnswerSolicitation(target netip.Addr, requesterMAC [6]byte, requesterIP netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       a.IfaceMAC[:],
		DstMAC:       requesterMAC[:],
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   a.IfaceMAC[:],
		SourceProtAddress: target.AsSlice(),
		DstHwAddress:      requesterMAC[:],
		DstProtAddress:    requesterIP.AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseARPRequest extracts the requester's IP/MAC and the queried target
// address from an incoming ARP request, used by processARP to decide
// whether to answer it.
func ParseARPRequest(a *layers.ARP) (requesterIP netip.Addr, requesterMAC [6]byte, target netip.Addr, ok bool) {
	if a.Operation != layers.ARPRequest || len(a.SourceProtAddress) != 4 || len(a.SourceHwAddress) != 6 || len(a.DstProtAddress) != 4 {
		return netip.Addr{}, [6]byte{}, netip.Addr{}, false
	}
	requesterIP = netip.AddrFrom4([4]byte{a.SourceProtAddress[0], a.SourceProtAddress[1], a.SourceProtAddress[2], a.SourceProtAddress[3]})
	copy(requesterMAC[:], a.SourceHwAddress)
	target = netip.AddrFrom4([4]byte{a.DstProtAddress[0], a.DstProtAddress[1], a.DstProtAddress[2], a.DstProtAddress[3]})
	return requesterIP, requesterMAC, target, true
}

// ParseARPReply extracts the reporting IP and MAC from an ARP reply,
// used by process_arp (§4.4 step 1) to feed Cache.Observe.
func ParseARPReply(a *layers.ARP) (ip netip.Addr, mac [6]byte, ok bool) {
	if a.Operation != layers.ARPReply || len(a.SourceProtAddress) != 4 || len(a.SourceHwAddress) != 6 {
		return netip.Addr{}, [6]byte{}, false
	}
	ip = netip.AddrFrom4([4]byte{a.SourceProtAddress[0], a.SourceProtAddress[1], a.SourceProtAddress[2], a.SourceProtAddress[3]})
	copy(mac[:], a.SourceHwAddress)
	return ip, mac, true
}
