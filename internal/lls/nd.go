package lls

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/view"
)

// NDFamily implements Family for IPv6 Neighbor Discovery.
type NDFamily struct {
	IfaceMAC [6]byte
	IfaceIP  netip.Addr // link-local or global source address for solicitations
}

func (NDFamily) Name() string { return "nd" }

// EmitSolicitation builds a Neighbor Solicitation for target, sent to its
// solicited-node multicast group with the Ethernet destination set to the
// matching multicast MAC (33:33:ff:xx:xx:xx, RFC 2464 §7).
func (n NDFamily) EmitSolicitation(target netip.Addr) ([]byte, error) {
	dstIP := view.SolicitedNodeMulticast(target)
	a := dstIP.As16()
	dstMAC := []byte{0x33, 0x33, 0xff, a[13], a[14], a[15]}

	eth := &layers.Ethernet{
		SrcMAC:       n.IfaceMAC[:],
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   255,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      n.IfaceIP.AsSlice(),
		DstIP:      dstIP.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	if err := icmp6.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: n.IfaceMAC[:]},
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp6, ns); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AnswerSolicitation builds a solicited Neighbor Advertisement answering a
// Neighbor Solicitation for target (one of our own addresses), unicast
// back to the requester. §1's "answers incoming solicitations"
// responsibility; the Solicited and Override flags are both set, per RFC
// 4861 §7.2.4 ("a node... sends a solicited advertisement... the Override
// flag is set").
func (n NDFamily) AnswerSolicitation(target netip.Addr, requesterMAC [6]byte, requesterIP netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       n.IfaceMAC[:],
		DstMAC:       requesterMAC[:],
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   255,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      target.AsSlice(),
		DstIP:      requesterIP.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	if err := icmp6.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         solicitedFlag | overrideFlag,
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: n.IfaceMAC[:]},
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp6, na); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseNeighborSolicitation extracts the requester's IP/MAC and the
// queried target address from an incoming Neighbor Solicitation, used by
// processND to decide whether to answer it. ok is false when the
// solicitation carries no source-link-layer-address option (e.g. Duplicate
// Address Detection, which this core does not answer).
func ParseNeighborSolicitation(ext *view.Extracted) (requesterIP netip.Addr, requesterMAC [6]byte, target netip.Addr, ok bool) {
	target, err := netipFromSlice(ext.NDTarget.TargetAddress)
	if err != nil {
		return netip.Addr{}, [6]byte{}, netip.Addr{}, false
	}
	for _, opt := range ext.NDTarget.Options {
		if opt.Type == layers.ICMPv6OptSourceAddress && len(opt.Data) == 6 {
			copy(requesterMAC[:], opt.Data)
			return ext.IP.SrcIP, requesterMAC, target, true
		}
	}
	return netip.Addr{}, [6]byte{}, netip.Addr{}, false
}

// solicitedFlag and overrideFlag are the S and O bits of an ICMPv6
// Neighbor Advertisement's flags byte (RFC 4861 §4.4).
const (
	solicitedFlag = 0x40
	overrideFlag  = 0x20
)

// ParseNeighborAdvertisement extracts the advertised IP and MAC from an
// advertisement's target-address field plus its target-link-layer-address
// option, used by process_nd (§4.4 step 1) to feed Cache.Observe. solicited
// reports whether the Solicited flag was set (a direct reply rather than a
// gratuitous advertisement); override reports the Override flag, which
// gates whether an unsolicited advertisement may replace an already
// Resolved record's MAC (RFC 4861 §7.2.5).
func ParseNeighborAdvertisement(na *layers.ICMPv6NeighborAdvertisement) (ip netip.Addr, mac [6]byte, solicited, override, ok bool) {
	addr, err := netipFromSlice(na.TargetAddress)
	if err != nil {
		return netip.Addr{}, [6]byte{}, false, false, false
	}
	for _, opt := range na.Options {
		if opt.Type == layers.ICMPv6OptTargetAddress && len(opt.Data) == 6 {
			copy(mac[:], opt.Data)
			return addr, mac, na.Flags&solicitedFlag != 0, na.Flags&overrideFlag != 0, true
		}
	}
	return netip.Addr{}, [6]byte{}, false, false, false
}

func netipFromSlice(b []byte) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}, errInvalidAddr
	}
	return addr, nil
}
