// Package view implements the zero-copy packet view (C2): a parse from raw
// Ethernet bytes down to a flow key plus the protocol hints GK and LLS need,
// without touching the payload.
//
// Grounded on internal/decoder/decoder.go's reusable gopacket.DecodingLayerParser
// (same fixed layer structs decoded into repeatedly, to avoid a per-packet
// allocation on the fast path).
package view

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gatekeeper.io/dataplane/internal/core"
)

// Extracted is the result of Extract: the flow key plus enough of the
// decoded layers for IsND and the GK/LLS dispatch to work without a second
// parse pass.
type Extracted struct {
	core.View

	IsARP bool
	ARP   layers.ARP

	IsICMPv6 bool
	ICMPv6   layers.ICMPv6
	NDTarget layers.ICMPv6NeighborSolicitation
	NDAdv    layers.ICMPv6NeighborAdvertisement
}

// Extractor holds reusable gopacket layer buffers. Not safe for concurrent
// use — each worker owns its own Extractor, consistent with §5's
// single-writer-per-worker rule.
type Extractor struct {
	parser *gopacket.DecodingLayerParser

	eth    layers.Ethernet
	arp    layers.ARP
	ip4    layers.IPv4
	ip6    layers.IPv6
	icmp6  layers.ICMPv6
	ndSol  layers.ICMPv6NeighborSolicitation
	ndAdv  layers.ICMPv6NeighborAdvertisement
	payload gopacket.Payload

	decoded []gopacket.LayerType
}

// NewExtractor builds an Extractor. Only Ethernet/ARP/IPv4/IPv6/ICMPv6/ND
// are registered as decoding layers, so any TCP/UDP (or otherwise
// unrecognized) payload riding atop IPv4/IPv6 simply stops decode after the
// L3 header instead of failing it — IgnoreUnsupported lets DecodeLayers
// return cleanly with just [Ethernet, IPv4/IPv6] decoded, which is all C2
// needs (flow key, next-header hint). IPv6 extension headers are rejected
// explicitly in Extract by checking the base header's NextHeader against
// the extension-header protocol numbers, per spec §4.2 ("extension headers
// are rejected") — that check, not an unsupported-layer error, is what
// distinguishes "has an extension header" from "has an ordinary L4".
func NewExtractor() *Extractor {
	e := &Extractor{}
	e.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&e.eth, &e.arp, &e.ip4, &e.ip6, &e.icmp6, &e.ndSol, &e.ndAdv, &e.payload,
	)
	e.parser.IgnoreUnsupported = true
	return e
}

// isIPv6ExtensionHeader reports whether proto is one of the IPv6 extension
// header types (RFC 8200 §4): when the base header's NextHeader names one
// of these, decode stopped at the base header not because TCP/UDP/etc. are
// unregistered layers but because an extension header sits in between the
// base header and the true L4 protocol — exactly the case §4.2 rejects.
func isIPv6ExtensionHeader(proto layers.IPProtocol) bool {
	switch proto {
	case layers.IPProtocolIPv6HopByHop,
		layers.IPProtocolIPv6Routing,
		layers.IPProtocolIPv6Fragment,
		layers.IPProtocolIPv6Destination,
		layers.IPProtocolAH,
		layers.IPProtocolESP:
		return true
	default:
		return false
	}
}

// Extract parses an Ethernet frame into a View plus protocol hints.
// Returns core.ErrParse for anything that is not IPv4, IPv6, or ARP.
func (e *Extractor) Extract(raw []byte) (*Extracted, error) {
	e.decoded = e.decoded[:0]
	if err := e.parser.DecodeLayers(raw, &e.decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	out := &Extracted{}
	out.Raw = raw
	out.Ethernet = core.EthernetHeader{
		SrcMAC:    macArray(e.eth.SrcMAC),
		DstMAC:    macArray(e.eth.DstMAC),
		EtherType: uint16(e.eth.EthernetType),
	}

	sawL3 := false
	for _, lt := range e.decoded {
		switch lt {
		case layers.LayerTypeARP:
			out.IsARP = true
			out.ARP = e.arp

		case layers.LayerTypeIPv4:
			sawL3 = true
			out.IP = core.IPHeader{
				Family:   core.FamilyIPv4,
				SrcIP:    mustAddrFromIPv4(e.ip4.SrcIP),
				DstIP:    mustAddrFromIPv4(e.ip4.DstIP),
				NextHdr:  uint8(e.ip4.Protocol),
				TTL:      e.ip4.TTL,
				TotalLen: e.ip4.Length,
			}
			out.NextHdr = uint8(e.ip4.Protocol)
			out.L3Len = e.ip4.Length
			out.Key = core.FlowKey{Family: core.FamilyIPv4, Src: out.IP.SrcIP, Dst: out.IP.DstIP}

		case layers.LayerTypeIPv6:
			if isIPv6ExtensionHeader(e.ip6.NextHeader) {
				return nil, fmt.Errorf("%w: ipv6 extension header %d", core.ErrParse, e.ip6.NextHeader)
			}
			sawL3 = true
			out.IP = core.IPHeader{
				Family:   core.FamilyIPv6,
				SrcIP:    mustAddrFromIPv6(e.ip6.SrcIP),
				DstIP:    mustAddrFromIPv6(e.ip6.DstIP),
				NextHdr:  uint8(e.ip6.NextHeader),
				TTL:      e.ip6.HopLimit,
				TotalLen: e.ip6.Length + 40,
			}
			out.NextHdr = uint8(e.ip6.NextHeader)
			out.L3Len = out.IP.TotalLen
			out.Key = core.FlowKey{Family: core.FamilyIPv6, Src: out.IP.SrcIP, Dst: out.IP.DstIP}

		case layers.LayerTypeICMPv6:
			out.IsICMPv6 = true
			out.ICMPv6 = e.icmp6

		case layers.LayerTypeICMPv6NeighborSolicitation:
			out.NDTarget = e.ndSol

		case layers.LayerTypeICMPv6NeighborAdvertisement:
			out.NDAdv = e.ndAdv
		}
	}

	if !out.IsARP && !sawL3 {
		return nil, fmt.Errorf("%w: no IPv4/IPv6/ARP layer", core.ErrParse)
	}
	return out, nil
}

func macArray(hw []byte) [6]byte {
	var m [6]byte
	copy(m[:], hw)
	return m
}
