package view

import "net/netip"

func mustAddrFromIPv4(ip []byte) netip.Addr {
	if len(ip) != 4 {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte{ip[0], ip[1], ip[2], ip[3]})
}

func mustAddrFromIPv6(ip []byte) netip.Addr {
	if len(ip) != 16 {
		return netip.Addr{}
	}
	var b [16]byte
	copy(b[:], ip)
	return netip.AddrFrom16(b)
}
