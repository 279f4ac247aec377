// Package route defines the boundary between this core and the LPM route
// lookup it consumes but does not implement. Nothing here resolves an
// actual route; Lookup is a collaborator contract plus a stub for tests.
package route

import "net/netip"

// GrantorID names the Grantor decision service a flow's request traffic is
// bound for. The value is opaque to this core — assigned by whatever
// implements Lookup, carried unchanged through a flow's entry.
type GrantorID uint32

// Tunnel is the outer-header addressing C8 needs: which family to build the
// outer IP header in, and where it terminates. The outer source address is
// filled in by the caller from the owning worker's back-interface address,
// not by Lookup.
type Tunnel struct {
	DstIP netip.Addr
}

// Lookup resolves an inner destination address to the Grantor and tunnel
// that should carry it. Implementations live outside this core (LPM
// tables, static config, a control-plane push) — GK only ever calls
// through this interface.
type Lookup interface {
	Lookup(dst netip.Addr) (GrantorID, Tunnel, error)
}
