package route

import "net/netip"

// Static is a Lookup that resolves every destination to the same
// pre-configured Grantor and tunnel. Useful for tests and for a
// single-Grantor deployment where no real LPM table is wired up yet.
type Static struct {
	Grantor GrantorID
	Tunnel  Tunnel
}

func (s Static) Lookup(netip.Addr) (GrantorID, Tunnel, error) {
	return s.Grantor, s.Tunnel, nil
}
