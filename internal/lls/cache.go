// Package lls implements the Link-Layer Support resolution cache (C3) and
// its single run-to-completion worker (C4): ARP for IPv4, Neighbor
// Discovery for IPv6, behind one shared per-record state machine.
//
// cache.go's map-plus-periodic-cleanup shape is grounded on
// internal/core/decoder/reassembly.go's Reassembler (a map of in-flight
// records swept by a scan instead of per-record timers). Here the scan is
// polled from the worker loop rather than run on its own goroutine, since
// §5 forbids a background goroutine touching state the worker owns, and
// the map has no mutex because only that worker touches it.
package lls

import (
	"net/netip"
	"time"

	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/metrics"
)

// State is a record's position in the Unresolved → Resolved → Stale →
// Probing state machine (§4.3).
type State uint8

const (
	StateUnresolved State = iota
	StateResolved
	StateStale
	StateProbing
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolved:
		return "resolved"
	case StateStale:
		return "stale"
	case StateProbing:
		return "probing"
	default:
		return "invalid"
	}
}

// Source distinguishes a resolution learned from a direct reply to our own
// solicitation from one learned by merely observing an unsolicited
// advertisement on the wire. Only a solicited reply may promote a Stale or
// Probing entry straight back to Resolved without waiting on quorum; both
// may create a new record.
type Source uint8

const (
	SourceUnsolicited Source = iota
	SourceSolicited
)

// Callback is invoked on the LLS worker goroutine with the resolved MAC, or
// with ok=false when the hold is cancelled (cache teardown or a scan-driven
// removal). Put removes a hold without invoking its callback.
type Callback func(mac [6]byte, ok bool)

// Family abstracts the two concrete protocols (ARP over IPv4, ND over
// IPv6) the cache is parameterized by (Design Note §9's capability
// interface).
type Family interface {
	// Name identifies the family for logging and metrics.
	Name() string
	// EmitSolicitation builds the wire frame that probes for ip's MAC,
	// addressed from the interface's own address/MAC.
	EmitSolicitation(ip netip.Addr) ([]byte, error)
	// AnswerSolicitation builds the wire frame that answers a request for
	// target (one of our own addresses), unicast back to the requester's
	// MAC/IP: an ARP reply or a solicited Neighbor Advertisement.
	AnswerSolicitation(target netip.Addr, requesterMAC [6]byte, requesterIP netip.Addr) ([]byte, error)
}

// record is one cached IP→MAC mapping with its pending holds.
type record struct {
	ip              netip.Addr
	mac             [6]byte
	state           State
	lastConfirmedAt time.Time
	ttlDeadline     time.Time
	probingSince    time.Time
	holds           map[uint32]Callback
}

// CacheConfig controls per-family cache timing.
type CacheConfig struct {
	TTL          time.Duration // time a Resolved record stays fresh before going Stale
	ProbeTimeout time.Duration // time a Probing record waits for a reply before removal
}

// Cache is the per-family resolution table. Not safe for concurrent use —
// owned exclusively by the LLS worker, consistent with §5's single-writer
// rule; Hold/Put/Observe/Scan are all called from that one goroutine.
type Cache struct {
	family  Family
	cfg     CacheConfig
	records map[netip.Addr]*record
}

// New builds an empty Cache for the given family.
func New(family Family, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Cache{
		family:  family,
		cfg:     cfg,
		records: make(map[netip.Addr]*record),
	}
}

// Hold resolves ip synchronously if the cache already holds a fresh
// mapping, invoking cb before returning. Otherwise it registers cb against
// workerID (replacing any prior hold from the same worker) and returns
// pending — cb fires later from Observe or from a teardown cancellation.
func (c *Cache) Hold(ip netip.Addr, workerID uint32, cb Callback) (resolved bool) {
	r, ok := c.records[ip]
	if !ok {
		r = &record{ip: ip, state: StateUnresolved, holds: make(map[uint32]Callback)}
		c.records[ip] = r
	}

	if r.state == StateResolved {
		cb(r.mac, true)
		return true
	}

	if r.holds == nil {
		r.holds = make(map[uint32]Callback)
	}
	r.holds[workerID] = cb
	return false
}

// Put removes workerID's hold from ip's record, if any. The record itself
// is left in place for scan to reap once its TTL has elapsed and no holds
// remain.
func (c *Cache) Put(ip netip.Addr, workerID uint32) {
	r, ok := c.records[ip]
	if !ok {
		return
	}
	delete(r.holds, workerID)
}

// Observe merges a resolution learned from a direct reply to our own
// solicitation (source=SourceSolicited) or from an unsolicited
// advertisement seen on the wire (source=SourceUnsolicited). A solicited
// reply always updates and promotes straight to Resolved. An unsolicited
// advertisement is held to RFC 4861 §7.2.5: it may update an existing
// Resolved record's MAC only when override is set, and it may only create
// a brand new record in the Stale state — never promote straight to a
// trusted Resolved — so a following probe still confirms it before any
// hold is satisfied from it.
func (c *Cache) Observe(ip netip.Addr, mac [6]byte, source Source, override bool, now time.Time) {
	r, ok := c.records[ip]

	if source == SourceSolicited {
		if !ok {
			r = &record{ip: ip, holds: make(map[uint32]Callback)}
			c.records[ip] = r
		}
		changed := r.state != StateResolved || r.mac != mac
		r.mac = mac
		r.state = StateResolved
		r.lastConfirmedAt = now
		r.ttlDeadline = now.Add(c.cfg.TTL)
		r.probingSince = time.Time{}
		if changed {
			c.resolveHolds(r, mac)
		}
		return
	}

	if !ok {
		c.records[ip] = &record{ip: ip, mac: mac, state: StateStale, holds: make(map[uint32]Callback)}
		return
	}
	if r.state == StateResolved {
		if !override || r.mac == mac {
			return
		}
		r.mac = mac
		r.state = StateStale
		return
	}
	r.mac = mac
	r.state = StateStale
}

func (c *Cache) resolveHolds(r *record, mac [6]byte) {
	for id, cb := range r.holds {
		cb(mac, true)
		delete(r.holds, id)
	}
}

// Scan sweeps every record once per call, driven periodically by the LLS
// worker (every 10 seconds per the original's LLS_CACHE_SCAN_INTERVAL).
// An Unresolved record (just created by Hold, never yet probed) is probed
// immediately. A Resolved record whose TTL has elapsed moves to Stale and
// immediately re-probes (moving to Probing); a Probing record whose probe
// has timed out with no holds left is removed, cancelling any stragglers;
// one still held is re-probed. xmit sends the solicitation frame the
// caller is responsible for handing to TxBurst.
func (c *Cache) Scan(now time.Time, xmit func(frame []byte)) {
	for ip, r := range c.records {
		switch r.state {
		case StateUnresolved:
			c.probe(r, now, xmit)
		case StateResolved:
			if now.Before(r.ttlDeadline) {
				continue
			}
			r.state = StateStale
			fallthrough
		case StateStale:
			c.probe(r, now, xmit)
		case StateProbing:
			if now.Before(r.probingSince.Add(c.cfg.ProbeTimeout)) {
				continue
			}
			if len(r.holds) == 0 {
				c.cancel(r)
				delete(c.records, ip)
				continue
			}
			c.probe(r, now, xmit)
		}
	}
}

func (c *Cache) probe(r *record, now time.Time, xmit func(frame []byte)) {
	r.state = StateProbing
	r.probingSince = now
	frame, err := c.family.EmitSolicitation(r.ip)
	if err != nil || xmit == nil {
		return
	}
	metrics.LLSProbesTotal.WithLabelValues(c.family.Name()).Inc()
	xmit(frame)
}

func (c *Cache) cancel(r *record) {
	for id, cb := range r.holds {
		cb([6]byte{}, false)
		delete(r.holds, id)
	}
}

// Close cancels every outstanding hold across every record, per §4.4's
// "on exit all caches are destroyed, which calls every remaining hold's
// callback with a cancelled status".
func (c *Cache) Close() {
	for ip, r := range c.records {
		c.cancel(r)
		delete(c.records, ip)
	}
}

// Len reports the current number of records held by the cache, resolved or
// not, exposed to internal/metrics' LLSCacheSize gauge.
func (c *Cache) Len() int {
	return len(c.records)
}

// Lookup returns the current MAC for ip without registering a hold. GK
// workers do not call it; they keep their own per-worker MAC cache fed by
// Hold callbacks.
func (c *Cache) Lookup(ip netip.Addr) (mac [6]byte, resolved bool) {
	r, ok := c.records[ip]
	if !ok || r.state != StateResolved {
		return [6]byte{}, false
	}
	return r.mac, true
}

// AnswerSolicitation builds the wire frame answering a request for target
// (one of our own addresses), delegating to the cache's Family.
func (c *Cache) AnswerSolicitation(target netip.Addr, requesterMAC [6]byte, requesterIP netip.Addr) ([]byte, error) {
	return c.family.AnswerSolicitation(target, requesterMAC, requesterIP)
}

// AddressFamily returns the address family this cache serves.
func (c *Cache) AddressFamily() core.AddressFamily {
	if c.family == nil {
		return core.FamilyUnknown
	}
	switch c.family.Name() {
	case "arp":
		return core.FamilyIPv4
	case "nd":
		return core.FamilyIPv6
	default:
		return core.FamilyUnknown
	}
}
