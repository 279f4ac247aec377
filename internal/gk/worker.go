package gk

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/tevino/abool"

	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/lls"
	"gatekeeper.io/dataplane/internal/log"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/metrics"
	"gatekeeper.io/dataplane/internal/nic"
	"gatekeeper.io/dataplane/internal/route"
	"gatekeeper.io/dataplane/internal/rss"
	"gatekeeper.io/dataplane/internal/view"
)

// Config wires one GK Worker's dependencies. Front carries inbound
// Internet traffic; Back carries both the IP-in-IP egress to the Grantor
// and, per Design Note §9's back-interface-ND open question, return
// traffic that may itself be a Neighbor Discovery packet riding the same
// RSS-steered queue as ordinary flows.
type Config struct {
	WorkerID uint32

	Front      nic.NIC
	Back       nic.NIC
	FrontIndex int
	BackIndex  int
	BackAddrs  view.IfaceAddrs // checked by IsND only on Back's queue
	BackIP     netip.Addr      // outer-header source address for Encapsulate
	BackMAC    [6]byte         // outer-header source MAC for Encapsulate

	Table  *Table
	Hasher *rss.Hasher
	Clock  Clock
	Router route.Lookup

	// Mailbox is both this worker's policy intake queue (command.Handler's
	// KindPolicyAdd) and the completion queue for its own outstanding Holds:
	// the LLS Cache's Hold callback runs on the LLS worker goroutine and
	// publishes a KindMACResolved command here rather than touching this
	// worker's mac cache directly.
	Mailbox    *mailbox.Mailbox
	LLSMailbox *mailbox.Mailbox // hand-off target for ND packets and Hold/Put requests (§2 data flow)
}

// macEntry is one next-hop IP's tunnel-MAC resolution, owned exclusively by
// the GK worker that requested it — not shared with the LLS cache it was
// resolved from.
type macEntry struct {
	mac     [6]byte
	pending bool
}

// MACResolved is the mailbox.Command.Payload shape for
// mailbox.KindMACResolved: the outcome of a Hold issued against LLS's
// resolution cache, handed back to the requesting GK worker's own mailbox.
type MACResolved struct {
	IP  netip.Addr
	MAC [6]byte
	OK  bool
}

// Worker is the GK single-threaded run-to-completion loop: RX burst on
// front (then back), classify and encapsulate each packet, drain policy
// commands. Same collapsed-single-loop shape as internal/lls.Worker, for
// the same §5 reason (no suspension point inside the fast path).
type Worker struct {
	cfg       Config
	exiting   *abool.AtomicBool
	extractor *view.Extractor
	log       log.Logger
	workerID  string

	rxBuf   []core.RawPacket
	drained []*mailbox.Command

	macCache map[netip.Addr]*macEntry
}

func NewWorker(cfg Config) *Worker {
	return &Worker{
		cfg:       cfg,
		exiting:   abool.New(),
		extractor: view.NewExtractor(),
		log:       log.GetLogger().WithField("worker", cfg.WorkerID),
		workerID:  strconv.FormatUint(uint64(cfg.WorkerID), 10),
		rxBuf:     make([]core.RawPacket, nic.BurstSize),
		macCache:  make(map[netip.Addr]*macEntry),
	}
}

// drop emits a rate-limited §7 non-fatal-error log line through w.log and
// bumps the matching per-reason drop counter in the same call, so every
// packet/policy/mailbox error this worker swallows is both observable in
// logs (at a bounded rate) and countable in Prometheus.
func (w *Worker) drop(kind string, fields map[string]interface{}) {
	log.Drop(w.log, kind, fields)
	metrics.GKDropsTotal.WithLabelValues(w.workerID, kind).Inc()
}

// Stop requests cooperative shutdown; Run notices on its next iteration.
func (w *Worker) Stop() { w.exiting.Set() }

// Run is the blocking worker loop.
func (w *Worker) Run() {
	for !w.exiting.IsSet() {
		w.runOnce()
	}
}

func (w *Worker) runOnce() {
	w.pollInterface(w.cfg.Front, w.cfg.FrontIndex, false)
	if w.cfg.Back != nil {
		w.pollInterface(w.cfg.Back, w.cfg.BackIndex, true)
	}
	w.drainPolicy()
}

// pollInterface bursts from n. checkND gates the IsND test to the back
// interface only — front-interface ARP/ND is steered straight to the LLS
// worker's own queue by the NIC's EtherType filter (§6 collaborator
// contract) and never reaches a GK worker at all.
func (w *Worker) pollInterface(n nic.NIC, ifaceIdx int, checkND bool) {
	got, err := n.RxBurst(w.rxBuf)
	if err != nil || got == 0 {
		return
	}
	for i := 0; i < got; i++ {
		w.handlePacket(w.rxBuf[i], ifaceIdx, checkND)
	}
}

func (w *Worker) handlePacket(raw core.RawPacket, ifaceIdx int, checkND bool) {
	ext, err := w.extractor.Extract(raw.Data)
	if err != nil {
		w.drop("parse-error", map[string]interface{}{"iface": ifaceIdx, "err": err})
		metrics.ParseErrorsTotal.WithLabelValues("gk", strconv.Itoa(ifaceIdx)).Inc()
		return
	}

	if checkND && ext.IP.Family == core.FamilyIPv6 && ext.IsND(w.cfg.BackAddrs) {
		w.forwardND(raw.Data, ifaceIdx)
		return
	}

	now := Cycles(raw.Timestamp)
	hash := w.cfg.Hasher.Hash(ext.Key)
	idx, ok := w.cfg.Table.Lookup(ext.Key, hash)
	if !ok {
		idx, err = w.cfg.Table.Insert(ext.Key, hash, now)
		if err != nil {
			w.drop("table-full", map[string]interface{}{"flow": ext.Key})
			metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "drop").Inc()
			return
		}
	}
	metrics.GKFlowTableSize.WithLabelValues(w.workerID).Set(float64(w.cfg.Table.Len()))

	entry := w.cfg.Table.Entry(idx)
	preState := entry.State
	verdict := Classify(now, w.cfg.Clock, entry, uint32(len(raw.Data)))
	if verdict.Reordered {
		// §4.6/§8: now < last_seen_at is treated as delta=0, priority=0,
		// and logged; the packet itself is not dropped for this reason, so
		// this goes through log.Drop directly rather than w.drop, which
		// would also bump GKDropsTotal for a packet that was forwarded.
		log.Drop(w.log, "clock-reorder", map[string]interface{}{"flow": ext.Key, "now": now})
	}
	if entry.State == StateRequest {
		metrics.GKClassifyPriority.WithLabelValues(w.workerID).Observe(float64(entry.Request.LastPriority))
	}
	if verdict.Drop {
		reason := "declined"
		if preState == StateGranted {
			reason = "over_budget"
		}
		w.drop(reason, map[string]interface{}{"flow": ext.Key})
		metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "drop").Inc()
		return
	}
	if verdict.DSCP == PriorityRenewCap {
		metrics.GKRenewalsTotal.WithLabelValues(w.workerID).Inc()
	}

	grantorID, tunnel, err := w.cfg.Router.Lookup(ext.IP.DstIP)
	if err != nil {
		w.drop("route-error", map[string]interface{}{"flow": ext.Key, "err": err})
		metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "drop").Inc()
		return
	}
	entry.GrantorID = grantorID
	entry.Tunnel = tunnel

	dstMAC, ready := w.resolveMAC(tunnel.DstIP)
	if !ready {
		w.drop("mac-unresolved", map[string]interface{}{"flow": ext.Key, "dst": tunnel.DstIP})
		metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "drop").Inc()
		return
	}

	out, err := Encapsulate(raw.Data, verdict.DSCP, w.cfg.BackIP, tunnel, w.cfg.BackMAC, dstMAC)
	if err != nil {
		w.drop("bad-state", map[string]interface{}{"flow": ext.Key, "err": err})
		metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "drop").Inc()
		return
	}

	sent, err := w.cfg.Back.TxBurst([][]byte{out})
	if err != nil || sent == 0 {
		w.drop("tx-failure", map[string]interface{}{"flow": ext.Key, "err": err})
		metrics.TxFailuresTotal.WithLabelValues("back").Inc()
		return
	}
	metrics.GKPacketsTotal.WithLabelValues(w.workerID, strconv.Itoa(ifaceIdx), "forward").Inc()
}

// resolveMAC reports the cached tunnel MAC for ip, if any, and whether it is
// ready for use. A cold or still-pending entry issues (or has already
// issued) a Hold against LLS's resolution cache and reports not-ready; the
// caller drops this packet and the next one carrying the same next-hop gets
// the answer once the Hold's callback lands.
func (w *Worker) resolveMAC(ip netip.Addr) (mac [6]byte, ready bool) {
	e, ok := w.macCache[ip]
	if !ok {
		w.macCache[ip] = &macEntry{pending: true}
		w.holdMAC(ip)
		return [6]byte{}, false
	}
	if e.pending {
		return [6]byte{}, false
	}
	return e.mac, true
}

// holdMAC publishes a KindHold command to the LLS worker's mailbox, per the
// Glossary's Hold/Put contract: "used by other data-plane workers to learn
// when a resolution becomes available." The callback itself runs on the LLS
// worker goroutine (lls.Cache's single-writer rule), so it never touches
// w.macCache directly — it hands the outcome back through this worker's own
// Mailbox instead.
func (w *Worker) holdMAC(ip netip.Addr) {
	c := w.cfg.LLSMailbox.Reserve()
	c.Kind = mailbox.KindHold
	c.Payload = lls.HoldParams{
		IP:       ip,
		WorkerID: w.cfg.WorkerID,
		Callback: w.macResolvedCallback(ip),
	}
	if err := w.cfg.LLSMailbox.Publish(c); err != nil {
		w.cfg.LLSMailbox.Free(c)
		delete(w.macCache, ip)
		w.drop("mailbox-full", map[string]interface{}{"ip": ip})
		metrics.MailboxDroppedTotal.WithLabelValues("lls").Inc()
	}
}

// macResolvedCallback builds the lls.Callback for ip's Hold: it never runs
// on this worker's own goroutine, so all it does is publish the outcome
// back onto w.cfg.Mailbox for drainPolicy to apply later.
func (w *Worker) macResolvedCallback(ip netip.Addr) lls.Callback {
	return func(mac [6]byte, ok bool) {
		c := w.cfg.Mailbox.Reserve()
		c.Kind = mailbox.KindMACResolved
		c.Payload = MACResolved{IP: ip, MAC: mac, OK: ok}
		if err := w.cfg.Mailbox.Publish(c); err != nil {
			w.cfg.Mailbox.Free(c)
			metrics.MailboxDroppedTotal.WithLabelValues("gk-" + w.workerID).Inc()
		}
	}
}

func (w *Worker) forwardND(frame []byte, ifaceIdx int) {
	c := w.cfg.LLSMailbox.Reserve()
	c.Kind = mailbox.KindND
	c.Payload = lls.NDParams{Frame: frame, Iface: ifaceIdx}
	if err := w.cfg.LLSMailbox.Publish(c); err != nil {
		w.cfg.LLSMailbox.Free(c)
		w.drop("mailbox-full", map[string]interface{}{"iface": ifaceIdx})
		metrics.MailboxDroppedTotal.WithLabelValues("lls").Inc()
	}
}

// applyMACResolved updates w.macCache with the outcome of a Hold issued by
// resolveMAC. A cancelled hold (OK false — LLS cache teardown or a
// scan-driven probe timeout with no one left to satisfy) drops the pending
// entry entirely, so the next packet to that next-hop starts a fresh Hold
// rather than getting stuck pending forever.
func (w *Worker) applyMACResolved(cmd *mailbox.Command) {
	mr, ok := cmd.Payload.(MACResolved)
	if !ok {
		return
	}
	e, ok := w.macCache[mr.IP]
	if !ok {
		return
	}
	if !mr.OK {
		delete(w.macCache, mr.IP)
		return
	}
	e.mac = mr.MAC
	e.pending = false
}

func (w *Worker) drainPolicy() {
	w.drained = w.cfg.Mailbox.Drain(w.drained, PolicyBurstSize)
	for _, cmd := range w.drained {
		w.applyPolicy(cmd)
		w.cfg.Mailbox.Free(cmd)
	}
}

func (w *Worker) applyPolicy(cmd *mailbox.Command) {
	switch cmd.Kind {
	case mailbox.KindMACResolved:
		w.applyMACResolved(cmd)
		return
	case mailbox.KindPolicyAdd:
	default:
		return
	}

	pa, ok := cmd.Payload.(PolicyAdd)
	if !ok {
		return
	}
	now := Cycles(time.Now())
	hash := w.cfg.Hasher.Hash(pa.Flow)
	if _, err := ApplyPolicy(w.cfg.Table, hash, w.cfg.Clock, now, pa); err != nil {
		// core.ErrTableFull or core.ErrUnknownPolicyState: logged and
		// ignored, per §4.7 ("unknown states are logged and ignored").
		kind := "bad-state"
		if err == core.ErrTableFull {
			kind = "table-full"
		}
		w.drop(kind, map[string]interface{}{"flow": pa.Flow, "err": err})
		metrics.GKPolicyAppliedTotal.WithLabelValues(w.workerID, "unknown").Inc()
		return
	}
	metrics.GKFlowTableSize.WithLabelValues(w.workerID).Set(float64(w.cfg.Table.Len()))
	metrics.GKPolicyAppliedTotal.WithLabelValues(w.workerID, policyStateLabel(pa.State)).Inc()
}

func policyStateLabel(s PolicyState) string {
	switch s {
	case PolicyGranted:
		return "granted"
	case PolicyDeclined:
		return "declined"
	default:
		return "unknown"
	}
}
