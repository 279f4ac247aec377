package lls

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/tevino/abool"

	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/log"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/metrics"
	"gatekeeper.io/dataplane/internal/nic"
	"gatekeeper.io/dataplane/internal/view"
)

// ScanInterval is LLS_CACHE_SCAN_INTERVAL from the original implementation:
// the cache is swept every 10 seconds when the worker has no other work.
const ScanInterval = 10 * time.Second

// mailboxDrainLimit bounds how many commands Run drains per loop
// iteration; §4.4 names the HOLD/PUT/ND commands but not a literal, so
// this reuses GK's policy-intake limit (§4.7) for symmetry.
const mailboxDrainLimit = 32

// Config wires one Worker's dependencies. FrontIndex/BackIndex identify
// which physical interface an ND command handed off from another worker
// (mailbox.KindND) was received on, so Worker can pick the matching
// address set and NIC.
type Config struct {
	WorkerID  uint32
	Front     nic.NIC
	Back      nic.NIC // nil when the back interface is disabled
	FrontAddr view.IfaceAddrs
	BackAddr  view.IfaceAddrs
	FrontIndex int
	BackIndex  int
	Mailbox  *mailbox.Mailbox
	ARPCache *Cache
	NDCache  *Cache
}

// Worker runs the single-threaded LLS loop of §4.4: receive, dispatch,
// drain mailbox, scan-if-idle. Structurally this collapses the teacher's
// two-goroutine pipeline.go captureLoop/processLoop into one loop, since
// §5 requires a single pinned thread with no suspension point.
type Worker struct {
	cfg       Config
	exiting   *abool.AtomicBool
	extractor *view.Extractor
	log       log.Logger
	workerID  string
	lastScan  time.Time

	rxBuf   []core.RawPacket
	drained []*mailbox.Command
}

func NewWorker(cfg Config) *Worker {
	return &Worker{
		cfg:       cfg,
		exiting:   abool.New(),
		extractor: view.NewExtractor(),
		log:       log.GetLogger().WithField("worker", cfg.WorkerID),
		workerID:  strconv.FormatUint(uint64(cfg.WorkerID), 10),
		rxBuf:     make([]core.RawPacket, nic.BurstSize),
	}
}

// drop emits a rate-limited §7 non-fatal-error log line. It bumps no
// counter; callers increment the matching metric themselves.
func (w *Worker) drop(kind string, fields map[string]interface{}) {
	log.Drop(w.log, kind, fields)
}

// Stop requests cooperative shutdown; Run notices on its next loop
// iteration and tears down both caches, cancelling every outstanding hold.
func (w *Worker) Stop() {
	w.exiting.Set()
}

// Run is the blocking worker loop. It returns once Stop has been called
// and the in-flight iteration finishes.
func (w *Worker) Run() {
	for !w.exiting.IsSet() {
		w.runOnce()
	}
	w.cfg.ARPCache.Close()
	w.cfg.NDCache.Close()
}

func (w *Worker) runOnce() {
	w.pollInterface(w.cfg.Front, w.cfg.FrontIndex, w.cfg.FrontAddr)
	if w.cfg.Back != nil {
		w.pollInterface(w.cfg.Back, w.cfg.BackIndex, w.cfg.BackAddr)
	}

	// §4.4 step 4: the timer wheel advances whenever no mailbox commands
	// were processed this iteration, independent of RX volume — mirrors
	// lls_proc's rte_timer_manage() gated on lls_process_reqs() == 0.
	if !w.drainMailbox() {
		now := time.Now()
		if now.Sub(w.lastScan) >= ScanInterval {
			w.scan(now)
			w.lastScan = now
		}
	}
}

func (w *Worker) pollInterface(n nic.NIC, ifaceIdx int, addrs view.IfaceAddrs) bool {
	got, err := n.RxBurst(w.rxBuf)
	if err != nil || got == 0 {
		return false
	}
	for i := 0; i < got; i++ {
		w.dispatch(w.rxBuf[i].Data, ifaceIdx, n, addrs)
	}
	return true
}

func (w *Worker) dispatch(raw []byte, ifaceIdx int, n nic.NIC, addrs view.IfaceAddrs) {
	ext, err := w.extractor.Extract(raw)
	if err != nil {
		w.drop("parse-error", map[string]interface{}{"iface": ifaceIdx, "err": err})
		metrics.ParseErrorsTotal.WithLabelValues("lls", strconv.Itoa(ifaceIdx)).Inc()
		return
	}

	switch {
	case ext.IsARP:
		w.processARP(ext, n, addrs)
	case ext.IP.Family == core.FamilyIPv6 && ext.IsND(addrs):
		w.processND(ext, n, addrs)
	}
}

func (w *Worker) processARP(ext *view.Extracted, n nic.NIC, addrs view.IfaceAddrs) {
	switch ext.ARP.Operation {
	case layers.ARPReply:
		ip, mac, ok := ParseARPReply(&ext.ARP)
		if !ok {
			return
		}
		w.cfg.ARPCache.Observe(ip, mac, SourceSolicited, false, time.Now())
		metrics.LLSResolutionsTotal.WithLabelValues("arp", "solicited").Inc()
		metrics.LLSCacheSize.WithLabelValues("arp").Set(float64(w.cfg.ARPCache.Len()))
	case layers.ARPRequest:
		w.answerARP(ext, n, addrs)
	}
}

// answerARP replies to an incoming ARP request naming one of our own
// addresses as target, per §1's "answers incoming solicitations"
// responsibility.
func (w *Worker) answerARP(ext *view.Extracted, n nic.NIC, addrs view.IfaceAddrs) {
	requesterIP, requesterMAC, target, ok := ParseARPRequest(&ext.ARP)
	if !ok || !addrs.Owns(target) {
		return
	}
	frame, err := w.cfg.ARPCache.AnswerSolicitation(target, requesterMAC, requesterIP)
	if err != nil {
		w.drop("reply-build-error", map[string]interface{}{"family": "arp", "err": err})
		return
	}
	if sent, err := n.TxBurst([][]byte{frame}); err != nil || sent == 0 {
		w.drop("tx-failure", map[string]interface{}{"family": "arp", "err": err})
		metrics.TxFailuresTotal.WithLabelValues(w.ifaceLabel(n)).Inc()
	}
}

func (w *Worker) processND(ext *view.Extracted, n nic.NIC, addrs view.IfaceAddrs) {
	switch ext.ICMPv6.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborAdvertisement:
		ip, mac, solicited, override, ok := ParseNeighborAdvertisement(&ext.NDAdv)
		if !ok {
			return
		}
		src := SourceUnsolicited
		if solicited {
			src = SourceSolicited
		}
		w.cfg.NDCache.Observe(ip, mac, src, override, time.Now())
		metrics.LLSResolutionsTotal.WithLabelValues("nd", sourceLabel(src)).Inc()
		metrics.LLSCacheSize.WithLabelValues("nd").Set(float64(w.cfg.NDCache.Len()))
	case layers.ICMPv6TypeNeighborSolicitation:
		w.answerND(ext, n, addrs)
	}
}

// answerND replies to an incoming Neighbor Solicitation naming one of our
// own addresses as target, per §1's "answers incoming solicitations"
// responsibility. A solicitation with no source-link-layer-address option
// (Duplicate Address Detection) is ignored, since there is no unicast
// destination to answer back to.
func (w *Worker) answerND(ext *view.Extracted, n nic.NIC, addrs view.IfaceAddrs) {
	requesterIP, requesterMAC, target, ok := ParseNeighborSolicitation(ext)
	if !ok || !addrs.Owns(target) {
		return
	}
	frame, err := w.cfg.NDCache.AnswerSolicitation(target, requesterMAC, requesterIP)
	if err != nil {
		w.drop("reply-build-error", map[string]interface{}{"family": "nd", "err": err})
		return
	}
	if sent, err := n.TxBurst([][]byte{frame}); err != nil || sent == 0 {
		w.drop("tx-failure", map[string]interface{}{"family": "nd", "err": err})
		metrics.TxFailuresTotal.WithLabelValues(w.ifaceLabel(n)).Inc()
	}
}

// ifaceLabel reports "back" when n is this worker's back NIC, "front"
// otherwise, for the TxFailuresTotal metric's interface label.
func (w *Worker) ifaceLabel(n nic.NIC) string {
	if w.cfg.Back != nil && n == w.cfg.Back {
		return "back"
	}
	return "front"
}

func sourceLabel(s Source) string {
	if s == SourceSolicited {
		return "solicited"
	}
	return "unsolicited"
}

func (w *Worker) drainMailbox() bool {
	w.drained = w.cfg.Mailbox.Drain(w.drained, mailboxDrainLimit)
	for _, cmd := range w.drained {
		w.applyCommand(cmd)
		w.cfg.Mailbox.Free(cmd)
	}
	return len(w.drained) > 0
}

func (w *Worker) applyCommand(cmd *mailbox.Command) {
	switch cmd.Kind {
	case mailbox.KindHold:
		hp, ok := cmd.Payload.(HoldParams)
		if !ok {
			return
		}
		w.cacheFor(hp.IP).Hold(hp.IP, hp.WorkerID, hp.Callback)
	case mailbox.KindPut:
		pp, ok := cmd.Payload.(PutParams)
		if !ok {
			return
		}
		w.cacheFor(pp.IP).Put(pp.IP, pp.WorkerID)
	case mailbox.KindND:
		np, ok := cmd.Payload.(NDParams)
		if !ok {
			return
		}
		w.dispatch(np.Frame, np.Iface, w.nicFor(np.Iface), w.addrsFor(np.Iface))
	}
}

func (w *Worker) scan(now time.Time) {
	w.cfg.ARPCache.Scan(now, func(frame []byte) {
		if sent, err := w.cfg.Front.TxBurst([][]byte{frame}); err != nil || sent == 0 {
			w.drop("tx-failure", map[string]interface{}{"family": "arp", "err": err})
			metrics.TxFailuresTotal.WithLabelValues("front").Inc()
		}
	})
	w.cfg.NDCache.Scan(now, func(frame []byte) {
		if sent, err := w.cfg.Front.TxBurst([][]byte{frame}); err != nil || sent == 0 {
			w.drop("tx-failure", map[string]interface{}{"family": "nd", "err": err})
			metrics.TxFailuresTotal.WithLabelValues("front").Inc()
		}
	})
	metrics.LLSCacheSize.WithLabelValues("arp").Set(float64(w.cfg.ARPCache.Len()))
	metrics.LLSCacheSize.WithLabelValues("nd").Set(float64(w.cfg.NDCache.Len()))
}

func (w *Worker) cacheFor(ip netip.Addr) *Cache {
	if ip.Is4() {
		return w.cfg.ARPCache
	}
	return w.cfg.NDCache
}

func (w *Worker) addrsFor(iface int) view.IfaceAddrs {
	if w.cfg.Back != nil && iface == w.cfg.BackIndex {
		return w.cfg.BackAddr
	}
	return w.cfg.FrontAddr
}

// nicFor returns the NIC a reply to an ND-handoff frame (mailbox.KindND)
// should be transmitted on: whichever of front/back the frame was
// originally received on, same as addrsFor picks the matching address set.
func (w *Worker) nicFor(iface int) nic.NIC {
	if w.cfg.Back != nil && iface == w.cfg.BackIndex {
		return w.cfg.Back
	}
	return w.cfg.Front
}

// HoldParams, PutParams, and NDParams are the mailbox.Command.Payload
// shapes for KindHold/KindPut/KindND, per §4.4 step 3's HOLD/PUT/ND
// command trio.
type HoldParams struct {
	IP       netip.Addr
	WorkerID uint32
	Callback Callback
}

type PutParams struct {
	IP       netip.Addr
	WorkerID uint32
}

type NDParams struct {
	Frame []byte
	Iface int
}
