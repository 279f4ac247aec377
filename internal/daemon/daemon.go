// Package daemon implements the Gatekeeper dataplane process lifecycle:
// wiring NIC queues, GK/LLS workers, and the admin control plane, then
// running them to completion under signal-driven shutdown.
package daemon

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"gatekeeper.io/dataplane/internal/command"
	"gatekeeper.io/dataplane/internal/config"
	"gatekeeper.io/dataplane/internal/gk"
	"gatekeeper.io/dataplane/internal/lls"
	"gatekeeper.io/dataplane/internal/log"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/metrics"
	"gatekeeper.io/dataplane/internal/nic"
	"gatekeeper.io/dataplane/internal/route"
	"gatekeeper.io/dataplane/internal/rss"
	"gatekeeper.io/dataplane/internal/view"
)

// Daemon manages the Gatekeeper daemon process lifecycle: one GK worker per
// configured front-interface queue, a single LLS worker, the admin UDS
// control plane, and the Prometheus metrics server.
type Daemon struct {
	config     *config.GatekeeperConfig
	configPath string
	socketPath string
	pidFile    string
	log        log.Logger

	front []nic.NIC
	back  []nic.NIC

	gkWorkers   []*gk.Worker
	gkMailboxes []*mailbox.Mailbox
	hasher      *rss.Hasher
	redirection *rss.Table

	llsWorker  *lls.Worker
	llsMailbox *mailbox.Mailbox
	arpCache   *lls.Cache
	ndCache    *lls.Cache

	cmdHandler    *command.Handler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server

	wg conc.WaitGroup

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	startedAt    time.Time
}

// New loads configuration and builds a Daemon. Nothing is started until
// Start is called.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		log:          log.GetLogger(),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start opens NIC queues, builds the RSS redirection table, and launches
// every GK worker plus the LLS worker and the admin control plane. Partial
// failure unwinds everything already opened.
func (d *Daemon) Start() error {
	log.Init(&d.config.Log)
	d.log = log.GetLogger()
	d.log.WithFields(map[string]interface{}{
		"front": d.config.Front.Device,
		"back":  d.config.Back.Device,
	}).Info("starting gatekeeper daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("daemon: start metrics: %w", err)
	}

	if err := d.startWorkers(); err != nil {
		d.stopMetrics()
		d.removePIDFile()
		return err
	}

	d.startedAt = time.Now()

	if err := d.startControlPlane(); err != nil {
		d.stopWorkers()
		d.stopMetrics()
		d.removePIDFile()
		return fmt.Errorf("daemon: start control plane: %w", err)
	}

	d.log.Info("gatekeeper daemon started")
	return nil
}

// startWorkers opens one NIC handle per configured front/back queue, builds
// the shared RSS redirection table and per-family LLS caches, and launches
// every GK worker plus the single LLS worker on its own goroutine. Workers
// are single-threaded run-to-completion loops, one per core.
func (d *Daemon) startWorkers() error {
	front, err := d.openQueues(d.config.Front)
	if err != nil {
		return fmt.Errorf("daemon: open front queues: %w", err)
	}
	d.front = front

	back, err := d.openQueues(d.config.Back)
	if err != nil {
		d.closeAll(d.front)
		return fmt.Errorf("daemon: open back queues: %w", err)
	}
	d.back = back

	table, err := rss.Build(d.config.Front.Workers)
	if err != nil {
		d.closeAll(d.front)
		d.closeAll(d.back)
		return fmt.Errorf("daemon: build rss redirection table: %w", err)
	}
	d.redirection = table
	d.hasher = d.buildHasher()

	backMAC, backAddrs, err := interfaceAddrs(d.config.Back.Device)
	if err != nil {
		d.closeAll(d.front)
		d.closeAll(d.back)
		return fmt.Errorf("daemon: resolve back interface address: %w", err)
	}
	backIP, err := firstUnicast(backAddrs)
	if err != nil {
		d.closeAll(d.front)
		d.closeAll(d.back)
		return fmt.Errorf("daemon: resolve back interface address: %w", err)
	}

	if err := d.startLLS(); err != nil {
		d.closeAll(d.front)
		d.closeAll(d.back)
		return err
	}

	router := route.Static{} // real route lookup is an external collaborator, not implemented here
	backAddrView := view.IfaceAddrs{Unicast: backAddrs}

	d.gkMailboxes = make([]*mailbox.Mailbox, d.config.Front.Workers)
	d.gkWorkers = make([]*gk.Worker, d.config.Front.Workers)
	for i := 0; i < d.config.Front.Workers; i++ {
		flowTable, err := gk.New(d.config.GK.FlowTableCapacity)
		if err != nil {
			d.closeAll(d.front)
			d.closeAll(d.back)
			return fmt.Errorf("daemon: build gk flow table: %w", err)
		}
		mb := mailbox.New(d.config.GK.MailboxCapacity)
		d.gkMailboxes[i] = mb

		w := gk.NewWorker(gk.Config{
			WorkerID:   uint32(i),
			Front:      d.front[i],
			Back:       d.queueFor(d.back, i),
			FrontIndex: 0,
			BackIndex:  1,
			BackAddrs:  backAddrView,
			BackIP:     backIP,
			BackMAC:    backMAC,
			Table:      flowTable,
			Hasher:     d.hasher,
			Clock:      gk.Clock{PicosecPerCycle: d.config.GK.PicosecPerCycle},
			Router:     router,
			Mailbox:    mb,
			LLSMailbox: d.llsMailbox,
		})
		d.gkWorkers[i] = w
	}

	for _, w := range d.gkWorkers {
		worker := w
		d.wg.Go(worker.Run)
	}
	d.wg.Go(d.llsWorker.Run)

	return nil
}

// startLLS opens the LLS worker's own front/back NIC handles with the
// ARP/ND steering filter installed and builds both resolution caches.
func (d *Daemon) startLLS() error {
	frontMAC, frontAddrs, err := interfaceAddrs(d.config.Front.Device)
	if err != nil {
		return fmt.Errorf("daemon: resolve front interface: %w", err)
	}
	backMAC, backAddrs, err := interfaceAddrs(d.config.Back.Device)
	if err != nil {
		return fmt.Errorf("daemon: resolve back interface: %w", err)
	}

	filter, err := nic.ARPAndNDFilter()
	if err != nil {
		return fmt.Errorf("daemon: build arp/nd filter: %w", err)
	}

	llsFront, err := nic.Open(nic.Config{
		Interface:  d.config.Front.Device,
		FanoutID:   d.config.Front.FanoutID,
		FanoutType: d.config.Front.FanoutType,
		BPFFilter:  filter,
	})
	if err != nil {
		return fmt.Errorf("daemon: open lls front queue: %w", err)
	}

	var llsBack nic.NIC
	if d.config.LLS.BackEnabled {
		h, err := nic.Open(nic.Config{
			Interface:  d.config.Back.Device,
			FanoutID:   d.config.Back.FanoutID,
			FanoutType: d.config.Back.FanoutType,
			BPFFilter:  filter,
		})
		if err != nil {
			llsFront.Close()
			return fmt.Errorf("daemon: open lls back queue: %w", err)
		}
		llsBack = h
	}

	arpTTL, err := parseDurationDefault(d.config.LLS.ARPTTL, 10*time.Minute)
	if err != nil {
		return err
	}
	ndTTL, err := parseDurationDefault(d.config.LLS.NDTTL, 10*time.Minute)
	if err != nil {
		return err
	}
	probeTimeout, err := parseDurationDefault(d.config.LLS.ProbeTimeout, 3*time.Second)
	if err != nil {
		return err
	}

	d.arpCache = lls.New(lls.ARPFamily{IfaceMAC: frontMAC, IfaceIP: pickIPv4(frontAddrs)}, lls.CacheConfig{TTL: arpTTL, ProbeTimeout: probeTimeout})
	d.ndCache = lls.New(lls.NDFamily{IfaceMAC: frontMAC, IfaceIP: pickIPv6(frontAddrs)}, lls.CacheConfig{TTL: ndTTL, ProbeTimeout: probeTimeout})

	d.llsMailbox = mailbox.New(d.config.LLS.MailboxCapacity)
	d.llsWorker = lls.NewWorker(lls.Config{
		WorkerID:   0,
		Front:      llsFront,
		Back:       llsBack,
		FrontAddr:  view.IfaceAddrs{Unicast: frontAddrs},
		BackAddr:   view.IfaceAddrs{Unicast: backAddrs},
		FrontIndex: 0,
		BackIndex:  1,
		Mailbox:    d.llsMailbox,
		ARPCache:   d.arpCache,
		NDCache:    d.ndCache,
	})

	// backMAC is unused today: the back interface's NDFamily/ARPFamily
	// solicitations are emitted from the front family's MAC, since both
	// caches are shared across the front/back queue pair rather than
	// split into a second family. TODO: give the back interface its own
	// solicitation identity if it ever needs to resolve neighbors that
	// the front family's cache can't answer for.
	_ = backMAC
	return nil
}

// startControlPlane wires the admin command handler and starts the UDS
// server on its own goroutine.
func (d *Daemon) startControlPlane() error {
	d.cmdHandler = command.NewHandler(command.HandlerConfig{
		Workers:     d.gkMailboxes,
		Redirection: d.redirection,
		Hasher:      d.hasher,
		Clock:       gk.Clock{PicosecPerCycle: d.config.GK.PicosecPerCycle},
		Reloader:    d,
		StartedAt:   d.startedAt,
	})
	d.cmdHandler.SetShutdownFunc(func() {
		d.log.Info("shutdown triggered via admin.shutdown command")
		close(d.shutdownChan)
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	d.wg.Go(func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			d.log.WithError(err).Error("uds server failed")
		}
	})
	return nil
}

// Stop performs graceful shutdown of every component, in roughly the
// reverse order Start brought them up, aggregating every stage's teardown
// error instead of abandoning the remaining stages at the first failure.
func (d *Daemon) Stop() {
	d.log.Info("initiating graceful shutdown")

	var err error
	if d.udsServer != nil {
		err = multierr.Append(err, d.udsServer.Stop())
	}

	d.stopWorkers()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	err = multierr.Append(err, d.stopMetrics())
	d.cancel()
	d.wg.Wait()

	err = multierr.Append(err, d.removePIDFile())

	if err != nil {
		d.log.WithError(err).Error("errors during shutdown")
	}
	d.log.Info("gatekeeper daemon stopped gracefully")
}

func (d *Daemon) stopWorkers() {
	for _, w := range d.gkWorkers {
		w.Stop()
	}
	if d.llsWorker != nil {
		d.llsWorker.Stop()
	}
	d.closeAll(d.front)
	d.closeAll(d.back)
}

func (d *Daemon) stopMetrics() error {
	if d.metricsServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.metricsServer.Stop(shutdownCtx)
}

// Run blocks until shutdown is triggered by signal or by the admin
// control plane's admin.shutdown command. SIGHUP triggers Reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	d.log.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.log.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				d.log.Info("received reload signal")
				if err := d.Reload(); err != nil {
					d.log.WithError(err).Error("failed to reload config")
				}
			}
		case <-d.shutdownChan:
			d.log.Info("shutdown triggered by command")
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.log.WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads static configuration. Only the ambient concerns
// (logging, metrics) are hot-reloadable; interface/worker topology
// requires a restart since NIC handles and flow tables are already sized.
func (d *Daemon) Reload() error {
	d.log.WithField("path", d.configPath).Info("reloading configuration")

	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("daemon: reload config: %w", err)
	}

	oldLevel := d.config.Log.Level
	d.config.Log = newCfg.Log
	log.Init(&d.config.Log)
	d.log = log.GetLogger()

	requiresRestart := []string{}
	if newCfg.Front.Device != d.config.Front.Device || newCfg.Front.Workers != d.config.Front.Workers {
		requiresRestart = append(requiresRestart, "front")
	}
	if newCfg.Back.Device != d.config.Back.Device {
		requiresRestart = append(requiresRestart, "back")
	}

	d.log.WithFields(map[string]interface{}{
		"log_level_changed": oldLevel != newCfg.Log.Level,
		"requires_restart":  requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.log.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// openQueues opens one NIC handle per configured worker, all joined to the
// same fanout group so the kernel's own RSS-equivalent hash spreads frames
// across them; handle index N is worker N's queue.
func (d *Daemon) openQueues(ic config.InterfaceConfig) ([]nic.NIC, error) {
	queues := make([]nic.NIC, ic.Workers)
	for i := 0; i < ic.Workers; i++ {
		h, err := nic.Open(nic.Config{
			Interface:   ic.Device,
			SnapLen:     ic.SnapLen,
			BlockSize:   ic.BlockSize,
			NumBlocks:   ic.NumBlocks,
			FanoutID:    ic.FanoutID,
			FanoutType:  ic.FanoutType,
			Promiscuous: ic.Promiscuous,
		})
		if err != nil {
			for j := 0; j < i; j++ {
				queues[j].Close()
			}
			return nil, err
		}
		queues[i] = h
	}
	return queues, nil
}

func (d *Daemon) queueFor(queues []nic.NIC, i int) nic.NIC {
	if i < len(queues) {
		return queues[i]
	}
	return nil
}

func (d *Daemon) closeAll(queues []nic.NIC) {
	for _, q := range queues {
		if q != nil {
			q.Close()
		}
	}
}

// buildHasher constructs the RSS hasher from the configured hex key, or
// rss.DefaultKey when none is set.
func (d *Daemon) buildHasher() *rss.Hasher {
	if d.config.RSS.Key == "" {
		return rss.New(nil)
	}
	key, err := hexDecode(d.config.RSS.Key)
	if err != nil {
		d.log.WithError(err).Warn("invalid rss.key, falling back to default key")
		return rss.New(nil)
	}
	return rss.New(key)
}

// interfaceAddrs resolves a named interface's hardware address and
// configured unicast addresses via net.InterfaceByName and its Addrs.
func interfaceAddrs(device string) (mac [6]byte, addrs []netip.Addr, err error) {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return mac, nil, fmt.Errorf("interface %s: %w", device, err)
	}
	if len(iface.HardwareAddr) == 6 {
		copy(mac[:], iface.HardwareAddr)
	}

	ifaceAddrs, err := iface.Addrs()
	if err != nil {
		return mac, nil, fmt.Errorf("interface %s: addrs: %w", device, err)
	}
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addrs = append(addrs, addr.Unmap())
	}
	return mac, addrs, nil
}

// firstUnicast returns the first address in addrs, preferring an IPv4
// address since the encapsulation outer source is the gateway's
// IPv4-mapped identity in the common deployment.
func firstUnicast(addrs []netip.Addr) (netip.Addr, error) {
	if v4 := pickIPv4(addrs); v4.IsValid() {
		return v4, nil
	}
	if v6 := pickIPv6(addrs); v6.IsValid() {
		return v6, nil
	}
	return netip.Addr{}, fmt.Errorf("no usable unicast address")
}

func pickIPv4(addrs []netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.Is4() {
			return a
		}
	}
	return netip.Addr{}
}

func pickIPv6(addrs []netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.Is6() && !a.Is4In6() {
			return a
		}
	}
	return netip.Addr{}
}

// parseDurationDefault parses s as a time.Duration, falling back to def
// when s is empty.
func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

