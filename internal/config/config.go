// Package config handles static configuration loading using viper.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"gatekeeper.io/dataplane/internal/log"
)

// GatekeeperConfig is the top-level static configuration. Maps to the
// `gatekeeper:` root key in YAML.
type GatekeeperConfig struct {
	Node    NodeConfig       `mapstructure:"node"`
	Front   InterfaceConfig  `mapstructure:"front"`
	Back    InterfaceConfig  `mapstructure:"back"`
	GK      GKConfig         `mapstructure:"gk"`
	LLS     LLSConfig        `mapstructure:"lls"`
	RSS     RSSConfig        `mapstructure:"rss"`
	Control ControlConfig    `mapstructure:"control"`
	Log     log.LoggerConfig `mapstructure:"log"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string            `mapstructure:"ip"` // empty = auto-detect
	Hostname string            `mapstructure:"hostname"`
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Interfaces ───

// InterfaceConfig describes one AF_PACKET-backed NIC and the pool of
// worker queues RSS fans its traffic out across.
type InterfaceConfig struct {
	Device      string `mapstructure:"device"`
	Workers     int    `mapstructure:"workers"`
	SnapLen     int    `mapstructure:"snap_len"`
	BlockSize   int    `mapstructure:"block_size"`
	NumBlocks   int    `mapstructure:"num_blocks"`
	FanoutID    int    `mapstructure:"fanout_id"`
	FanoutType  string `mapstructure:"fanout_type"` // hash|cpu|lb
	Promiscuous bool   `mapstructure:"promiscuous"`
}

// ─── GK ───

// GKConfig controls the per-flow decision engine.
type GKConfig struct {
	FlowTableCapacity   int    `mapstructure:"flow_table_capacity"` // must be a power of two
	MailboxCapacity     int    `mapstructure:"mailbox_capacity"`
	PicosecPerCycle     uint64 `mapstructure:"picosec_per_cycle"` // clock granularity; 1000 = 1 cycle/ns
	DefaultAllowance    uint8  `mapstructure:"default_allowance"`
	DefaultLastPriority uint8  `mapstructure:"default_last_priority"`
}

// ─── LLS ───

// LLSConfig controls the ARP/ND resolution worker.
type LLSConfig struct {
	ARPTTL          string `mapstructure:"arp_ttl"`
	NDTTL           string `mapstructure:"nd_ttl"`
	ProbeTimeout    string `mapstructure:"probe_timeout"`
	ScanInterval    string `mapstructure:"scan_interval"`
	MailboxCapacity int    `mapstructure:"mailbox_capacity"`
	BackEnabled     bool   `mapstructure:"back_enabled"` // LLS also polls the back interface for ARP/ND
}

// ─── RSS ───

// RSSConfig controls the receive-side-steering hash and redirection table
// that assign flows to GK worker queues.
type RSSConfig struct {
	RedirectionTableSize int    `mapstructure:"redirection_table_size"`
	Key                  string `mapstructure:"key"` // hex-encoded Toeplitz key; empty = rss.DefaultKey
}

// ─── Control Plane ───

// ControlConfig contains local admin control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure
// `gatekeeper: ...`.
type configRoot struct {
	Gatekeeper GatekeeperConfig `mapstructure:"gatekeeper"`
}

// Load loads configuration from file. The YAML file uses `gatekeeper:` as
// its root key; env vars use the GATEKEEPER_ prefix (e.g.
// GATEKEEPER_LOG_LEVEL).
func Load(path string) (*GatekeeperConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Gatekeeper

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values, all keyed under "gatekeeper." to match
// the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gatekeeper.control.pid_file", "/var/run/gatekeeper.pid")
	v.SetDefault("gatekeeper.control.socket", "/var/run/gatekeeper.sock")

	v.SetDefault("gatekeeper.log.level", "info")
	v.SetDefault("gatekeeper.log.pattern", "%time [%level] %msg")
	v.SetDefault("gatekeeper.log.time", "2006-01-02T15:04:05.000Z07:00")

	v.SetDefault("gatekeeper.metrics.enabled", true)
	v.SetDefault("gatekeeper.metrics.listen", ":9091")
	v.SetDefault("gatekeeper.metrics.path", "/metrics")

	v.SetDefault("gatekeeper.front.workers", 1)
	v.SetDefault("gatekeeper.front.fanout_type", "hash")
	v.SetDefault("gatekeeper.back.workers", 1)
	v.SetDefault("gatekeeper.back.fanout_type", "hash")

	v.SetDefault("gatekeeper.gk.flow_table_capacity", 1<<20)
	v.SetDefault("gatekeeper.gk.mailbox_capacity", 512)
	v.SetDefault("gatekeeper.gk.picosec_per_cycle", 1000) // 1 cycle = 1ns
	v.SetDefault("gatekeeper.gk.default_allowance", 7)
	v.SetDefault("gatekeeper.gk.default_last_priority", 38)

	v.SetDefault("gatekeeper.lls.arp_ttl", "10m")
	v.SetDefault("gatekeeper.lls.nd_ttl", "10m")
	v.SetDefault("gatekeeper.lls.probe_timeout", "3s")
	v.SetDefault("gatekeeper.lls.scan_interval", "10s")
	v.SetDefault("gatekeeper.lls.mailbox_capacity", 512)
	v.SetDefault("gatekeeper.lls.back_enabled", true)

	v.SetDefault("gatekeeper.rss.redirection_table_size", 128)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults (node IP/hostname auto-detect).
func (cfg *GatekeeperConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	if cfg.Front.Device == "" {
		return fmt.Errorf("front.device is required")
	}
	if cfg.Back.Device == "" {
		return fmt.Errorf("back.device is required")
	}

	if cfg.RSS.Key != "" {
		if _, err := hex.DecodeString(cfg.RSS.Key); err != nil {
			return fmt.Errorf("rss.key: not valid hex: %w", err)
		}
	}

	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: explicit value from config/env -> auto-detect -> error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 { // link-local
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set GATEKEEPER_NODE_IP or gatekeeper.node.ip")
}
