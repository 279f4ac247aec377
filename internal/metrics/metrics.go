// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GKPacketsTotal counts packets GK classified, by interface and verdict
	// ("forward" or "drop").
	GKPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gk_packets_total",
			Help: "Total number of packets classified by GK",
		},
		[]string{"worker", "interface", "verdict"},
	)

	// GKDropsTotal counts packets and commands GK dropped, broken down by
	// the reason (declined, over_budget, table-full, parse-error,
	// route-error, mac-unresolved, bad-state, tx-failure, mailbox-full).
	GKDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gk_drops_total",
			Help: "Total number of packets dropped by GK, by reason",
		},
		[]string{"worker", "reason"},
	)

	// GKFlowTableSize tracks the current occupancy of each worker's flow
	// table.
	GKFlowTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeeper_gk_flow_table_size",
			Help: "Current number of entries in a GK worker's flow table",
		},
		[]string{"worker"},
	)

	// GKClassifyPriority histograms the DSCP priority a REQUEST-state
	// packet was assigned.
	GKClassifyPriority = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_gk_classify_priority",
			Help:    "Priority assigned to REQUEST-state packets",
			Buckets: prometheus.LinearBuckets(0, 4, 16), // 0..60
		},
		[]string{"worker"},
	)

	// GKPolicyAppliedTotal counts POLICY_ADD commands GK applied, by the
	// resulting state (granted, declined, unknown).
	GKPolicyAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gk_policy_applied_total",
			Help: "Total number of policy decisions installed into the flow table",
		},
		[]string{"worker", "state"},
	)

	// GKRenewalsTotal counts GRANTED-state packets that carried the
	// renewal-due DSCP marker.
	GKRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gk_renewals_total",
			Help: "Total number of capability renewal markers sent",
		},
		[]string{"worker"},
	)

	// LLSResolutionsTotal counts ARP/ND resolutions observed, by address
	// family and source (solicited reply vs unsolicited advertisement).
	LLSResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_lls_resolutions_total",
			Help: "Total number of address resolutions observed",
		},
		[]string{"family", "source"},
	)

	// LLSCacheSize tracks the current number of records in an LLS cache.
	LLSCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeeper_lls_cache_size",
			Help: "Current number of records in an LLS resolution cache",
		},
		[]string{"family"},
	)

	// LLSProbesTotal counts Neighbor Solicitation/ARP Request probes sent
	// by cache Scan.
	LLSProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_lls_probes_total",
			Help: "Total number of resolution probes sent",
		},
		[]string{"family"},
	)

	// MailboxDroppedTotal counts commands dropped because a mailbox was
	// full (core.ErrMailboxFull), by mailbox name.
	MailboxDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_mailbox_dropped_total",
			Help: "Total number of commands dropped because the target mailbox was full",
		},
		[]string{"mailbox"},
	)

	// MailboxHighWater tracks the deepest a mailbox's queue has been seen,
	// by mailbox name.
	MailboxHighWater = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeeper_mailbox_high_water",
			Help: "Deepest observed queue depth of a mailbox",
		},
		[]string{"mailbox"},
	)

	// ParseErrorsTotal counts frames that failed extraction, by component.
	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_parse_errors_total",
			Help: "Total number of frames that failed to parse",
		},
		[]string{"component", "interface"},
	)

	// TxFailuresTotal counts TxBurst calls that accepted fewer frames than
	// offered.
	TxFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_tx_failures_total",
			Help: "Total number of frames a NIC's TxBurst failed to accept",
		},
		[]string{"interface"},
	)
)
