// Package gk implements the Gatekeeper per-flow decision engine: the flow
// table (C5), the REQUEST/GRANTED/DECLINED state machine (C6), policy
// intake (C7), and outer-header encapsulation (C8).
package gk

import (
	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/route"
)

// State is a flow entry's position in the REQUEST -> GRANTED -> DECLINED
// machine (§3). Exactly one of Request/Granted/Declined on Entry is
// meaningful at a time, selected by State — accessing another state's
// block is a design error, not a runtime-checked one (Design Note §9).
type State uint8

const (
	StateRequest State = iota
	StateGranted
	StateDeclined
)

func (s State) String() string {
	switch s {
	case StateRequest:
		return "request"
	case StateGranted:
		return "granted"
	case StateDeclined:
		return "declined"
	default:
		return "invalid"
	}
}

// StartPriority and ResetAllowance are the flow-entry initial/reset values
// from §3 ("initial last_priority = 38, initial allowance = 7"). The
// original C source's START_ALLOWANCE is 8 and only ever used to compute
// START_ALLOWANCE-1=7 at both init and at every allowance reset; this core
// keeps the single derived constant instead of carrying the off-by-one
// literal forward.
const (
	StartPriority  uint8 = 38
	ResetAllowance uint8 = 7
	PriorityGranted uint8 = 1
	PriorityRenewCap uint8 = 2
	PriorityMax     uint8 = 63
)

// PolicyBurstSize is GK_CMD_BURST_SIZE from the original source: the number
// of policy commands §4.7 drains per loop iteration.
const PolicyBurstSize = 32

// RequestState is the REQUEST block of the tagged union (§3). LastSeenAt is
// a monotonic cycle count, not wall-clock time.
type RequestState struct {
	LastSeenAt   uint64
	LastPriority uint8
	Allowance    uint8
}

// GrantedState is the GRANTED block. TxRateKBCycle keeps the original's
// field name despite holding a per-second rate (§4.7 assigns it directly
// from tx_rate_kb_sec) — the renewal period is fixed at one second, so
// "per cycle" and "per second" coincide here.
type GrantedState struct {
	CapExpireAt       uint64
	BudgetRenewAt     uint64
	BudgetByte        uint64
	TxRateKBCycle     uint64
	SendNextRenewalAt uint64
	RenewalStepCycle  uint64
}

// DeclinedState is the DECLINED block.
type DeclinedState struct {
	ExpireAt uint64
}

// Entry is one flow's state, stored at the stable index the flow table
// returned on insertion (§3, §4.5).
type Entry struct {
	Key       core.FlowKey
	State     State
	GrantorID route.GrantorID
	Tunnel    route.Tunnel

	Request  RequestState
	Granted  GrantedState
	Declined DeclinedState
}

// ReinitRequest resets e to a freshly created REQUEST-state flow, per the
// original's shared initialize_flow_entry/reinitialize_flow_entry: the key
// (and GrantorID/Tunnel, carried from the last route_lookup) survive;
// everything state-specific is rebuilt from scratch with LastSeenAt=now.
func (e *Entry) ReinitRequest(now uint64) {
	e.State = StateRequest
	e.Granted = GrantedState{}
	e.Declined = DeclinedState{}
	e.Request = RequestState{
		LastSeenAt:   now,
		LastPriority: StartPriority,
		Allowance:    ResetAllowance,
	}
}
