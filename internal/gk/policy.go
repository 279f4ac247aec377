package gk

import "gatekeeper.io/dataplane/internal/core"

// PolicyState is the decision a POLICY_ADD command installs (§4.7).
type PolicyState uint8

const (
	PolicyUnknown PolicyState = iota
	PolicyGranted
	PolicyDeclined
)

// GrantParams is the GRANTED-specific payload of a POLICY_ADD command, in
// the units the decision producer speaks (seconds, milliseconds, KB/s)
// rather than cycles — ApplyPolicy does the cycle conversion.
type GrantParams struct {
	TxRateKBSec   uint64
	CapExpireSec  uint64
	NextRenewalMS uint64
	RenewalStepMS uint64
}

// DeclineParams is the DECLINED-specific payload.
type DeclineParams struct {
	ExpireSec uint64
}

// PolicyAdd is the mailbox.Command.Payload shape for mailbox.KindPolicyAdd,
// carrying §4.7's POLICY_ADD(flow, state, params).
type PolicyAdd struct {
	Flow    core.FlowKey
	State   PolicyState
	Grant   GrantParams
	Decline DeclineParams
}

// ApplyPolicy resolves the flow entry for pa.Flow (inserting a fresh
// REQUEST-state entry if this is the first anything — packet or policy —
// seen for the flow) and installs the decision, per §4.7. hash must be the
// RSS hash of pa.Flow, computed once by the caller.
//
// Idempotent decline (§8 law): DECLINED's ExpireAt is always assigned
// directly from the current now, never accumulated onto a prior value, so
// applying the same DECLINED policy twice with two different now values
// produces the second now's ExpireAt and nothing else.
func ApplyPolicy(t *Table, hash uint32, clk Clock, now uint64, pa PolicyAdd) (*Entry, error) {
	idx, err := t.Insert(pa.Flow, hash, now)
	if err != nil {
		return nil, err
	}
	e := t.Entry(idx)

	switch pa.State {
	case PolicyGranted:
		e.State = StateGranted
		e.Granted = GrantedState{
			CapExpireAt:       now + pa.Grant.CapExpireSec*clk.CyclesPerSecond(),
			TxRateKBCycle:     pa.Grant.TxRateKBSec,
			SendNextRenewalAt: now + pa.Grant.NextRenewalMS*clk.CyclesPerMillisecond(),
			RenewalStepCycle:  pa.Grant.RenewalStepMS * clk.CyclesPerMillisecond(),
			BudgetRenewAt:     now + clk.CyclesPerSecond(),
			BudgetByte:        pa.Grant.TxRateKBSec * 1024,
		}
	case PolicyDeclined:
		e.State = StateDeclined
		e.Declined = DeclinedState{
			ExpireAt: now + pa.Decline.ExpireSec*clk.CyclesPerSecond(),
		}
	default:
		return e, core.ErrUnknownPolicyState
	}
	return e, nil
}
