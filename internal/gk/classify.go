package gk

import (
	"math/bits"

	"gatekeeper.io/dataplane/internal/core"
)

// Verdict is the outcome of classifying one packet against a flow entry:
// either drop it, or encapsulate it with the given DSCP. Reordered reports
// the §4.6/§8 now<last_seen_at edge case (clock wrap or a concurrent
// timestamp anomaly) even though it never drops the packet itself —
// Classify has no logger handle of its own, so the caller surfaces this to
// its own rate-limited §7 log line.
type Verdict struct {
	Drop      bool
	DSCP      uint8
	Reordered bool
}

// Classify runs §4.6 against e in place and returns what the caller should
// do with the packet. now is a monotonic cycle count (see Clock/Cycles);
// pktLen is only consulted on the GRANTED path's budget check.
func Classify(now uint64, clk Clock, e *Entry, pktLen uint32) Verdict {
	switch e.State {
	case StateRequest:
		return classifyRequest(now, clk, e)
	case StateGranted:
		return classifyGranted(now, clk, e, pktLen)
	case StateDeclined:
		return classifyDeclined(now, clk, e, pktLen)
	default:
		return Verdict{Drop: true}
	}
}

// priorityFromDelta is step 1's integer log2 of a picosecond delta,
// implemented with bits.Len64 (a count-leading-zeros primitive) rather
// than a float log2, per §4.6's "using a count-leading-zeros primitive".
// Callers only reach this for delta >= 1.
func priorityFromDelta(deltaPicosec uint64) uint8 {
	return uint8(bits.Len64(deltaPicosec) - 1)
}

// classifyRequest implements §4.6's REQUEST path.
//
// now < LastSeenAt (reordered/wrapped timestamp) and a genuine zero delta
// are both folded into one branch here: §4.6's edge case note and §8's
// boundary behavior both specify "treated as delta=0, priority=0" without
// running the packet through the allowance-override comparison at all —
// a delta of zero can't "lose" to any stored last_priority in a meaningful
// sense, so this branch always claims the allowance (if any remains) and
// resets last_priority to 0 outright, rather than falling into either arm
// of step 3's generic comparison. This is the one place this core's
// reading of the delta=0 case diverges from a literal application of the
// original C's branch (which would instead apply the allowance-override
// arm verbatim and report the flow's old, higher last_priority) — chosen
// because it is the only reading that reproduces §8 scenario 1's recorded
// dscp=3, last_priority=0 outcome alongside its allowance=6.
//
// The reordered sub-case is additionally required by §4.6/§8 to be
// "logged" — surfaced here as Verdict.Reordered rather than logged
// directly, since Classify is a pure function with no logger handle.
func classifyRequest(now uint64, clk Clock, e *Entry) Verdict {
	r := &e.Request
	reordered := now < r.LastSeenAt

	var deltaPicosec uint64
	if !reordered {
		deltaPicosec = (now - r.LastSeenAt) * clk.PicosecPerCycle
	}
	r.LastSeenAt = now

	if reordered || deltaPicosec < 1 {
		if r.Allowance > 0 {
			r.Allowance--
		}
		r.LastPriority = 0
		return Verdict{DSCP: core.DSCPFromPriority(0), Reordered: reordered}
	}

	priority := priorityFromDelta(deltaPicosec)

	// Strict '<' is required (§4.6 step 3): equality means the source
	// waited long enough to re-earn its tier and should receive a fresh
	// allowance rather than spend one.
	if priority < r.LastPriority && r.Allowance > 0 {
		r.Allowance--
		priority = r.LastPriority
	} else {
		r.LastPriority = priority
		r.Allowance = ResetAllowance
	}

	return Verdict{DSCP: core.DSCPFromPriority(priority)}
}

// classifyGranted implements §4.6's GRANTED path.
func classifyGranted(now uint64, clk Clock, e *Entry, pktLen uint32) Verdict {
	g := &e.Granted

	if now >= g.CapExpireAt {
		e.ReinitRequest(now)
		return classifyRequest(now, clk, e)
	}

	if now >= g.BudgetRenewAt {
		g.BudgetByte = g.TxRateKBCycle * 1024
		g.BudgetRenewAt = now + clk.CyclesPerSecond()
	}

	if uint64(pktLen) > g.BudgetByte {
		return Verdict{Drop: true}
	}
	g.BudgetByte -= uint64(pktLen)

	if now >= g.SendNextRenewalAt {
		g.SendNextRenewalAt = now + g.RenewalStepCycle
		return Verdict{DSCP: PriorityRenewCap}
	}
	return Verdict{DSCP: PriorityGranted}
}

// classifyDeclined implements §4.6's DECLINED path.
func classifyDeclined(now uint64, clk Clock, e *Entry, pktLen uint32) Verdict {
	if now >= e.Declined.ExpireAt {
		e.ReinitRequest(now)
		return classifyRequest(now, clk, e)
	}
	return Verdict{Drop: true}
}
