package mailbox

import (
	"errors"
	"net/netip"
	"testing"

	"gatekeeper.io/dataplane/internal/core"
)

func TestPublishAndDrain(t *testing.T) {
	mb := New(4)

	c := mb.Reserve()
	c.Kind = KindPolicyAdd
	c.Flow = core.FlowKey{Family: core.FamilyIPv4, Src: netip.MustParseAddr("10.0.0.1")}
	if err := mb.Publish(c); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := mb.Drain(nil, 32)
	if len(got) != 1 {
		t.Fatalf("Drain returned %d commands, want 1", len(got))
	}
	if got[0].Kind != KindPolicyAdd {
		t.Errorf("Kind = %v, want KindPolicyAdd", got[0].Kind)
	}
	mb.Free(got[0])
}

func TestPublishFullReturnsErrMailboxFull(t *testing.T) {
	mb := New(2)
	for i := 0; i < 2; i++ {
		c := mb.Reserve()
		c.Kind = KindHold
		if err := mb.Publish(c); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	c := mb.Reserve()
	err := mb.Publish(c)
	if !errors.Is(err, core.ErrMailboxFull) {
		t.Fatalf("Publish on full mailbox: err = %v, want ErrMailboxFull", err)
	}
	mb.Free(c)

	if got := mb.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestDrainRespectsMaxPerIteration(t *testing.T) {
	mb := New(8)
	for i := 0; i < 5; i++ {
		c := mb.Reserve()
		c.Kind = KindPut
		if err := mb.Publish(c); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	first := mb.Drain(nil, 3)
	if len(first) != 3 {
		t.Fatalf("first Drain = %d commands, want 3", len(first))
	}
	for _, c := range first {
		mb.Free(c)
	}

	second := mb.Drain(nil, 32)
	if len(second) != 2 {
		t.Fatalf("second Drain = %d commands, want 2", len(second))
	}
	for _, c := range second {
		mb.Free(c)
	}
}

func TestDrainOnEmptyMailboxReturnsEmpty(t *testing.T) {
	mb := New(4)
	got := mb.Drain(nil, 32)
	if len(got) != 0 {
		t.Fatalf("Drain on empty mailbox = %d commands, want 0", len(got))
	}
}

func TestStatsTracksHighWater(t *testing.T) {
	mb := New(8)
	var cs []*Command
	for i := 0; i < 3; i++ {
		c := mb.Reserve()
		if err := mb.Publish(c); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
		cs = append(cs, c)
	}
	if hw := mb.Stats().HighWater; hw != 3 {
		t.Errorf("HighWater = %d, want 3", hw)
	}

	drained := mb.Drain(nil, 32)
	for _, c := range drained {
		mb.Free(c)
	}
	if hw := mb.Stats().HighWater; hw != 3 {
		t.Errorf("HighWater after drain = %d, want still 3 (high-water mark doesn't decay)", hw)
	}
}
