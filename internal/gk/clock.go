package gk

import "time"

// picosecPerSecond and picosecPerMillisecond convert the wall-clock units
// policy parameters arrive in (seconds, milliseconds) into cycles via a
// Clock's PicosecPerCycle, per §4.6/§4.7's cycles_per_second/cycles_per_ms.
const (
	picosecPerSecond      = 1_000_000_000_000
	picosecPerMillisecond = 1_000_000_000
)

// Clock converts between the monotonic cycle counter classification runs
// against and real time, via the picosec_per_cycle constant named
// throughout §4.6. There is no rdtsc-equivalent in portable Go, so the
// worker drives cycles from a monotonic wall-clock reading (see Cycles)
// rather than a CPU timestamp counter; PicosecPerCycle=1000 makes one
// cycle equal one nanosecond, which keeps CyclesPerSecond/CyclesPerMillisecond
// exact integers.
type Clock struct {
	PicosecPerCycle uint64
}

// DefaultClock is the one-cycle-per-nanosecond mapping. Workers use the
// Clock in their Config (the daemon builds it from gk.picosec_per_cycle);
// tests construct their own Clock to land delta computations on convenient
// round numbers.
var DefaultClock = Clock{PicosecPerCycle: 1000}

// CyclesPerSecond returns how many cycles make up one second under this
// clock's conversion rate.
func (c Clock) CyclesPerSecond() uint64 {
	return picosecPerSecond / c.PicosecPerCycle
}

// CyclesPerMillisecond returns how many cycles make up one millisecond.
func (c Clock) CyclesPerMillisecond() uint64 {
	return picosecPerMillisecond / c.PicosecPerCycle
}

// Cycles reads t as a cycle count under DefaultClock's one-cycle-per-
// nanosecond convention, giving the worker a monotonic "now" to classify
// against without a hardware cycle counter.
func Cycles(t time.Time) uint64 {
	return uint64(t.UnixNano())
}
