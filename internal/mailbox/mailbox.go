// Package mailbox implements the bounded multi-producer/single-consumer
// command queue (C1): producers reserve an entry, publish it, and the
// worker drains entries in bursts on its own goroutine. No entry is
// referenced again after Free.
//
// Grounded on the teacher's non-blocking channel send in
// internal/daemon/daemon.go (select on the channel with a default case
// instead of blocking the producer) generalized from a single-slot signal
// channel to a bounded, typed command queue.
package mailbox

import (
	"sync"

	"gatekeeper.io/dataplane/internal/core"
	"go.uber.org/atomic"
)

// Command is a fixed-size typed record carried by a Mailbox. Kind
// discriminates which union member is populated; mailbox itself does not
// interpret Kind, it only transports and recycles the record.
type Command struct {
	Kind    CommandKind
	Flow    core.FlowKey
	Payload any // command-specific fields, set by the producer before Publish
}

// CommandKind enumerates the command shapes the GK and LLS mailboxes carry.
type CommandKind uint8

const (
	KindUnknown CommandKind = iota
	KindPolicyAdd
	KindHold
	KindPut
	KindND
	// KindMACResolved hands a Hold's outcome back to the worker that issued
	// it, since the Hold callback itself runs on the LLS worker goroutine
	// and must not touch another worker's state directly.
	KindMACResolved
)

// Mailbox is a bounded MPSC queue of *Command. The zero value is not
// usable; construct with New.
type Mailbox struct {
	ch   chan *Command
	pool sync.Pool

	published atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	highWater atomic.Uint64
}

// New builds a Mailbox with the given fixed capacity (MAILBOX_MAX_ENTRIES).
func New(capacity int) *Mailbox {
	return &Mailbox{
		ch: make(chan *Command, capacity),
		pool: sync.Pool{
			New: func() any { return &Command{} },
		},
	}
}

// Reserve hands the caller a recycled or freshly allocated *Command to
// populate. The caller must either Publish it or return it with Free — a
// reserved entry that is silently dropped leaks the pool slot but not
// memory (the GC still reclaims it), so this is a correctness bug, not a
// safety one.
func (m *Mailbox) Reserve() *Command {
	c := m.pool.Get().(*Command)
	*c = Command{}
	return c
}

// Free returns a Command to the pool without publishing it. Used by a
// producer that reserved an entry and then decided not to send it.
func (m *Mailbox) Free(c *Command) {
	m.pool.Put(c)
}

// Publish enqueues a reserved Command for the consumer. Never blocks: if
// the queue is full it returns core.ErrMailboxFull and the caller keeps
// ownership of c (it may retry Publish or call Free).
func (m *Mailbox) Publish(c *Command) error {
	select {
	case m.ch <- c:
		m.published.Inc()
		if q := uint64(len(m.ch)); q > m.highWater.Load() {
			m.highWater.Store(q)
		}
		return nil
	default:
		m.dropped.Inc()
		return core.ErrMailboxFull
	}
}

// Drain removes up to max commands from the queue into dst (reusing its
// backing array) and returns the commands actually received. The caller
// must call Free on each entry once it has consumed the command — Drain
// itself does not recycle them, since the consumer is free to hold on to
// a command past this call (e.g. handing an ND command off to another
// worker's mailbox).
func (m *Mailbox) Drain(dst []*Command, max int) []*Command {
	dst = dst[:0]
	for i := 0; i < max; i++ {
		select {
		case c := <-m.ch:
			dst = append(dst, c)
			m.processed.Inc()
		default:
			return dst
		}
	}
	return dst
}

// Stats is a point-in-time snapshot of mailbox counters, exposed to the
// metrics and admin-status surfaces.
type Stats struct {
	Published uint64
	Processed uint64
	Dropped   uint64
	HighWater uint64
	Queued    int
}

func (m *Mailbox) Stats() Stats {
	return Stats{
		Published: m.published.Load(),
		Processed: m.processed.Load(),
		Dropped:   m.dropped.Load(),
		HighWater: m.highWater.Load(),
		Queued:    len(m.ch),
	}
}
