package rss

import (
	"fmt"
	"strconv"

	"github.com/serialx/hashring"
)

// TableSize is the redirection table size the policy-routing computation
// in §4.7 requires (128 entries).
const TableSize = 128

// Table maps a reduced RSS hash (hash % TableSize) to the RX queue that
// owns it, mirroring the table the NIC itself is programmed with at
// setup_rss time. Built once at startup from the configured queue count;
// never mutated on the fast path.
type Table struct {
	entries [TableSize]int // RX queue index per bucket
}

// Build assigns each of the TableSize buckets to one of numQueues RX
// queues, using a consistent-hash ring over the queue identifiers so the
// assignment stays even and changes minimally if numQueues grows later.
// This is a startup-time construction problem — "spread N buckets evenly
// over M queues" — not the per-packet hash itself, which must match the
// NIC's Toeplitz function exactly and cannot go through a ring.
func Build(numQueues int) (*Table, error) {
	if numQueues <= 0 {
		return nil, fmt.Errorf("rss: numQueues must be positive, got %d", numQueues)
	}

	nodes := make([]string, numQueues)
	for i := range nodes {
		nodes[i] = strconv.Itoa(i)
	}
	ring := hashring.New(nodes)

	t := &Table{}
	for bucket := 0; bucket < TableSize; bucket++ {
		node, ok := ring.GetNode(strconv.Itoa(bucket))
		if !ok {
			return nil, fmt.Errorf("rss: empty hash ring building bucket %d", bucket)
		}
		queue, err := strconv.Atoi(node)
		if err != nil {
			return nil, fmt.Errorf("rss: malformed ring node %q: %w", node, err)
		}
		t.entries[bucket] = queue
	}
	return t, nil
}

// QueueFor reduces hash modulo TableSize and returns the owning RX queue,
// per §4.7's "reduces it modulo the NIC's RSS redirection-table size,
// reads the target RX queue from the redirection table".
func (t *Table) QueueFor(hash uint32) int {
	return t.entries[int(hash%TableSize)]
}
