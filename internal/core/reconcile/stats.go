package reconcile

import (
	"sync/atomic"

	"github.com/zeusync/annosync/internal/core/record"
)

// Direction of a propagation.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// CollectionStats counts items per collection. Inbound and Outbound count
// items applied to the surface and to the replica; Echoes counts notifications
// dropped because this engine caused them; Skipped counts items of unsupported
// shape or without a target; Failures counts items whose application failed.
type CollectionStats struct {
	Inbound  uint64
	Outbound uint64
	Echoes   uint64
	Skipped  uint64
	Failures uint64
}

// Stats is a snapshot of the engine counters.
type Stats map[record.Collection]CollectionStats

// Total sums the counters of every collection.
func (s Stats) Total() CollectionStats {
	var t CollectionStats
	for _, c := range s {
		t.Inbound += c.Inbound
		t.Outbound += c.Outbound
		t.Echoes += c.Echoes
		t.Skipped += c.Skipped
		t.Failures += c.Failures
	}
	return t
}

// Report describes one handled batch. Err joins the failures of the batch.
type Report struct {
	Collection record.Collection
	Direction  Direction
	Applied    int
	Skipped    int
	Failed     int
	Err        error
}

type counters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
	echoes   atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

func (c *counters) snapshot() CollectionStats {
	return CollectionStats{
		Inbound:  c.inbound.Load(),
		Outbound: c.outbound.Load(),
		Echoes:   c.echoes.Load(),
		Skipped:  c.skipped.Load(),
		Failures: c.failures.Load(),
	}
}
