// Package progress mirrors batch counters into redis so status reads during
// processing skip the store. The mirror is advisory: writes are best-effort,
// reads fall back to the store, and nothing here is allowed to fail a batch.
package progress

import "context"

// Counters is one batch's mirrored state.
type Counters struct {
	Status      string
	Total       int64
	Processed   int64
	AutoMatched int64
	NeedsReview int64
	Unmatched   int64
}

// Delta carries per-class increments for one processed chunk.
type Delta struct {
	Processed   int
	AutoMatched int
	NeedsReview int
	Unmatched   int
}

func (d Delta) empty() bool {
	return d.Processed == 0 && d.AutoMatched == 0 && d.NeedsReview == 0 && d.Unmatched == 0
}

// Mirror is the fast-path counter store. Get returns nil on miss or error;
// callers read the authoritative store instead.
type Mirror interface {
	Enabled() bool
	Init(ctx context.Context, batchID string)
	SetTotal(ctx context.Context, batchID string, total int)
	Increment(ctx context.Context, batchID string, delta Delta)
	SetStatus(ctx context.Context, batchID, status string)
	Get(ctx context.Context, batchID string) *Counters
	Clear(ctx context.Context, batchID string)
}
