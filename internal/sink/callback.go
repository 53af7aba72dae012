package sink

import (
	"context"

	"github.com/hazyhaar/zapelm/mutation"
)

// SnapshotFunc is called for each snapshot.
type SnapshotFunc func(ctx context.Context, snap mutation.Snapshot) error

// Callback delivers snapshots through a Go function call.
type Callback struct {
	fn SnapshotFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn SnapshotFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if c.fn != nil {
		return c.fn(ctx, snap)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
