// Package sink defines output backends for cleaned page snapshots.
package sink

import (
	"context"
	"fmt"

	"github.com/hazyhaar/zapelm/internal/render"
	"github.com/hazyhaar/zapelm/mutation"
)

// Sink receives snapshots. Implementations deliver them to different
// backends (stdout, webhook, in-process callback).
type Sink interface {
	SendSnapshot(ctx context.Context, snap mutation.Snapshot) error
	Close() error
}

// Rendered converts each snapshot's document to a format before handing it
// to the wrapped sink. The hash keeps describing the enforced HTML.
type Rendered struct {
	next     Sink
	renderer *render.Renderer
	format   render.Format
}

// NewRendered wraps next. Format HTML passes snapshots through unchanged.
func NewRendered(next Sink, r *render.Renderer, f render.Format) *Rendered {
	return &Rendered{next: next, renderer: r, format: f}
}

func (s *Rendered) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if s.format != render.HTML {
		out, err := s.renderer.Render(&snap, s.format)
		if err != nil {
			return fmt.Errorf("sink: %w", err)
		}
		snap.HTML = out
	}
	return s.next.SendSnapshot(ctx, snap)
}

func (s *Rendered) Close() error { return s.next.Close() }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
