package page

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/mutation"
	"github.com/hazyhaar/zapelm/picker"
	"github.com/hazyhaar/zapelm/rule"
)

// Snapshot renders the enforced document. Picker overlays, dialogs and
// toasts are stripped; the hide stylesheet is kept.
func (p *Page) Snapshot(ctx context.Context) (*mutation.Snapshot, error) {
	var snap *mutation.Snapshot
	err := p.Do(ctx, func() {
		clone := p.doc.Clone()
		var drop []*html.Node
		dom.Walk(clone.Root(), func(n *html.Node) bool {
			if n.Type == html.ElementNode && picker.IsPickerElement(n) {
				drop = append(drop, n)
				return false
			}
			return true
		})
		for _, n := range drop {
			clone.Remove(n)
		}
		body := []byte(clone.Render())
		id, _ := uuid.NewV7()
		snap = &mutation.Snapshot{
			ID:        id.String(),
			PageURL:   p.url,
			PageID:    p.tabID,
			Hostname:  p.hostname,
			HTML:      body,
			HTMLHash:  mutation.HashHTML(body),
			Rules:     len(rule.Enabled(p.rules)),
			Removed:   p.engine.RecordCount(),
			Enabled:   p.enabled,
			Timestamp: time.Now().UnixMilli(),
		}
	})
	return snap, err
}

// Toasts lists the notices currently shown on the page.
func (p *Page) Toasts(ctx context.Context) ([]string, error) {
	var out []string
	err := p.Do(ctx, func() { out = p.toastMessages() })
	return out, err
}
