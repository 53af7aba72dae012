package page

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/mutation"
	"github.com/hazyhaar/zapelm/rule"
)

// BatchResult reports how a batch was applied.
type BatchResult struct {
	Applied int
	Skipped int
	Gap     bool // batches were lost between the previous one and this one
}

// ApplyBatch replays source page mutations onto the mirror. Records whose
// XPath no longer resolves are skipped. Observe rules see the inserted
// nodes before ApplyBatch returns.
//
// Removed elements shift sibling indices between the source and the mirror,
// so positional XPaths may drift until the next doc_reset.
func (p *Page) ApplyBatch(ctx context.Context, b *mutation.Batch) (BatchResult, error) {
	var res BatchResult
	if b == nil {
		return res, nil
	}
	var err error
	derr := p.Do(ctx, func() {
		if p.seq != 0 && b.Seq > p.seq+1 {
			res.Gap = true
			p.logger.Warn("page: mutation batches lost", "last", p.seq, "seq", b.Seq)
		}
		if b.Seq > p.seq {
			p.seq = b.Seq
		}
		for _, rec := range b.Records {
			if rec.Op == mutation.OpDocReset {
				if err = p.reset(rec.HTML); err != nil {
					return
				}
				res.Applied++
				continue
			}
			if p.applyRecord(rec) {
				res.Applied++
			} else {
				res.Skipped++
				p.logger.Debug("page: mutation skipped", "op", rec.Op, "xpath", rec.XPath)
			}
		}
		p.changed()
	})
	if derr != nil {
		return res, derr
	}
	return res, err
}

func (p *Page) applyRecord(rec mutation.Record) bool {
	switch rec.Op {
	case mutation.OpInsert:
		parent := p.doc.ResolveXPath(rec.XPath)
		if parent == nil {
			return false
		}
		return p.insert(parent, rec)

	case mutation.OpRemove:
		n := p.doc.ResolveXPath(rec.XPath)
		if n == nil || owned(n) {
			return false
		}
		p.doc.Remove(n)
		return true

	case mutation.OpText:
		n := p.doc.ResolveXPath(rec.XPath)
		switch {
		case n == nil:
			return false
		case n.Type == html.ElementNode:
			p.doc.SetText(n, rec.Value)
		default:
			n.Data = rec.Value
		}
		return true

	case mutation.OpAttr, mutation.OpAttrDel:
		n := p.doc.ResolveXPath(rec.XPath)
		if n == nil || n.Type != html.ElementNode || rec.Name == "" {
			return false
		}
		if rec.Op == mutation.OpAttr {
			dom.SetAttr(n, rec.Name, rec.Value)
		} else {
			dom.RemoveAttr(n, rec.Name)
		}
		return true
	}
	return false
}

func (p *Page) insert(parent *html.Node, rec mutation.Record) bool {
	ref := p.nthElement(parent, rec.Position)
	var nodes []*html.Node
	switch rec.NodeType {
	case 3:
		nodes = []*html.Node{p.doc.CreateText(rec.Value)}
	case 8:
		nodes = []*html.Node{{Type: html.CommentNode, Data: rec.Value}}
	default:
		if rec.HTML == "" {
			return false
		}
		parsed, err := p.doc.ParseFragment(rec.HTML, parent)
		if err != nil {
			return false
		}
		nodes = parsed
	}
	for _, n := range nodes {
		if err := p.doc.InsertBefore(parent, n, ref); err != nil {
			return false
		}
	}
	return len(nodes) > 0
}

// nthElement returns the element child of parent at index pos, ignoring
// nodes injected by zapelm. Past the end it returns nil.
func (p *Page) nthElement(parent *html.Node, pos int) *html.Node {
	i := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || owned(c) {
			continue
		}
		if i == pos {
			return c
		}
		i++
	}
	return nil
}

// LoadHTML replaces the mirrored document and re-applies the rule set.
func (p *Page) LoadHTML(ctx context.Context, markup string) error {
	var err error
	if derr := p.Do(ctx, func() {
		err = p.reset(markup)
		if err == nil {
			p.changed()
		}
	}); derr != nil {
		return derr
	}
	return err
}

// reset swaps in a freshly parsed document. Removal records belong to the
// old tree and are dropped with it.
func (p *Page) reset(markup string) error {
	doc, err := dom.ParseString(markup)
	if err != nil {
		return fmt.Errorf("page: load html: %w", err)
	}
	p.picker.Stop()
	p.engine.Teardown()
	for _, t := range p.toasts {
		t.timer.Stop()
	}
	p.toasts = nil
	p.attach(doc)
	if p.enabled {
		p.engine.ApplyRules(p.rules)
	}
	p.logger.Debug("page: document reset", "bytes", len(markup))
	return nil
}

// DialogTarget prefixes event targets that address the open authoring
// dialog instead of the page: dialog:save, dialog:cancel, dialog:backdrop,
// dialog:enable, dialog:action=<action>, dialog:mode=<mode>.
const DialogTarget = "dialog:"

func (p *Page) resolveTarget(xpath string) *html.Node {
	if name, ok := strings.CutPrefix(xpath, DialogTarget); ok {
		return p.dialogControl(name)
	}
	n := p.doc.ResolveXPath(xpath)
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return n
}

func (p *Page) dialogControl(name string) *html.Node {
	d := p.picker.CurrentDialog()
	if d == nil {
		return nil
	}
	switch name {
	case "save":
		return d.Save
	case "cancel":
		return d.Cancel
	case "backdrop":
		return d.Backdrop
	case "enable":
		return d.Enable
	}
	if v, ok := strings.CutPrefix(name, "action="); ok {
		if a, err := rule.ParseAction(v); err == nil {
			return d.ActionInput(a)
		}
	}
	if v, ok := strings.CutPrefix(name, "mode="); ok {
		if m, err := rule.ParseApplyMode(v); err == nil {
			return d.ModeInput(m)
		}
	}
	return nil
}
