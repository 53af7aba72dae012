package enforce

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/rule"
)

// reconcile rebuilds the insert watches so that exactly one exists per
// active remove+observe rule. Every previous watch is disconnected first.
func (e *Engine) reconcile(valid []rule.Rule) {
	e.disconnectAll()

	root := e.doc.Body()
	if root == nil {
		root = e.doc.DocumentElement()
	}
	if root == nil {
		e.metrics.Bindings(0)
		return
	}

	for _, r := range valid {
		if r.Action != rule.Remove {
			continue
		}
		switch r.ApplyMode {
		case rule.Observe:
			e.bind(r, root)
		case rule.Immediate:
			// Swept once by ApplyRules.
		}
	}
	e.metrics.Bindings(len(e.bindings))
}

func (e *Engine) bind(r rule.Rule, root *html.Node) {
	var w *dom.Watch
	w = e.doc.Watch(root, func(inserted *html.Node) {
		e.onInsert(r.ID, w, inserted)
	})
	e.bindings[r.ID] = w
}

// onInsert handles one insert record for a binding. Records that reach a
// binding no longer current for its rule are ignored.
func (e *Engine) onInsert(ruleID string, w *dom.Watch, inserted *html.Node) {
	if e.bindings[ruleID] != w {
		return
	}
	r, ok := e.active[ruleID]
	if !ok || !e.doc.IsConnected(inserted) {
		return
	}
	sel, err := e.doc.Compile(r.Selector)
	if err != nil {
		return
	}

	var matches []*html.Node
	if e.excluded(inserted) {
		return
	}
	dom.Walk(inserted, func(n *html.Node) bool {
		if e.exclude != nil && n.Type == html.ElementNode && e.exclude(n) {
			return false
		}
		if n.Type == html.ElementNode && sel.Match(n) {
			matches = append(matches, n)
		}
		return true
	})
	removed := 0
	for _, n := range matches {
		if e.doc.IsConnected(n) {
			e.removeNode(ruleID, n)
			removed++
		}
	}
	if removed > 0 {
		e.metrics.Removed(rule.Observe, removed)
		e.logger.Debug("enforce: removed inserted matches", "rule_id", ruleID, "removed", removed)
	}
}

func (e *Engine) disconnectAll() {
	for id, w := range e.bindings {
		w.Disconnect()
		delete(e.bindings, id)
	}
}
