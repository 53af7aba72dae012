// Package enforce applies hide and remove rules to a live document and
// keeps enough state to undo removals.
//
// An Engine belongs to one page. It is not safe for concurrent use: the
// page serializes every call, including insert deliveries.
package enforce

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/rule"
)

const (
	// StyleID is the id of the engine-owned hide stylesheet.
	StyleID = "zapelm-hide-style"
	// OriginAttr marks nodes injected by zapelm.
	OriginAttr = "data-origin"
	// OriginValue is the value of OriginAttr on injected nodes.
	OriginValue = "zapelm"

	hideDeclarations = "{ display:none !important; visibility:hidden !important; }"
)

// ErrRestoreFailed wraps the cause of a removal that could not be undone.
var ErrRestoreFailed = errors.New("enforce: restore failed")

// Level is the severity of a user notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// Notifier surfaces user-visible notices.
type Notifier func(message string, level Level)

// RemovalRecord remembers where a removed node lived.
type RemovalRecord struct {
	RuleID      string
	Parent      *html.Node
	NextSibling *html.Node
	Node        *html.Node
}

// Engine enforces a rule set on one document.
type Engine struct {
	doc     *dom.Document
	logger  *slog.Logger
	notify  Notifier
	metrics Metrics
	exclude func(*html.Node) bool

	style    *html.Node
	active   map[string]rule.Rule
	bindings map[string]*dom.Watch
	records  []RemovalRecord
	tracked  map[*html.Node]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets the notice sink for non-fatal warnings.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithExclude keeps matching nodes, and their subtrees, out of removal.
// Nodes injected by the page itself are excluded this way.
func WithExclude(fn func(*html.Node) bool) Option {
	return func(e *Engine) { e.exclude = fn }
}

// New creates an engine for doc.
func New(doc *dom.Document, opts ...Option) *Engine {
	e := &Engine{
		doc:      doc,
		active:   make(map[string]rule.Rule),
		bindings: make(map[string]*dom.Watch),
		tracked:  make(map[*html.Node]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e
}

// ApplyRules replaces the rule set and enforces it from scratch. Disabled
// rules have no effect. Rules whose selector does not compile are skipped
// and reported once through the notifier. Calling it twice with the same
// rules leaves the document in the same state.
func (e *Engine) ApplyRules(rules []rule.Rule) {
	enabled := rule.Enabled(rules)

	var valid []rule.Rule
	for _, r := range enabled {
		if _, err := e.doc.Compile(r.Selector); err != nil {
			e.logger.Warn("enforce: skipped invalid selector", "rule_id", r.ID, "selector", r.Selector, "error", err)
			e.metrics.InvalidSelector()
			if e.notify != nil {
				e.notify("Skipped invalid selector: "+r.Selector, LevelError)
			}
			continue
		}
		valid = append(valid, r)
	}

	e.active = make(map[string]rule.Rule, len(valid))
	for _, r := range valid {
		e.active[r.ID] = r
	}

	e.writeStylesheet(valid)

	for _, r := range valid {
		switch r.Action {
		case rule.Remove:
			e.sweep(r)
		case rule.Hide:
			// Covered by the stylesheet.
		}
	}

	e.reconcile(valid)
	e.metrics.RulesApplied(len(valid))
	e.logger.Debug("enforce: rules applied", "total", len(rules), "active", len(valid), "bindings", len(e.bindings))
}

// Teardown removes the stylesheet and disconnects every binding. Removal
// records are kept so Restore can run afterwards.
func (e *Engine) Teardown() {
	e.removeStylesheet()
	e.disconnectAll()
	e.active = make(map[string]rule.Rule)
	e.metrics.Bindings(0)
}

// Restore reinserts every removed node at its recorded position, most recent
// removal first, and clears the records. Nodes that cannot be restored are
// dropped. It returns the number of nodes reinserted.
func (e *Engine) Restore() int {
	restored := 0
	for i := len(e.records) - 1; i >= 0; i-- {
		rec := e.records[i]
		if err := e.restoreOne(rec); err != nil {
			e.logger.Debug("enforce: restore failed", "rule_id", rec.RuleID, "error", err)
			e.metrics.RestoreFailed()
			continue
		}
		restored++
	}
	e.records = nil
	e.tracked = make(map[*html.Node]bool)
	e.metrics.Restored(restored)
	return restored
}

func (e *Engine) restoreOne(rec RemovalRecord) error {
	if rec.Parent == nil || !e.doc.IsConnected(rec.Parent) {
		return fmt.Errorf("%w: parent detached", ErrRestoreFailed)
	}
	if err := e.doc.InsertBefore(rec.Parent, rec.Node, rec.NextSibling); err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	return nil
}

// Records returns a copy of the removal records, oldest first.
func (e *Engine) Records() []RemovalRecord {
	return append([]RemovalRecord(nil), e.records...)
}

// RecordCount returns the number of tracked removals.
func (e *Engine) RecordCount() int { return len(e.records) }

// Bindings returns the rule ids with a live insert watch, sorted.
func (e *Engine) Bindings() []string {
	ids := make([]string, 0, len(e.bindings))
	for id := range e.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StyleElement returns the hide stylesheet element, or nil when absent.
func (e *Engine) StyleElement() *html.Node { return e.style }

// StyleText returns the current hide stylesheet text.
func (e *Engine) StyleText() string {
	if e.style == nil {
		return ""
	}
	return dom.Text(e.style)
}

// HideCSS builds the stylesheet text for the given selectors.
func HideCSS(selectors []string) string {
	lines := make([]string, len(selectors))
	for i, s := range selectors {
		lines[i] = s + " " + hideDeclarations
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) writeStylesheet(valid []rule.Rule) {
	var selectors []string
	for _, r := range valid {
		if r.Action == rule.Hide {
			selectors = append(selectors, r.Selector)
		}
	}
	if len(selectors) == 0 {
		e.removeStylesheet()
		return
	}
	css := HideCSS(selectors)
	if e.style == nil || !e.doc.IsConnected(e.style) {
		e.style = e.doc.CreateElement("style")
		dom.SetAttr(e.style, "id", StyleID)
		dom.SetAttr(e.style, OriginAttr, OriginValue)
		e.doc.SetText(e.style, css)
		if err := e.doc.AppendChild(e.styleParent(), e.style); err != nil {
			e.logger.Error("enforce: inject stylesheet", "error", err)
			e.style = nil
		}
		return
	}
	e.doc.SetText(e.style, css)
}

func (e *Engine) styleParent() *html.Node {
	if h := e.doc.Head(); h != nil {
		return h
	}
	if b := e.doc.Body(); b != nil {
		return b
	}
	if de := e.doc.DocumentElement(); de != nil {
		return de
	}
	return e.doc.Root()
}

func (e *Engine) removeStylesheet() {
	if e.style == nil {
		return
	}
	e.doc.Remove(e.style)
	e.style = nil
}

// sweep removes every current match of a remove rule.
func (e *Engine) sweep(r rule.Rule) {
	nodes, err := e.doc.QueryAll(e.doc.Root(), r.Selector)
	if err != nil {
		return
	}
	removed := 0
	for _, n := range nodes {
		if e.excluded(n) || !e.doc.IsConnected(n) {
			continue
		}
		e.removeNode(r.ID, n)
		removed++
	}
	if removed > 0 {
		e.metrics.Removed(r.ApplyMode, removed)
		e.logger.Debug("enforce: swept", "rule_id", r.ID, "selector", r.Selector, "removed", removed)
	}
}

func (e *Engine) excluded(n *html.Node) bool {
	if e.exclude == nil {
		return false
	}
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && e.exclude(c) {
			return true
		}
	}
	return false
}

// removeNode records n and detaches it. A node already tracked is detached
// again without a second record.
func (e *Engine) removeNode(ruleID string, n *html.Node) {
	if !e.doc.IsConnected(n) {
		return
	}
	if !e.tracked[n] {
		e.records = append(e.records, RemovalRecord{
			RuleID:      ruleID,
			Parent:      n.Parent,
			NextSibling: n.NextSibling,
			Node:        n,
		})
		e.tracked[n] = true
	}
	e.doc.Remove(n)
}
