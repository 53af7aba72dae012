package enforce

import (
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/rule"
)

func newDoc(t *testing.T, body string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString("<html><head></head><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func hide(id, sel string) rule.Rule {
	return rule.Rule{ID: id, Selector: sel, Action: rule.Hide, ApplyMode: rule.Immediate, Enabled: true}
}

func remove(id, sel string, mode rule.ApplyMode) rule.Rule {
	return rule.Rule{ID: id, Selector: sel, Action: rule.Remove, ApplyMode: mode, Enabled: true}
}

func count(t *testing.T, doc *dom.Document, sel string) int {
	t.Helper()
	n, err := doc.Count(doc.Root(), sel)
	if err != nil {
		t.Fatalf("count %q: %v", sel, err)
	}
	return n
}

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) notify(msg string, _ Level) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func TestHideRuleWritesStylesheet(t *testing.T) {
	doc := newDoc(t, `<div id="ad">x</div>`)
	e := New(doc)
	e.ApplyRules([]rule.Rule{hide("r1", "#ad")})

	want := "#ad { display:none !important; visibility:hidden !important; }"
	if got := e.StyleText(); got != want {
		t.Errorf("css: got %q, want %q", got, want)
	}
	if count(t, doc, "#ad") != 1 {
		t.Error("hidden element must stay in the document")
	}
	style, _ := doc.Query(doc.Head(), "style#"+StyleID)
	if style == nil || dom.Attr(style, OriginAttr) != OriginValue {
		t.Fatal("engine stylesheet not found in head")
	}
}

func TestStylesheetJoinsWithNewline(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	e.ApplyRules([]rule.Rule{hide("a", ".x"), hide("b", ".y")})
	want := ".x { display:none !important; visibility:hidden !important; }\n" +
		".y { display:none !important; visibility:hidden !important; }"
	if got := e.StyleText(); got != want {
		t.Errorf("css: got %q, want %q", got, want)
	}
}

func TestToggleHideLeavesNoResidue(t *testing.T) {
	doc := newDoc(t, `<div class="promo"></div>`)
	e := New(doc)
	before := doc.Render()

	r := hide("r1", ".promo")
	e.ApplyRules([]rule.Rule{r})
	if e.StyleElement() == nil {
		t.Fatal("stylesheet missing")
	}
	r.Enabled = false
	e.ApplyRules([]rule.Rule{r})
	if e.StyleElement() != nil || count(t, doc, "#"+StyleID) != 0 {
		t.Error("stylesheet must be removed when no hide rule is active")
	}
	if got := doc.Render(); got != before {
		t.Errorf("document changed after toggle:\n%s\nwant\n%s", got, before)
	}
}

func TestApplyRulesIdempotent(t *testing.T) {
	doc := newDoc(t, `<div class="a"></div><div class="b"></div><p class="c"></p>`)
	e := New(doc)
	rules := []rule.Rule{
		hide("h", ".a"),
		remove("r", ".b", rule.Immediate),
		remove("o", ".c", rule.Observe),
	}
	e.ApplyRules(rules)
	first := doc.Render()
	records := e.RecordCount()

	e.ApplyRules(rules)
	if got := doc.Render(); got != first {
		t.Errorf("second apply changed the document")
	}
	if e.RecordCount() != records {
		t.Errorf("records: got %d, want %d", e.RecordCount(), records)
	}
	if got := strings.Join(e.Bindings(), ","); got != "o" {
		t.Errorf("bindings: got %q, want %q", got, "o")
	}
}

func TestImmediateRemoveAndRestore(t *testing.T) {
	doc := newDoc(t, `<ul><li>a</li><li class="x">b</li><li>c</li></ul><p class="x">tail</p>`)
	before := doc.Render()
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r1", ".x", rule.Immediate)})

	if count(t, doc, ".x") != 0 {
		t.Fatal("matches not removed")
	}
	if e.RecordCount() != 2 {
		t.Fatalf("records: got %d, want 2", e.RecordCount())
	}
	if len(e.Bindings()) != 0 {
		t.Error("immediate rule must not bind a watch")
	}

	e.Teardown()
	if n := e.Restore(); n != 2 {
		t.Errorf("restored: got %d, want 2", n)
	}
	if e.RecordCount() != 0 {
		t.Errorf("records after restore: %d", e.RecordCount())
	}
	if got := doc.Render(); got != before {
		t.Errorf("restore did not rebuild the document:\n%s\nwant\n%s", got, before)
	}
}

func TestRestoreAdjacentAndNested(t *testing.T) {
	doc := newDoc(t, `<div id="p"><span class="a">1</span><span class="b">2</span><i>3</i></div>`)
	before := doc.Render()
	e := New(doc)
	// a is recorded with b as its next sibling, then b is removed too.
	e.ApplyRules([]rule.Rule{
		remove("ra", ".a", rule.Immediate),
		remove("rb", ".b", rule.Immediate),
	})
	e.Teardown()
	if n := e.Restore(); n != 2 {
		t.Fatalf("restored: got %d, want 2", n)
	}
	if got := doc.Render(); got != before {
		t.Errorf("order not restored:\n%s\nwant\n%s", got, before)
	}
}

func TestRestoreDropsDetachedParent(t *testing.T) {
	doc := newDoc(t, `<section id="s"><b class="x"></b></section><b class="x"></b>`)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r", ".x", rule.Immediate)})
	s, _ := doc.Query(doc.Root(), "#s")
	doc.Remove(s)

	e.Teardown()
	if n := e.Restore(); n != 1 {
		t.Errorf("restored: got %d, want 1", n)
	}
	if e.RecordCount() != 0 {
		t.Errorf("failed record must be dropped")
	}
}

func TestRestoreDropsMovedSibling(t *testing.T) {
	doc := newDoc(t, `<div id="p"><span class="ad">x</span><i id="next"></i></div><div id="other"></div>`)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r", ".ad", rule.Immediate)})
	e.Teardown()

	next, _ := doc.Query(doc.Root(), "#next")
	other, _ := doc.Query(doc.Root(), "#other")
	if err := doc.AppendChild(other, next); err != nil {
		t.Fatal(err)
	}

	if n := e.Restore(); n != 0 {
		t.Errorf("restored: got %d, want 0", n)
	}
	if count(t, doc, ".ad") != 0 {
		t.Error("node restored at a position it never had")
	}
	if e.RecordCount() != 0 {
		t.Error("failed record must be dropped")
	}
}

func TestObserveRemovesLaterInsertions(t *testing.T) {
	doc := newDoc(t, `<main></main>`)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r1", ".promo", rule.Observe)})

	main, _ := doc.Query(doc.Root(), "main")
	el := doc.CreateElement("div")
	dom.SetAttr(el, "class", "promo")
	_ = doc.AppendChild(main, el)
	doc.Deliver()

	if count(t, doc, ".promo") != 0 {
		t.Fatal("inserted match not removed")
	}
	recs := e.Records()
	if len(recs) != 1 || recs[0].Node != el || recs[0].Parent != main || recs[0].RuleID != "r1" {
		t.Errorf("records: %+v", recs)
	}
}

func TestObserveMatchesDescendantsOfInserted(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r1", "span.ad", rule.Observe)})

	nodes, err := doc.ParseFragment(`<div><p><span class="ad">1</span></p><span class="ad">2</span></div>`, doc.Body())
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	_ = doc.AppendChild(doc.Body(), nodes[0])
	doc.Deliver()
	if count(t, doc, "span.ad") != 0 {
		t.Error("descendant matches not removed")
	}
	if e.RecordCount() != 2 {
		t.Errorf("records: got %d, want 2", e.RecordCount())
	}
}

func TestTeardownStopsObservation(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r1", ".promo", rule.Observe), hide("h", ".x")})

	el := doc.CreateElement("div")
	dom.SetAttr(el, "class", "promo")
	_ = doc.AppendChild(doc.Body(), el)
	// The record is queued but teardown happens before delivery.
	e.Teardown()
	doc.Deliver()

	if count(t, doc, ".promo") != 1 {
		t.Error("element removed after teardown")
	}
	if len(e.Bindings()) != 0 || e.StyleElement() != nil {
		t.Error("teardown left bindings or stylesheet")
	}
}

func TestDisabledObserveRuleUnbinds(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	r := remove("r1", ".promo", rule.Observe)
	e.ApplyRules([]rule.Rule{r})

	el := doc.CreateElement("div")
	dom.SetAttr(el, "class", "promo")
	_ = doc.AppendChild(doc.Body(), el)

	r.Enabled = false
	e.ApplyRules([]rule.Rule{r})
	doc.Deliver()
	if count(t, doc, ".promo") != 1 {
		t.Error("record from a deactivated rule was acted on")
	}
}

func TestTeardownThreeRemovalsRestore(t *testing.T) {
	doc := newDoc(t, `<div class="z">1</div><div class="z">2</div><div class="z">3</div><p>end</p>`)
	before := doc.Render()
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("r", ".z", rule.Observe)})
	if e.RecordCount() != 3 {
		t.Fatalf("records: got %d, want 3", e.RecordCount())
	}
	e.Teardown()
	if n := e.Restore(); n != 3 {
		t.Errorf("restored: got %d, want 3", n)
	}
	if e.RecordCount() != 0 {
		t.Errorf("records left: %d", e.RecordCount())
	}
	if got := doc.Render(); got != before {
		t.Errorf("document not restored")
	}
}

func TestInvalidSelectorSkipped(t *testing.T) {
	doc := newDoc(t, `<div class="ok"></div>`)
	var n notices
	e := New(doc, WithNotifier(n.notify))
	e.ApplyRules([]rule.Rule{
		hide("bad", "div["),
		remove("bad2", "::", rule.Observe),
		hide("good", ".ok"),
	})

	if strings.Contains(e.StyleText(), "div[") {
		t.Errorf("invalid selector written to stylesheet: %q", e.StyleText())
	}
	if !strings.HasPrefix(e.StyleText(), ".ok ") {
		t.Errorf("valid rule missing: %q", e.StyleText())
	}
	if len(e.Bindings()) != 0 {
		t.Errorf("invalid observe rule bound: %v", e.Bindings())
	}
	if len(n.msgs) != 2 || n.msgs[0] != "Skipped invalid selector: div[" {
		t.Errorf("notices: %v", n.msgs)
	}
}

func TestOnlyInvalidHideRemovesStylesheet(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	e.ApplyRules([]rule.Rule{hide("a", ".x")})
	e.ApplyRules([]rule.Rule{hide("a", "[[")})
	if e.StyleElement() != nil || count(t, doc, "style") != 0 {
		t.Error("stylesheet left present with no valid hide rule")
	}
}

func TestReRemovalDoesNotDuplicateRecord(t *testing.T) {
	doc := newDoc(t, `<div class="x"></div>`)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("a", ".x", rule.Observe), remove("b", "div", rule.Observe)})
	if e.RecordCount() != 1 {
		t.Fatalf("records: got %d, want 1", e.RecordCount())
	}
	rec := e.Records()[0]
	// Something else puts the node back; the next delivery removes it again.
	_ = doc.AppendChild(doc.Body(), rec.Node)
	doc.Deliver()
	if count(t, doc, ".x") != 0 {
		t.Error("reinserted node not removed")
	}
	if e.RecordCount() != 1 {
		t.Errorf("records: got %d, want 1", e.RecordCount())
	}
}

func TestBindingsRebuiltOnReapply(t *testing.T) {
	doc := newDoc(t, ``)
	e := New(doc)
	e.ApplyRules([]rule.Rule{remove("a", ".a", rule.Observe), remove("b", ".b", rule.Observe)})
	first := e.bindings["a"]
	e.ApplyRules([]rule.Rule{remove("a", ".a", rule.Observe)})
	if got := strings.Join(e.Bindings(), ","); got != "a" {
		t.Errorf("bindings: got %q", got)
	}
	if first.Connected() {
		t.Error("previous binding still connected")
	}
	if e.bindings["a"] == first {
		t.Error("binding identity reused")
	}
}
