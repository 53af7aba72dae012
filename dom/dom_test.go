package dom

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestQueryAllExcludesScope(t *testing.T) {
	doc := mustParse(t, `<div id="outer" class="x"><div class="x"></div><p class="x"></p></div>`)
	outer, _ := doc.Query(doc.Root(), "#outer")
	if outer == nil {
		t.Fatal("outer not found")
	}
	got, err := doc.QueryAll(outer, ".x")
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches: got %d, want 2", len(got))
	}
	if Tag(got[0]) != "div" || Tag(got[1]) != "p" {
		t.Errorf("order: got %s,%s", Tag(got[0]), Tag(got[1]))
	}
}

func TestCompileInvalid(t *testing.T) {
	doc := New()
	for _, sel := range []string{"", "   ", "div[", "##a", "a >"} {
		if _, err := doc.QueryAll(doc.Root(), sel); !errors.Is(err, ErrInvalidSelector) {
			t.Errorf("%q: got %v, want ErrInvalidSelector", sel, err)
		}
	}
	if !doc.Valid("div > p:nth-of-type(2)") {
		t.Error("nth-of-type selector should compile")
	}
}

func TestInsertBeforeErrors(t *testing.T) {
	doc := mustParse(t, `<body><div id="a"><span id="b"></span></div><p id="c"></p></body>`)
	a, _ := doc.Query(doc.Root(), "#a")
	b, _ := doc.Query(doc.Root(), "#b")
	c, _ := doc.Query(doc.Root(), "#c")

	if err := doc.InsertBefore(a, doc.CreateElement("i"), c); !errors.Is(err, ErrNotChild) {
		t.Errorf("foreign ref: got %v, want ErrNotChild", err)
	}
	if err := doc.AppendChild(b, a); !errors.Is(err, ErrHierarchy) {
		t.Errorf("cycle: got %v, want ErrHierarchy", err)
	}
	// Moving an attached node detaches it first.
	if err := doc.InsertBefore(a, c, b); err != nil {
		t.Fatalf("move: %v", err)
	}
	if c.Parent != a || c.NextSibling != b {
		t.Errorf("c not moved before b")
	}
}

func TestRemoveAndConnected(t *testing.T) {
	doc := mustParse(t, `<div id="a"></div>`)
	a, _ := doc.Query(doc.Root(), "#a")
	if !doc.IsConnected(a) {
		t.Fatal("a should be connected")
	}
	doc.Remove(a)
	doc.Remove(a)
	if doc.IsConnected(a) {
		t.Error("a should be detached")
	}
}

func TestWatchDelivery(t *testing.T) {
	doc := mustParse(t, `<body><main id="m"></main></body>`)
	var seen []string
	w := doc.Watch(doc.Body(), func(n *html.Node) { seen = append(seen, Tag(n)) })

	m, _ := doc.Query(doc.Root(), "#m")
	_ = doc.AppendChild(m, doc.CreateElement("section"))
	_ = doc.AppendChild(doc.Body(), doc.CreateElement("aside"))
	// Outside the watched subtree.
	_ = doc.AppendChild(doc.Head(), doc.CreateElement("meta"))

	if doc.Pending() != 2 {
		t.Fatalf("pending: got %d, want 2", doc.Pending())
	}
	if n := doc.Deliver(); n != 2 {
		t.Errorf("delivered: got %d, want 2", n)
	}
	if strings.Join(seen, ",") != "section,aside" {
		t.Errorf("seen: got %v", seen)
	}

	_ = doc.AppendChild(m, doc.CreateElement("div"))
	w.Disconnect()
	w.Disconnect()
	if doc.Pending() != 0 {
		t.Errorf("pending after disconnect: got %d, want 0", doc.Pending())
	}
	doc.Deliver()
	if len(seen) != 2 {
		t.Errorf("callback fired after disconnect: %v", seen)
	}
}

func TestDeliverDisconnectDuringDelivery(t *testing.T) {
	doc := New()
	var w2 *Watch
	calls := 0
	doc.Watch(doc.Body(), func(*html.Node) { w2.Disconnect() })
	w2 = doc.Watch(doc.Body(), func(*html.Node) { calls++ })

	_ = doc.AppendChild(doc.Body(), doc.CreateElement("div"))
	doc.Deliver()
	if calls != 0 {
		t.Errorf("disconnected watch called %d times", calls)
	}
}

func TestStyleHelpers(t *testing.T) {
	n := New().CreateElement("div")
	SetStyle(n, "cursor", "crosshair")
	SetStyle(n, "top", "10px")
	SetStyle(n, "cursor", "auto")
	if got := Style(n, "cursor"); got != "auto" {
		t.Errorf("cursor: got %q, want %q", got, "auto")
	}
	RemoveStyle(n, "cursor")
	RemoveStyle(n, "top")
	if HasAttr(n, "style") {
		t.Errorf("style attribute should be dropped, got %q", Attr(n, "style"))
	}
}

func TestEscapeIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"main", "main"},
		{"1abc", `\31 abc`},
		{"-1a", `-\31 a`},
		{"-", `\-`},
		{"a.b", `a\.b`},
		{"a b", `a\ b`},
		{"x:y", `x\:y`},
		{"é_x-1", "é_x-1"},
	}
	for _, tt := range tests {
		if got := EscapeIdent(tt.in); got != tt.want {
			t.Errorf("EscapeIdent(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapedIDMatches(t *testing.T) {
	doc := mustParse(t, `<div id="1st.item"></div><div id="other"></div>`)
	got, err := doc.QueryAll(doc.Root(), "#"+EscapeIdent("1st.item"))
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(got) != 1 || ID(got[0]) != "1st.item" {
		t.Errorf("escaped id did not match exactly one element: %d", len(got))
	}
}

func TestXPathRoundTrip(t *testing.T) {
	doc := mustParse(t, `<html><head><title>t</title></head><body>
		<div><p>a</p></div>
		<div><p>b</p><p>c</p></div>
	</body></html>`)
	ps, _ := doc.QueryAll(doc.Root(), "p")
	want := []string{
		"/html/body/div[1]/p",
		"/html/body/div[2]/p[1]",
		"/html/body/div[2]/p[2]",
	}
	for i, p := range ps {
		xp := doc.XPath(p)
		if xp != want[i] {
			t.Errorf("XPath #%d: got %q, want %q", i, xp, want[i])
		}
		if doc.ResolveXPath(xp) != p {
			t.Errorf("ResolveXPath(%q) did not return the same node", xp)
		}
	}
	if doc.ResolveXPath("/html/body/div[3]") != nil {
		t.Error("missing step should resolve to nil")
	}
	if doc.ResolveXPath("/html/body/div[2]/p[1]/text()") == nil {
		t.Error("text() step should resolve")
	}
}

func TestXPathSkip(t *testing.T) {
	doc := mustParse(t, `<body><div id="overlay" data-owned></div><div id="real"></div></body>`)
	doc.XPathSkip = func(n *html.Node) bool { return HasAttr(n, "data-owned") }
	real, _ := doc.Query(doc.Root(), "#real")
	if got := doc.XPath(real); got != "/html/body/div" {
		t.Errorf("XPath: got %q, want %q", got, "/html/body/div")
	}
	if doc.ResolveXPath("/html/body/div") != real {
		t.Error("skip predicate not applied during resolution")
	}
	if got := PathOf(real, nil); got != "/html/body/div[2]" {
		t.Errorf("PathOf without skip: got %q", got)
	}
}

func TestCloneIndependent(t *testing.T) {
	doc := mustParse(t, `<div id="a"></div>`)
	cp := doc.Clone()
	a, _ := cp.Query(cp.Root(), "#a")
	cp.Remove(a)
	if n, _ := doc.Count(doc.Root(), "#a"); n != 1 {
		t.Errorf("original mutated by clone edit")
	}
}
