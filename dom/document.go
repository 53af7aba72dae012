// Package dom provides a live, mutable HTML document built on
// golang.org/x/net/html. It supports CSS queries, insert observation and
// XPath addressing, so page logic can run against a mirrored copy of a
// browser page.
//
// A Document is not safe for concurrent use. Callers serialize access,
// typically by owning it from a single goroutine.
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrInvalidSelector is returned when a CSS selector cannot be compiled.
	ErrInvalidSelector = errors.New("dom: invalid selector")
	// ErrNotChild is returned by InsertBefore when the reference node is not
	// a child of the target parent.
	ErrNotChild = errors.New("dom: reference node is not a child of parent")
	// ErrHierarchy is returned when an insertion would create a cycle.
	ErrHierarchy = errors.New("dom: node is an ancestor of parent")
)

// Document is a live HTML tree.
type Document struct {
	root *html.Node

	watches []*Watch
	queue   []insertRecord

	selectors map[string]cascadia.Selector
	invalid   map[string]error

	// XPathSkip, when set, hides nodes from XPath indexing and resolution.
	// Page-owned nodes (overlays, injected styles) are skipped so that paths
	// stay aligned with the source page.
	XPathSkip func(*html.Node) bool
}

// New returns an empty document: <html><head></head><body></body></html>.
func New() *Document {
	doc, err := ParseString("<!DOCTYPE html><html><head></head><body></body></html>")
	if err != nil {
		// html.Parse does not fail on in-memory input.
		panic(err)
	}
	return doc
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return newDocument(root), nil
}

// ParseString parses an HTML document held in memory.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func newDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		selectors: make(map[string]cascadia.Selector),
		invalid:   make(map[string]error),
	}
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node { return d.topLevel(atom.Head) }

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node { return d.topLevel(atom.Body) }

func (d *Document) topLevel(a atom.Atom) *html.Node {
	de := d.DocumentElement()
	if de == nil {
		return nil
	}
	for c := de.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// CreateElement returns a detached element with the given tag.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateText returns a detached text node.
func (d *Document) CreateText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// ParseFragment parses markup in the context of parent and returns the
// detached top-level nodes.
func (d *Document) ParseFragment(markup string, parent *html.Node) ([]*html.Node, error) {
	ctx := parent
	if ctx == nil || ctx.Type != html.ElementNode {
		ctx = d.Body()
	}
	if ctx == nil {
		ctx = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

// AppendChild appends child as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) error {
	return d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child into parent before ref. A nil ref appends.
// A child that is attached elsewhere is detached first.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	if parent == nil || child == nil {
		return fmt.Errorf("dom: insert: nil node")
	}
	if ref != nil && ref.Parent != parent {
		return ErrNotChild
	}
	for p := parent; p != nil; p = p.Parent {
		if p == child {
			return ErrHierarchy
		}
	}
	if ref == child {
		ref = child.NextSibling
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	d.queueInsert(child)
	return nil
}

// Remove detaches node from its parent. Detached nodes are left alone.
func (d *Document) Remove(node *html.Node) {
	if node == nil || node.Parent == nil {
		return
	}
	node.Parent.RemoveChild(node)
}

// IsConnected reports whether node is attached to this document.
func (d *Document) IsConnected(node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// Contains reports whether node is ancestor or a descendant of ancestor.
func Contains(ancestor, node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// ElementChildren returns the element children of n in order.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Walk visits n and its descendants in document order. Returning false
// from fn skips the node's subtree.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}
