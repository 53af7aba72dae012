package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Compile parses a CSS selector group. Results are cached per document.
func (d *Document) Compile(selector string) (cascadia.Selector, error) {
	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	if err, ok := d.invalid[selector]; ok {
		return nil, err
	}
	sel, err := Compile(selector)
	if err != nil {
		d.invalid[selector] = err
		return nil, err
	}
	d.selectors[selector] = sel
	return sel, nil
}

// Compile parses a CSS selector group without caching.
func Compile(selector string) (cascadia.Selector, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, selector, err)
	}
	return sel, nil
}

// Valid reports whether selector compiles.
func (d *Document) Valid(selector string) bool {
	_, err := d.Compile(selector)
	return err == nil
}

// QueryAll returns the descendants of scope matching selector, in document
// order. scope itself is never included.
func (d *Document) QueryAll(scope *html.Node, selector string) ([]*html.Node, error) {
	sel, err := d.Compile(selector)
	if err != nil {
		return nil, err
	}
	return MatchAll(scope, sel), nil
}

// MatchAll returns the descendants of scope matched by sel.
func MatchAll(scope *html.Node, sel cascadia.Selector) []*html.Node {
	var out []*html.Node
	for c := scope.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, func(n *html.Node) bool {
			if n.Type == html.ElementNode && sel.Match(n) {
				out = append(out, n)
			}
			return true
		})
	}
	return out
}

// Query returns the first descendant of scope matching selector, or nil.
func (d *Document) Query(scope *html.Node, selector string) (*html.Node, error) {
	sel, err := d.Compile(selector)
	if err != nil {
		return nil, err
	}
	var found *html.Node
	for c := scope.FirstChild; c != nil && found == nil; c = c.NextSibling {
		Walk(c, func(n *html.Node) bool {
			if found != nil {
				return false
			}
			if n.Type == html.ElementNode && sel.Match(n) {
				found = n
				return false
			}
			return true
		})
	}
	return found, nil
}

// Matches reports whether node matches selector.
func (d *Document) Matches(node *html.Node, selector string) (bool, error) {
	sel, err := d.Compile(selector)
	if err != nil {
		return false, err
	}
	return node.Type == html.ElementNode && sel.Match(node), nil
}

// Closest returns the nearest inclusive ancestor of node matching selector.
func (d *Document) Closest(node *html.Node, selector string) (*html.Node, error) {
	sel, err := d.Compile(selector)
	if err != nil {
		return nil, err
	}
	for n := node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.Match(n) {
			return n, nil
		}
	}
	return nil, nil
}

// Count returns how many descendants of scope match selector.
func (d *Document) Count(scope *html.Node, selector string) (int, error) {
	nodes, err := d.QueryAll(scope, selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}
