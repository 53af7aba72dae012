// Package selector synthesizes short CSS selectors that uniquely identify
// an element inside a root.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
)

// MaxDepth bounds how many ancestor levels a synthesized selector spans.
const MaxDepth = 8

// MaxClasses bounds how many class names a single segment carries.
const MaxClasses = 3

// ErrNotElement is returned by SynthesizeChecked for non-element input.
var ErrNotElement = errors.New("selector: target is not an element")

// Synthesize returns a selector for el scoped to root. An element with an id
// yields "#<id>". Otherwise segments are added bottom-up until the joined
// selector matches exactly one element under root. When no unique selector
// exists within MaxDepth levels, the longest selector built is returned.
func Synthesize(el, root *html.Node) string {
	if id := dom.ID(el); id != "" {
		return "#" + dom.EscapeIdent(id)
	}

	var segments []string
	var built string
	for cur, depth := el, 0; cur != nil && cur.Type == html.ElementNode && depth < MaxDepth; cur, depth = cur.Parent, depth+1 {
		segments = append([]string{Segment(cur)}, segments...)
		built = strings.Join(segments, " > ")
		if isUnique(built, root) {
			return built
		}
	}
	return built
}

// SynthesizeChecked is Synthesize with input validation.
func SynthesizeChecked(el, root *html.Node) (string, error) {
	if el == nil || el.Type != html.ElementNode {
		return "", ErrNotElement
	}
	if root == nil {
		return "", fmt.Errorf("selector: nil root")
	}
	return Synthesize(el, root), nil
}

// Segment describes one element: its tag, up to MaxClasses classes and an
// :nth-of-type() position when same-tag siblings exist.
func Segment(el *html.Node) string {
	tag := dom.Tag(el)
	var b strings.Builder
	b.WriteString(tag)

	classes := dom.Classes(el)
	if len(classes) > MaxClasses {
		classes = classes[:MaxClasses]
	}
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(dom.EscapeIdent(c))
	}

	if el.Parent != nil {
		idx, total := 0, 0
		for c := el.Parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && dom.Tag(c) == tag {
				total++
				if c == el {
					idx = total
				}
			}
		}
		if total > 1 {
			fmt.Fprintf(&b, ":nth-of-type(%d)", idx)
		}
	}
	return b.String()
}

// isUnique reports whether sel matches exactly one element under root.
// Selectors that fail to compile count as not unique.
func isUnique(sel string, root *html.Node) bool {
	compiled, err := dom.Compile(sel)
	if err != nil {
		return false
	}
	count := 0
	for c := root.FirstChild; c != nil && count < 2; c = c.NextSibling {
		dom.Walk(c, func(n *html.Node) bool {
			if count >= 2 {
				return false
			}
			if n.Type == html.ElementNode && compiled.Match(n) {
				count++
			}
			return true
		})
	}
	return count == 1
}
