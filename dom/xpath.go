package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns the absolute path of n: /html/body/div[2]/p. The position
// predicate is written only when the parent has several same-tag children.
// Text and comment nodes end in /text() and /comment().
func (d *Document) XPath(n *html.Node) string {
	return PathOf(n, d.XPathSkip)
}

// PathOf computes the XPath of n from its ancestors alone, leaving out
// siblings for which skip reports true. skip may be nil.
func PathOf(n *html.Node, skip func(*html.Node) bool) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.DocumentNode:
		return ""
	case html.TextNode:
		return PathOf(n.Parent, skip) + "/text()"
	case html.CommentNode:
		return PathOf(n.Parent, skip) + "/comment()"
	case html.ElementNode:
	default:
		return PathOf(n.Parent, skip)
	}

	name := Tag(n)
	switch name {
	case "html":
		return "/html"
	case "head", "body":
		if n.Parent != nil && Tag(n.Parent) == "html" {
			return "/html/" + name
		}
	}
	if n.Parent == nil {
		return "/" + name
	}

	idx, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || Tag(c) != name || (skip != nil && skip(c)) {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	parent := PathOf(n.Parent, skip)
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parent, name, idx)
	}
	return parent + "/" + name
}

// ResolveXPath returns the element addressed by an absolute XPath produced
// by XPath, or nil when it does not exist. A trailing /text() or /comment()
// step resolves to the first such child.
func (d *Document) ResolveXPath(xpath string) *html.Node {
	xpath = strings.TrimSpace(xpath)
	if !strings.HasPrefix(xpath, "/") {
		return nil
	}
	cur := d.root
	for _, step := range strings.Split(xpath[1:], "/") {
		if step == "" || cur == nil {
			return nil
		}
		switch step {
		case "text()":
			return firstChildOfType(cur, html.TextNode)
		case "comment()":
			return firstChildOfType(cur, html.CommentNode)
		case "shadow-root":
			return nil
		}
		tag, pos, err := parseStep(step)
		if err != nil {
			return nil
		}
		cur = d.nthChild(cur, tag, pos)
	}
	if cur == d.root {
		return nil
	}
	return cur
}

func (d *Document) skip(n *html.Node) bool {
	return d.XPathSkip != nil && d.XPathSkip(n)
}

func (d *Document) nthChild(parent *html.Node, tag string, pos int) *html.Node {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || Tag(c) != tag || d.skip(c) {
			continue
		}
		count++
		if count == pos {
			return c
		}
	}
	return nil
}

func parseStep(step string) (string, int, error) {
	open := strings.IndexByte(step, '[')
	if open < 0 {
		return strings.ToLower(step), 1, nil
	}
	if !strings.HasSuffix(step, "]") {
		return "", 0, fmt.Errorf("dom: xpath step %q", step)
	}
	pos, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || pos < 1 {
		return "", 0, fmt.Errorf("dom: xpath step %q", step)
	}
	return strings.ToLower(step[:open]), pos, nil
}

func firstChildOfType(n *html.Node, t html.NodeType) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == t {
			return c
		}
	}
	return nil
}
