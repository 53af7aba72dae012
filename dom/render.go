package dom

import (
	"bytes"

	"golang.org/x/net/html"
)

// Render serializes the whole document.
func (d *Document) Render() string {
	return RenderNode(d.root)
}

// RenderNode serializes n and its subtree.
func RenderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// Clone returns a deep copy of the document. Watches and pending records
// are not copied.
func (d *Document) Clone() *Document {
	return newDocument(cloneNode(d.root))
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	for k := n.FirstChild; k != nil; k = k.NextSibling {
		c.AppendChild(cloneNode(k))
	}
	return c
}
