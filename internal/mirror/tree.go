package mirror

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// DOM node types as CDP reports them.
const (
	elementNode  = 1
	textNode     = 3
	commentNode  = 8
	documentNode = 9
)

type node struct {
	id       proto.DOMNodeID
	typ      int
	name     string // lower-case tag for elements
	parent   *node
	children []*node
}

// tree shadows the live DOM so that node ids can be turned into XPaths
// after the fact. It only follows the light DOM.
type tree struct {
	nodes map[proto.DOMNodeID]*node
	root  *node
}

func newTree() *tree {
	return &tree{nodes: make(map[proto.DOMNodeID]*node)}
}

// build replaces the tree with the document returned by DOM.getDocument.
func (t *tree) build(root *proto.DOMNode) {
	t.nodes = make(map[proto.DOMNodeID]*node)
	t.root = t.attach(nil, root)
}

func (t *tree) attach(parent *node, pn *proto.DOMNode) *node {
	n := &node{id: pn.NodeID, typ: pn.NodeType, parent: parent}
	if pn.NodeType == elementNode {
		n.name = strings.ToLower(pn.LocalName)
		if n.name == "" {
			n.name = strings.ToLower(pn.NodeName)
		}
	}
	t.nodes[n.id] = n
	for _, c := range pn.Children {
		n.children = append(n.children, t.attach(n, c))
	}
	return n
}

// insert adds pn under parentID after the sibling prevID (0: first child).
func (t *tree) insert(parentID, prevID proto.DOMNodeID, pn *proto.DOMNode) (*node, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("mirror: unknown parent node %d", parentID)
	}
	if old, ok := t.nodes[pn.NodeID]; ok {
		t.detach(old)
	}
	n := t.attach(parent, pn)
	at := 0
	if prevID != 0 {
		at = len(parent.children)
		for i, c := range parent.children {
			if c.id == prevID {
				at = i + 1
				break
			}
		}
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[at+1:], parent.children[at:])
	parent.children[at] = n
	return n, nil
}

// setChildren replaces the children of parentID, as DOM.setChildNodes does.
func (t *tree) setChildren(parentID proto.DOMNodeID, nodes []*proto.DOMNode) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return
	}
	for _, c := range parent.children {
		t.forget(c)
	}
	parent.children = parent.children[:0]
	for _, pn := range nodes {
		parent.children = append(parent.children, t.attach(parent, pn))
	}
}

func (t *tree) remove(id proto.DOMNodeID) {
	if n, ok := t.nodes[id]; ok {
		t.detach(n)
	}
}

func (t *tree) detach(n *node) {
	if p := n.parent; p != nil {
		for i, c := range p.children {
			if c == n {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	t.forget(n)
}

func (t *tree) forget(n *node) {
	for _, c := range n.children {
		t.forget(c)
	}
	delete(t.nodes, n.id)
}

func (t *tree) get(id proto.DOMNodeID) (*node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// path renders the XPath of n in the form dom.Document.ResolveXPath reads.
func (t *tree) path(n *node) string {
	if n == nil {
		return ""
	}
	switch n.typ {
	case documentNode:
		return ""
	case textNode:
		return t.path(n.parent) + "/text()"
	case commentNode:
		return t.path(n.parent) + "/comment()"
	case elementNode:
	default:
		return t.path(n.parent)
	}

	switch n.name {
	case "html":
		return "/html"
	case "head", "body":
		if n.parent != nil && n.parent.name == "html" {
			return "/html/" + n.name
		}
	}
	if n.parent == nil {
		return "/" + n.name
	}

	idx, total := 0, 0
	for _, c := range n.parent.children {
		if c.typ != elementNode || c.name != n.name {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	parent := t.path(n.parent)
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parent, n.name, idx)
	}
	return parent + "/" + n.name
}

// position counts the element siblings in front of n.
func (t *tree) position(n *node) int {
	if n.parent == nil {
		return 0
	}
	pos := 0
	for _, c := range n.parent.children {
		if c == n {
			break
		}
		if c.typ == elementNode {
			pos++
		}
	}
	return pos
}

func (t *tree) size() int { return len(t.nodes) }
