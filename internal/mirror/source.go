package mirror

import (
	"context"
	"html"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// source is the CDP surface a mirror needs.
type source interface {
	enable() error
	document() (*proto.DOMNode, error)
	outerHTML(id proto.DOMNodeID) (string, error)
	requestChildren(id proto.DOMNodeID) error
	// listen forwards DOM events in order until ctx is done.
	listen(ctx context.Context, emit func(any))
}

type rodSource struct {
	page *rod.Page
}

func (s rodSource) enable() error {
	return proto.DOMEnable{}.Call(s.page)
}

func (s rodSource) document() (*proto.DOMNode, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth}.Call(s.page)
	if err != nil {
		return nil, err
	}
	return res.Root, nil
}

func (s rodSource) outerHTML(id proto.DOMNodeID) (string, error) {
	res, err := proto.DOMGetOuterHTML{NodeID: id}.Call(s.page)
	if err != nil {
		return "", err
	}
	return res.OuterHTML, nil
}

func (s rodSource) requestChildren(id proto.DOMNodeID) error {
	depth := -1
	return proto.DOMRequestChildNodes{NodeID: id, Depth: &depth}.Call(s.page)
}

func (s rodSource) listen(ctx context.Context, emit func(any)) {
	wait := s.page.Context(ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) { emit(e) },
		func(e *proto.DOMChildNodeRemoved) { emit(e) },
		func(e *proto.DOMSetChildNodes) { emit(e) },
		func(e *proto.DOMAttributeModified) { emit(e) },
		func(e *proto.DOMAttributeRemoved) { emit(e) },
		func(e *proto.DOMCharacterDataModified) { emit(e) },
		func(e *proto.DOMDocumentUpdated) { emit(e) },
	)
	wait()
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// renderNode serialises the part of a subtree CDP sent along with an
// event. It stands in when DOM.getOuterHTML fails.
func renderNode(n *proto.DOMNode) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n *proto.DOMNode) {
	switch n.NodeType {
	case textNode:
		b.WriteString(html.EscapeString(n.NodeValue))
		return
	case commentNode:
		b.WriteString("<!--" + n.NodeValue + "-->")
		return
	case elementNode:
	default:
		return
	}
	tag := strings.ToLower(n.LocalName)
	if tag == "" {
		tag = strings.ToLower(n.NodeName)
	}
	b.WriteString("<" + tag)
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		b.WriteString(" " + n.Attributes[i] + `="` + html.EscapeString(n.Attributes[i+1]) + `"`)
	}
	b.WriteString(">")
	if voidElements[tag] {
		return
	}
	for _, c := range n.Children {
		writeNode(b, c)
	}
	b.WriteString("</" + tag + ">")
}
