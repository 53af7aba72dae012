package picker

import (
	"strconv"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
)

const (
	// OverlayAttr marks highlight, info badge and toast nodes.
	OverlayAttr = "data-zapelm-overlay"
	// DialogAttr marks the authoring dialog nodes.
	DialogAttr = "data-zapelm-dialog"

	infoOffset = 24
)

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Geometry supplies layout information for the mirrored page. Pages loaded
// without a browser have none.
type Geometry interface {
	BoundingRect(el *html.Node) (Rect, error)
	Scroll() (x, y float64, err error)
}

// IsPickerElement reports whether n or one of its ancestors is a picker
// overlay or dialog node.
func IsPickerElement(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c.Type != html.ElementNode {
			continue
		}
		if dom.HasAttr(c, OverlayAttr) || dom.HasAttr(c, DialogAttr) {
			return true
		}
	}
	return false
}

func setStyles(n *html.Node, decls ...string) {
	for i := 0; i+1 < len(decls); i += 2 {
		dom.SetStyle(n, decls[i], decls[i+1])
	}
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func overlayParent(doc *dom.Document) *html.Node {
	if b := doc.Body(); b != nil {
		return b
	}
	return doc.DocumentElement()
}

func (p *Picker) ensureOverlays() {
	if p.highlight != nil && p.doc.IsConnected(p.highlight) {
		return
	}
	p.highlight = p.doc.CreateElement("div")
	dom.SetAttr(p.highlight, OverlayAttr, "highlight")
	setStyles(p.highlight,
		"position", "absolute",
		"z-index", "2147483646",
		"pointer-events", "none",
		"border", "2px solid #ff4081",
		"background", "rgba(255, 64, 129, 0.08)",
		"border-radius", "4px",
	)

	p.info = p.doc.CreateElement("div")
	dom.SetAttr(p.info, OverlayAttr, "info")
	setStyles(p.info,
		"position", "absolute",
		"z-index", "2147483647",
		"pointer-events", "none",
		"background", "#ff4081",
		"color", "#fff",
		"font-size", "12px",
		"padding", "2px 6px",
	)
	p.doc.SetText(p.info, "ZAPELM")

	parent := overlayParent(p.doc)
	if parent == nil {
		return
	}
	_ = p.doc.AppendChild(parent, p.highlight)
	_ = p.doc.AppendChild(parent, p.info)
}

func (p *Picker) removeOverlays() {
	p.doc.Remove(p.highlight)
	p.doc.Remove(p.info)
	p.highlight, p.info = nil, nil
}

// track moves the highlight over target: its bounding box offset by the
// scroll position, with the info badge 24px above.
func (p *Picker) track(target *html.Node) {
	if p.highlight == nil || p.info == nil {
		return
	}
	p.hovered = target
	if p.geometry == nil {
		return
	}
	rect, err := p.geometry.BoundingRect(target)
	if err != nil {
		p.logger.Debug("picker: bounding rect", "error", err)
		return
	}
	sx, sy, err := p.geometry.Scroll()
	if err != nil {
		p.logger.Debug("picker: scroll offset", "error", err)
		sx, sy = 0, 0
	}
	left, top := rect.X+sx, rect.Y+sy
	setStyles(p.highlight,
		"left", px(left),
		"top", px(top),
		"width", px(rect.Width),
		"height", px(rect.Height),
	)
	setStyles(p.info,
		"left", px(left),
		"top", px(top-infoOffset),
	)
}
