package page

import (
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/enforce"
	"github.com/hazyhaar/zapelm/picker"
)

const toastFade = 200 * time.Millisecond

var toastColors = map[enforce.Level]string{
	enforce.LevelInfo:    "#2563eb",
	enforce.LevelSuccess: "#16a34a",
	enforce.LevelError:   "#dc2626",
}

type toast struct {
	node  *html.Node
	msg   string
	timer *time.Timer
}

// showToast shows a transient notice in the page. It fades after
// ToastDuration and is removed shortly after. Runs on the page goroutine.
func (p *Page) showToast(msg string, level enforce.Level) {
	switch level {
	case enforce.LevelError:
		p.logger.Warn("page: notice", "msg", msg)
	default:
		p.logger.Debug("page: notice", "msg", msg, "level", level)
	}

	parent := p.doc.Body()
	if parent == nil {
		parent = p.doc.DocumentElement()
	}
	if parent == nil {
		return
	}
	n := p.doc.CreateElement("div")
	dom.SetAttr(n, picker.OverlayAttr, "toast")
	p.doc.SetText(n, msg)
	color, ok := toastColors[level]
	if !ok {
		color = toastColors[enforce.LevelInfo]
	}
	for _, kv := range [][2]string{
		{"position", "fixed"},
		{"right", "16px"},
		{"bottom", "16px"},
		{"z-index", "2147483647"},
		{"padding", "10px 14px"},
		{"border-radius", "6px"},
		{"color", "#ffffff"},
		{"background", color},
		{"opacity", "1"},
		{"transition", "opacity 200ms"},
	} {
		dom.SetStyle(n, kv[0], kv[1])
	}
	if err := p.doc.AppendChild(parent, n); err != nil {
		return
	}

	t := &toast{node: n, msg: msg}
	t.timer = time.AfterFunc(p.cfg.ToastDuration, func() {
		p.Post(func() { p.fadeToast(t) })
	})
	p.toasts = append(p.toasts, t)
}

func (p *Page) fadeToast(t *toast) {
	if !p.doc.IsConnected(t.node) {
		p.dropToast(t)
		return
	}
	dom.SetStyle(t.node, "opacity", "0")
	t.timer = time.AfterFunc(toastFade, func() {
		p.Post(func() {
			p.doc.Remove(t.node)
			p.dropToast(t)
		})
	})
}

func (p *Page) dropToast(t *toast) {
	for i, c := range p.toasts {
		if c == t {
			p.toasts = append(p.toasts[:i], p.toasts[i+1:]...)
			return
		}
	}
}

// toastMessages lists the notices currently shown, oldest first.
func (p *Page) toastMessages() []string {
	out := make([]string, 0, len(p.toasts))
	for _, t := range p.toasts {
		out = append(out, t.msg)
	}
	return out
}
