// Package picker implements interactive element selection: hovering
// highlights elements, clicking opens a dialog that turns the element into a
// rule.
//
// States move Idle -> Active -> Dialog -> Idle. Escape in Active, or a
// settled dialog, returns to Idle.
package picker

import (
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/enforce"
	"github.com/hazyhaar/zapelm/rule"
	"github.com/hazyhaar/zapelm/selector"
)

// State is the picker state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateDialog
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDialog:
		return "dialog"
	}
	return "unknown"
}

// ActivationNotice is shown when the picker starts.
const ActivationNotice = "Click an element to add a rule (Esc to cancel)"

// Picker drives element selection on one document. Like the engine, it is
// owned by the page goroutine.
type Picker struct {
	doc      *dom.Document
	geometry Geometry
	logger   *slog.Logger
	notify   enforce.Notifier
	result   func(in rule.Input, ok bool)

	state     State
	highlight *html.Node
	info      *html.Node
	hovered   *html.Node
	dialog    *Dialog
}

// Option configures a Picker.
type Option func(*Picker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Picker) { p.logger = l } }

// WithGeometry sets the layout source used to position the overlays.
func WithGeometry(g Geometry) Option { return func(p *Picker) { p.geometry = g } }

// WithNotifier sets the callback for user notices.
func WithNotifier(n enforce.Notifier) Option { return func(p *Picker) { p.notify = n } }

// WithResult sets the callback that receives the authored rule, or ok=false
// when the dialog was cancelled.
func WithResult(fn func(in rule.Input, ok bool)) Option {
	return func(p *Picker) { p.result = fn }
}

// New creates an idle picker for doc.
func New(doc *dom.Document, opts ...Option) *Picker {
	p := &Picker{doc: doc}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// State returns the current state.
func (p *Picker) State() State { return p.state }

// Highlight returns the highlight overlay, or nil when idle.
func (p *Picker) Highlight() *html.Node { return p.highlight }

// Info returns the info badge, or nil when idle.
func (p *Picker) Info() *html.Node { return p.info }

// Hovered returns the element last highlighted.
func (p *Picker) Hovered() *html.Node { return p.hovered }

// CurrentDialog returns the open dialog, or nil.
func (p *Picker) CurrentDialog() *Dialog { return p.dialog }

// Activate enters Active from Idle. It is a no-op in any other state and
// reports whether the picker was started.
func (p *Picker) Activate() bool {
	if p.state != StateIdle {
		return false
	}
	p.state = StateActive
	p.ensureOverlays()
	if de := p.doc.DocumentElement(); de != nil {
		dom.SetStyle(de, "cursor", "crosshair")
	}
	if p.notify != nil {
		p.notify(ActivationNotice, enforce.LevelInfo)
	}
	p.logger.Debug("picker: activated")
	return true
}

// Stop returns to Idle from any state. An open dialog is cancelled.
func (p *Picker) Stop() {
	if p.state == StateIdle {
		return
	}
	if p.dialog != nil {
		// Cancelling settles the dialog, which calls finish.
		p.dialog.result.Cancel()
	}
	p.reset()
}

func (p *Picker) reset() {
	p.state = StateIdle
	p.removeOverlays()
	p.hovered = nil
	p.dialog = nil
	if de := p.doc.DocumentElement(); de != nil {
		dom.RemoveStyle(de, "cursor")
	}
}

// Dispatch delivers a capture-phase event. It reports whether the picker
// consumed the event.
func (p *Picker) Dispatch(ev *Event) bool {
	switch p.state {
	case StateActive:
		return p.dispatchActive(ev)
	case StateDialog:
		if p.dialog == nil {
			return false
		}
		p.dialog.handle(ev)
		return true
	case StateIdle:
	}
	return false
}

func (p *Picker) dispatchActive(ev *Event) bool {
	switch ev.Type {
	case PointerMove:
		if ev.Target == nil || ev.Target.Type != html.ElementNode || IsPickerElement(ev.Target) {
			return false
		}
		p.track(ev.Target)
		return true

	case Click:
		if ev.Button != PrimaryButton {
			return false
		}
		ev.PreventDefault()
		ev.StopPropagation()
		if ev.Target == nil || ev.Target.Type != html.ElementNode || IsPickerElement(ev.Target) {
			return true
		}
		p.pick(ev.Target)
		return true

	case KeyDown:
		if ev.Key != "Escape" {
			return false
		}
		ev.PreventDefault()
		ev.StopPropagation()
		p.logger.Debug("picker: cancelled")
		p.reset()
		return true

	case Submit:
	}
	return false
}

// pick moves to Dialog for target.
func (p *Picker) pick(target *html.Node) {
	sel := selector.Synthesize(target, p.doc.Root())
	p.state = StateDialog
	p.logger.Debug("picker: element selected", "selector", sel)

	d := openDialog(p.doc, sel)
	p.dialog = d
	d.result.OnSettle(func(c Choice, ok bool) { p.finish(d, c, ok) })
}

func (p *Picker) finish(d *Dialog, c Choice, ok bool) {
	if p.dialog == d {
		p.reset()
	}
	if p.result == nil {
		return
	}
	if !ok {
		p.result(rule.Input{}, false)
		return
	}
	p.result(rule.Input{
		Selector:  d.selector,
		Action:    c.Action,
		ApplyMode: c.ApplyMode,
		Enabled:   c.Enabled,
	}, true)
}
