package picker

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/rule"
)

const (
	actionField = "zapelm-action"
	modeField   = "zapelm-mode"
)

// Choice is what the user picked in the dialog.
type Choice struct {
	Action    rule.Action
	ApplyMode rule.ApplyMode
	Enabled   bool
}

// Dialog is the rule authoring form shown after an element is picked.
type Dialog struct {
	doc      *dom.Document
	selector string
	result   *Future[Choice]

	Backdrop *html.Node
	Panel    *html.Node
	Form     *html.Node
	Enable   *html.Node
	Cancel   *html.Node
	Save     *html.Node
}

type option struct{ value, label string }

func openDialog(doc *dom.Document, selector string) *Dialog {
	d := &Dialog{doc: doc, selector: selector, result: NewFuture[Choice]()}

	d.Backdrop = d.el("div", DialogAttr, "backdrop")
	setStyles(d.Backdrop,
		"position", "fixed",
		"inset", "0",
		"background", "rgba(0, 0, 0, 0.38)",
		"z-index", "2147483647",
		"display", "flex",
		"align-items", "center",
		"justify-content", "center",
	)

	d.Panel = d.el("div", DialogAttr, "panel")
	setStyles(d.Panel,
		"background", "#ffffff",
		"border-radius", "8px",
		"min-width", "320px",
		"max-width", "420px",
		"padding", "20px 24px",
		"color", "#1f2937",
	)

	title := d.text("h2", "Create a ZAPELM rule")
	desc := d.text("p", "Choose how to handle the selected element.")
	code := d.text("code", selector)
	setStyles(code, "display", "block", "word-break", "break-all")

	d.Form = d.el("form", DialogAttr, "form")
	d.append(d.Form,
		d.fieldset("Action", actionField, rule.Hide.String(), []option{
			{rule.Hide.String(), "Hide (display: none)"},
			{rule.Remove.String(), "Remove from the DOM"},
		}),
		d.fieldset("When to apply", modeField, rule.Immediate.String(), []option{
			{rule.Immediate.String(), "Apply on page load"},
			{rule.Observe.String(), "Monitor and apply to new elements"},
		}),
	)

	toggle := d.doc.CreateElement("label")
	d.Enable = d.doc.CreateElement("input")
	dom.SetAttr(d.Enable, "type", "checkbox")
	dom.SetAttr(d.Enable, "checked", "")
	d.append(toggle, d.Enable, d.text("span", "Enable this rule immediately"))

	buttons := d.doc.CreateElement("div")
	d.Cancel = d.text("button", "Cancel")
	dom.SetAttr(d.Cancel, "type", "button")
	d.Save = d.text("button", "Save")
	dom.SetAttr(d.Save, "type", "submit")
	d.append(buttons, d.Cancel, d.Save)

	d.append(d.Form, toggle, buttons)
	d.append(d.Panel, title, desc, code, d.Form)
	d.append(d.Backdrop, d.Panel)

	if parent := overlayParent(doc); parent != nil {
		_ = doc.AppendChild(parent, d.Backdrop)
	}
	d.result.OnSettle(func(Choice, bool) { d.doc.Remove(d.Backdrop) })
	return d
}

func (d *Dialog) el(tag, attr, val string) *html.Node {
	n := d.doc.CreateElement(tag)
	dom.SetAttr(n, attr, val)
	return n
}

func (d *Dialog) text(tag, s string) *html.Node {
	n := d.doc.CreateElement(tag)
	d.doc.SetText(n, s)
	return n
}

func (d *Dialog) append(parent *html.Node, children ...*html.Node) {
	for _, c := range children {
		_ = d.doc.AppendChild(parent, c)
	}
}

func (d *Dialog) fieldset(legend, name, def string, opts []option) *html.Node {
	fs := d.doc.CreateElement("fieldset")
	d.append(fs, d.text("legend", legend))
	for _, o := range opts {
		label := d.doc.CreateElement("label")
		input := d.doc.CreateElement("input")
		dom.SetAttr(input, "type", "radio")
		dom.SetAttr(input, "name", name)
		dom.SetAttr(input, "value", o.value)
		if o.value == def {
			dom.SetAttr(input, "checked", "")
		}
		d.append(label, input, d.doc.CreateText(o.label))
		d.append(fs, label)
	}
	return fs
}

// Selector returns the selector the dialog was opened for.
func (d *Dialog) Selector() string { return d.selector }

// Result returns the dialog's single-shot outcome.
func (d *Dialog) Result() *Future[Choice] { return d.result }

// Input returns the radio input for a field value, or nil.
func (d *Dialog) Input(field, value string) *html.Node {
	n, _ := d.doc.Query(d.Form, `input[name="`+field+`"][value="`+value+`"]`)
	return n
}

// ActionInput returns the radio input for an action.
func (d *Dialog) ActionInput(a rule.Action) *html.Node { return d.Input(actionField, a.String()) }

// ModeInput returns the radio input for an apply mode.
func (d *Dialog) ModeInput(m rule.ApplyMode) *html.Node { return d.Input(modeField, m.String()) }

// Choice reads the current form state.
func (d *Dialog) Choice() Choice {
	c := Choice{Action: rule.Hide, ApplyMode: rule.Immediate, Enabled: dom.HasAttr(d.Enable, "checked")}
	if n, _ := d.doc.Query(d.Form, `input[name="`+actionField+`"][checked]`); n != nil {
		if a, err := rule.ParseAction(dom.Attr(n, "value")); err == nil {
			c.Action = a
		}
	}
	if n, _ := d.doc.Query(d.Form, `input[name="`+modeField+`"][checked]`); n != nil {
		if m, err := rule.ParseApplyMode(dom.Attr(n, "value")); err == nil {
			c.ApplyMode = m
		}
	}
	return c
}

// handle routes an event to the dialog. The dialog captures everything
// while open.
func (d *Dialog) handle(ev *Event) {
	switch ev.Type {
	case KeyDown:
		if ev.Key == "Escape" {
			ev.PreventDefault()
			ev.StopPropagation()
			d.result.Cancel()
		}
	case Submit:
		ev.PreventDefault()
		ev.StopPropagation()
		d.result.Resolve(d.Choice())
	case Click:
		d.click(ev)
	case PointerMove:
	}
}

func (d *Dialog) click(ev *Event) {
	t := ev.Target
	switch {
	case t == nil:
	case t == d.Backdrop:
		d.result.Cancel()
	case dom.Contains(d.Cancel, t):
		d.result.Cancel()
	case dom.Contains(d.Save, t):
		ev.PreventDefault()
		d.result.Resolve(d.Choice())
	default:
		if input := d.inputFor(t); input != nil {
			d.check(input)
		}
	}
}

// inputFor resolves a click target to the input it activates: the input
// itself, or the input inside the clicked label.
func (d *Dialog) inputFor(t *html.Node) *html.Node {
	if dom.Tag(t) == "input" {
		return t
	}
	for n := t; n != nil && n != d.Form; n = n.Parent {
		if dom.Tag(n) == "label" {
			input, _ := d.doc.Query(n, "input")
			return input
		}
	}
	return nil
}

func (d *Dialog) check(input *html.Node) {
	switch dom.Attr(input, "type") {
	case "checkbox":
		if dom.HasAttr(input, "checked") {
			dom.RemoveAttr(input, "checked")
		} else {
			dom.SetAttr(input, "checked", "")
		}
	case "radio":
		name := dom.Attr(input, "name")
		group, _ := d.doc.QueryAll(d.Form, `input[name="`+name+`"]`)
		for _, g := range group {
			dom.RemoveAttr(g, "checked")
		}
		dom.SetAttr(input, "checked", "")
	}
}
