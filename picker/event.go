package picker

import "golang.org/x/net/html"

// EventType identifies a user input event.
type EventType int

const (
	PointerMove EventType = iota
	Click
	KeyDown
	Submit
)

func (t EventType) String() string {
	switch t {
	case PointerMove:
		return "pointermove"
	case Click:
		return "click"
	case KeyDown:
		return "keydown"
	case Submit:
		return "submit"
	}
	return "unknown"
}

// ParseEventType maps a DOM event name to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "pointermove", "mousemove":
		return PointerMove, true
	case "click":
		return Click, true
	case "keydown":
		return KeyDown, true
	case "submit":
		return Submit, true
	}
	return 0, false
}

// PrimaryButton is the main mouse button.
const PrimaryButton = 0

// Event is an input event delivered in the capture phase.
type Event struct {
	Type   EventType
	Target *html.Node
	Button int
	Key    string

	DefaultPrevented   bool
	PropagationStopped bool
}

// PreventDefault marks the event as handled.
func (e *Event) PreventDefault() { e.DefaultPrevented = true }

// StopPropagation keeps the event from reaching page handlers.
func (e *Event) StopPropagation() { e.PropagationStopped = true }
