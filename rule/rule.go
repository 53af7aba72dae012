// Package rule defines the element rules enforced on pages: what to match,
// whether to hide or remove it, and when to apply.
package rule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownAction    = errors.New("rule: unknown action")
	ErrUnknownApplyMode = errors.New("rule: unknown apply mode")
	ErrEmptySelector    = errors.New("rule: empty selector")
	ErrNotFound         = errors.New("rule: not found")
)

// Action is what happens to matched elements.
type Action int

const (
	// Hide collapses matches with an injected stylesheet.
	Hide Action = iota
	// Remove detaches matches from the document.
	Remove
)

func (a Action) String() string {
	switch a {
	case Hide:
		return "hide"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case Hide, Remove:
		return []byte(a.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int(a))
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAction parses "hide" or "remove".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hide":
		return Hide, nil
	case "remove":
		return Remove, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ApplyMode controls whether removal keeps watching for new matches.
type ApplyMode int

const (
	// Immediate sweeps once when rules are applied.
	Immediate ApplyMode = iota
	// Observe also removes matches inserted later.
	Observe
)

func (m ApplyMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Observe:
		return "observe"
	}
	return fmt.Sprintf("ApplyMode(%d)", int(m))
}

func (m ApplyMode) MarshalText() ([]byte, error) {
	switch m {
	case Immediate, Observe:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownApplyMode, int(m))
}

func (m *ApplyMode) UnmarshalText(b []byte) error {
	v, err := ParseApplyMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseApplyMode parses "immediate" or "observe".
func ParseApplyMode(s string) (ApplyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "immediate":
		return Immediate, nil
	case "observe":
		return Observe, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownApplyMode, s)
}

// Rule is a persisted element rule for one hostname.
type Rule struct {
	ID        string    `json:"id"`
	Selector  string    `json:"selector"`
	Action    Action    `json:"action"`
	ApplyMode ApplyMode `json:"applyMode"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Input is the user-supplied part of a rule.
type Input struct {
	Selector  string    `json:"selector"`
	Action    Action    `json:"action"`
	ApplyMode ApplyMode `json:"applyMode"`
	Enabled   bool      `json:"enabled"`
}

// Validate checks that the selector is not blank. Syntax is checked by the
// enforcement engine, which skips selectors it cannot compile.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Selector) == "" {
		return ErrEmptySelector
	}
	return nil
}

// Patch holds optional field updates.
type Patch struct {
	Selector  *string    `json:"selector,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	ApplyMode *ApplyMode `json:"applyMode,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
}

// New builds a rule with a fresh identity.
func New(in Input, gen Generator, now time.Time) Rule {
	if gen == nil {
		gen = DefaultGenerator
	}
	now = now.UTC()
	return Rule{
		ID:        gen(),
		Selector:  in.Selector,
		Action:    in.Action,
		ApplyMode: in.ApplyMode,
		Enabled:   in.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply returns a copy of r with the patch applied. UpdatedAt is always
// refreshed; ID and CreatedAt never change.
func (r Rule) Apply(p Patch, now time.Time) Rule {
	if p.Selector != nil {
		r.Selector = *p.Selector
	}
	if p.Action != nil {
		r.Action = *p.Action
	}
	if p.ApplyMode != nil {
		r.ApplyMode = *p.ApplyMode
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	r.UpdatedAt = now.UTC()
	return r
}

// Map holds rules keyed by hostname, in insertion order per hostname.
type Map map[string][]Rule

// Clone returns a deep copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for host, rules := range m {
		out[host] = append([]Rule(nil), rules...)
	}
	return out
}

// Find returns the index of the rule with the given id, or -1.
func Find(rules []Rule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Enabled returns the enabled rules, preserving order.
func Enabled(rules []Rule) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
