package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/zapelm/enforce"
	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/picker"
	"github.com/hazyhaar/zapelm/rule"
)

// HandleMessage is the page's bus handler for coordinator messages. It
// returns no payload; unknown message types are ignored.
func (p *Page) HandleMessage(ctx context.Context, payload []byte) ([]byte, error) {
	msg, err := message.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}
	switch msg.Type {
	case message.ActivatePicker:
		return nil, p.Do(ctx, p.activatePicker)

	case message.SetEnabled:
		if msg.Enabled == nil {
			return nil, fmt.Errorf("page: setEnabled: missing enabled")
		}
		next := *msg.Enabled
		p.logger.Debug("page: setEnabled", "enabled", next, "reason", msg.Reason)
		return nil, p.Do(ctx, func() { p.setEnabled(next) })

	case message.ApplyRules:
		rules := append([]rule.Rule(nil), msg.Rules...)
		return nil, p.Do(ctx, func() {
			p.rules = rules
			p.applyActive()
		})

	case message.SetDebug:
		if msg.Enabled != nil {
			p.SetDebug(*msg.Enabled)
		}
		return nil, nil
	}
	p.logger.Debug("page: ignored message", "type", msg.Type)
	return nil, nil
}

// SetDebug switches debug logging for this page.
func (p *Page) SetDebug(on bool) {
	if on {
		p.level.Set(slog.LevelDebug)
		p.logger.Debug("page: debug logging enabled")
		return
	}
	p.level.Set(slog.LevelInfo)
}

func (p *Page) activatePicker() {
	if !p.enabled {
		p.showToast(NoticeInactive, enforce.LevelInfo)
		return
	}
	p.picker.Activate()
}

// ActivatePicker starts the picker if the page is enabled.
func (p *Page) ActivatePicker(ctx context.Context) error {
	return p.Do(ctx, p.activatePicker)
}

// onPicked runs on the page goroutine when the dialog settles. The rule is
// saved from another goroutine and the outcome is posted back as a toast.
func (p *Page) onPicked(in rule.Input, ok bool) {
	if !ok {
		p.outcome("cancelled")
		return
	}
	go p.saveRule(in)
}

func (p *Page) saveRule(in rule.Input) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SaveTimeout)
	defer cancel()

	notice, level, outcome := NoticeSaved, enforce.LevelSuccess, "saved"
	if p.bus == nil {
		notice, level, outcome = NoticeSaveError, enforce.LevelError, "error"
	} else {
		resp, err := p.bus.Call(ctx, message.CoordinatorService, message.Encode(message.NewAddRule(p.hostname, in)))
		switch {
		case err != nil:
			p.logger.Error("page: addRule failed", "selector", in.Selector, "error", err)
			notice, level, outcome = NoticeSaveError, enforce.LevelError, "error"
		default:
			res, derr := message.DecodeResult(resp)
			if derr != nil || !res.Success {
				reason := res.Error
				if derr != nil {
					reason = derr.Error()
				}
				notice, level, outcome = NoticeSaveFailed+reason, enforce.LevelError, "failed"
			}
		}
	}
	p.Post(func() {
		p.outcome(outcome)
		p.showToast(notice, level)
	})
}

func (p *Page) outcome(o string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.PickerOutcome(o)
	}
}

// ErrNoTarget is returned when an event target does not resolve.
var ErrNoTarget = errors.New("page: no element at target")

// DispatchEvent delivers an input event to the page. The picker sees it
// first, in capture order. The returned copy carries the prevented and
// stopped flags.
func (p *Page) DispatchEvent(ctx context.Context, ev picker.Event) (picker.Event, bool, error) {
	var consumed bool
	err := p.Do(ctx, func() {
		consumed = p.picker.Dispatch(&ev)
	})
	return ev, consumed, err
}

// DispatchXPathEvent resolves the target by XPath on the page goroutine and
// dispatches the event. An empty xpath dispatches without a target.
func (p *Page) DispatchXPathEvent(ctx context.Context, typ picker.EventType, xpath string, button int, key string) (picker.Event, bool, error) {
	ev := picker.Event{Type: typ, Button: button, Key: key}
	var consumed bool
	var resolveErr error
	err := p.Do(ctx, func() {
		if xpath != "" {
			ev.Target = p.resolveTarget(xpath)
			if ev.Target == nil {
				resolveErr = fmt.Errorf("%w %s", ErrNoTarget, xpath)
				return
			}
		}
		consumed = p.picker.Dispatch(&ev)
	})
	if err != nil {
		return ev, false, err
	}
	return ev, consumed, resolveErr
}
