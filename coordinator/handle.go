package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/rule"
)

// Handle is the coordinator's bus handler. Mutating requests answer with a
// message.Result; their failures travel in the result, not as errors.
func (c *Coordinator) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	msg, err := message.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	switch msg.Type {
	case message.ContentReady:
		c.ContentReady(ctx, msg.TabID, msg.Hostname, msg.URL)
		return nil, nil

	case message.GetRules:
		resp, err := c.Rules(ctx, msg.Hostname)
		if err != nil {
			return nil, err
		}
		return message.Encode(resp), nil

	case message.GetAllRules:
		m, err := c.AllRules(ctx)
		if err != nil {
			return nil, err
		}
		return message.Encode(message.AllRulesResponse{Data: m}), nil

	case message.AddRule:
		if msg.Rule == nil {
			return result(errors.New("missing rule")), nil
		}
		_, err := c.AddRule(ctx, msg.Hostname, *msg.Rule)
		return result(err), nil

	case message.UpdateRule:
		var p rule.Patch
		if msg.Patch != nil {
			p = *msg.Patch
		}
		_, err := c.UpdateRule(ctx, msg.Hostname, msg.RuleID, p)
		return result(err), nil

	case message.DeleteRule:
		return result(c.DeleteRule(ctx, msg.Hostname, msg.RuleID)), nil

	case message.ImportRules:
		return result(c.ImportRules(ctx, msg.Data)), nil

	case message.ToggleDomainEnabled:
		enabled := msg.Enabled == nil || *msg.Enabled
		c.ToggleDomain(ctx, msg.Hostname, enabled)
		return result(nil), nil

	case message.RefreshContent:
		return result(c.Refresh(ctx, msg.Hostname)), nil
	}

	c.logger.Debug("coordinator: ignored message", "type", msg.Type)
	return nil, nil
}

func result(err error) []byte {
	switch {
	case err == nil:
		return message.Encode(message.OK)
	case errors.Is(err, rule.ErrNotFound):
		return message.Encode(message.Result{Error: "Rule not found"})
	}
	return message.Encode(message.Fail(err))
}
