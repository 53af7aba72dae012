package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/zapelm/rule"
)

// RegisterMCP registers the rule management tools on an MCP server.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerListRulesTool(srv)
	c.registerAddRuleTool(srv)
	c.registerUpdateRuleTool(srv)
	c.registerDeleteRuleTool(srv)
	c.registerExportRulesTool(srv)
	c.registerImportRulesTool(srv)
	c.registerToggleDomainTool(srv)
}

type endpoint func(ctx context.Context, req any) (any, error)

// registerTool adapts a typed endpoint to an MCP tool. Decode and endpoint
// errors become tool errors; the response is returned as JSON text.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		resp, err := ep(ctx, in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func decodeInto[T any](req *mcp.CallToolRequest) (any, error) {
	var v T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	hostnameProp  = map[string]any{"type": "string", "description": "Hostname the rule applies to (e.g. news.example.com)"}
	selectorProp  = map[string]any{"type": "string", "description": "CSS selector"}
	actionProp    = map[string]any{"type": "string", "enum": []any{"hide", "remove"}, "description": "hide (CSS) or remove (DOM)"}
	applyModeProp = map[string]any{"type": "string", "enum": []any{"immediate", "observe"}, "description": "immediate (on load) or observe (also new elements)"}
	enabledProp   = map[string]any{"type": "boolean", "description": "Whether the rule is enforced"}
	idProp        = map[string]any{"type": "string", "description": "Rule id"}
)

// --- list_rules ---

type listRulesRequest struct {
	Hostname string `json:"hostname,omitempty"`
}

func (c *Coordinator) registerListRulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_list_rules",
		Description: "List element rules. With a hostname, returns that hostname's rules and whether the domain is enabled; without, the full rule map.",
		InputSchema: inputSchema(map[string]any{"hostname": hostnameProp}, nil),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*listRulesRequest)
		if r.Hostname == "" {
			return c.AllRules(ctx)
		}
		return c.Rules(ctx, r.Hostname)
	}
	registerTool(srv, tool, ep, decodeInto[listRulesRequest])
}

// --- add_rule ---

type addRuleRequest struct {
	Hostname  string `json:"hostname"`
	Selector  string `json:"selector"`
	Action    string `json:"action,omitempty"`
	ApplyMode string `json:"apply_mode,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

func (c *Coordinator) registerAddRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_add_rule",
		Description: "Add a hide or remove rule for a hostname. Open pages of that hostname apply it at once.",
		InputSchema: inputSchema(map[string]any{
			"hostname":   hostnameProp,
			"selector":   selectorProp,
			"action":     actionProp,
			"apply_mode": applyModeProp,
			"enabled":    enabledProp,
		}, []string{"hostname", "selector"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*addRuleRequest)
		if r.Hostname == "" {
			return nil, errors.New("hostname is required")
		}
		in := rule.Input{Selector: r.Selector, Action: rule.Hide, ApplyMode: rule.Immediate, Enabled: true}
		if r.Action != "" {
			a, err := rule.ParseAction(r.Action)
			if err != nil {
				return nil, err
			}
			in.Action = a
		}
		if r.ApplyMode != "" {
			m, err := rule.ParseApplyMode(r.ApplyMode)
			if err != nil {
				return nil, err
			}
			in.ApplyMode = m
		}
		if r.Enabled != nil {
			in.Enabled = *r.Enabled
		}
		return c.AddRule(ctx, r.Hostname, in)
	}
	registerTool(srv, tool, ep, decodeInto[addRuleRequest])
}

// --- update_rule ---

type updateRuleRequest struct {
	Hostname  string  `json:"hostname"`
	ID        string  `json:"id"`
	Selector  *string `json:"selector,omitempty"`
	Action    string  `json:"action,omitempty"`
	ApplyMode string  `json:"apply_mode,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

func (c *Coordinator) registerUpdateRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_update_rule",
		Description: "Update fields of an existing rule. Omitted fields keep their value.",
		InputSchema: inputSchema(map[string]any{
			"hostname":   hostnameProp,
			"id":         idProp,
			"selector":   selectorProp,
			"action":     actionProp,
			"apply_mode": applyModeProp,
			"enabled":    enabledProp,
		}, []string{"hostname", "id"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*updateRuleRequest)
		p := rule.Patch{Selector: r.Selector, Enabled: r.Enabled}
		if r.Action != "" {
			a, err := rule.ParseAction(r.Action)
			if err != nil {
				return nil, err
			}
			p.Action = &a
		}
		if r.ApplyMode != "" {
			m, err := rule.ParseApplyMode(r.ApplyMode)
			if err != nil {
				return nil, err
			}
			p.ApplyMode = &m
		}
		return c.UpdateRule(ctx, r.Hostname, r.ID, p)
	}
	registerTool(srv, tool, ep, decodeInto[updateRuleRequest])
}

// --- delete_rule ---

type deleteRuleRequest struct {
	Hostname string `json:"hostname"`
	ID       string `json:"id"`
}

func (c *Coordinator) registerDeleteRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_delete_rule",
		Description: "Delete a rule. Elements it removed come back when their pages reload.",
		InputSchema: inputSchema(map[string]any{
			"hostname": hostnameProp,
			"id":       idProp,
		}, []string{"hostname", "id"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteRuleRequest)
		if err := c.DeleteRule(ctx, r.Hostname, r.ID); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": r.ID}, nil
	}
	registerTool(srv, tool, ep, decodeInto[deleteRuleRequest])
}

// --- export / import ---

type exportRulesRequest struct{}

func (c *Coordinator) registerExportRulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_export_rules",
		Description: "Export every rule as a JSON map keyed by hostname.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		return c.AllRules(ctx)
	}
	registerTool(srv, tool, ep, decodeInto[exportRulesRequest])
}

type importRulesRequest struct {
	Data rule.Map `json:"data"`
}

func (c *Coordinator) registerImportRulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_import_rules",
		Description: "Replace all rules with an exported rule map.",
		InputSchema: inputSchema(map[string]any{
			"data": map[string]any{"type": "object", "description": "Rule map keyed by hostname, as produced by zapelm_export_rules"},
		}, []string{"data"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*importRulesRequest)
		if err := c.ImportRules(ctx, r.Data); err != nil {
			return nil, err
		}
		return map[string]int{"hostnames": len(r.Data)}, nil
	}
	registerTool(srv, tool, ep, decodeInto[importRulesRequest])
}

// --- toggle_domain ---

type toggleDomainRequest struct {
	Hostname string `json:"hostname"`
	Enabled  bool   `json:"enabled"`
}

func (c *Coordinator) registerToggleDomainTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "zapelm_toggle_domain",
		Description: "Enable or disable enforcement for every open page of a hostname.",
		InputSchema: inputSchema(map[string]any{
			"hostname": hostnameProp,
			"enabled":  enabledProp,
		}, []string{"hostname", "enabled"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*toggleDomainRequest)
		c.ToggleDomain(ctx, r.Hostname, r.Enabled)
		return map[string]any{"hostname": r.Hostname, "enabled": r.Enabled}, nil
	}
	registerTool(srv, tool, ep, decodeInto[toggleDomainRequest])
}
