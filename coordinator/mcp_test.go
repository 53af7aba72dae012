package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/rule"
)

var testImpl = &mcp.Implementation{Name: "zapelm-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*fixture, *mcp.ClientSession) {
	t.Helper()
	f := newFixture(t)

	srv := mcp.NewServer(testImpl, nil)
	f.c.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return f, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func callToolError(t *testing.T, session *mcp.ClientSession, name string, args any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if !result.IsError {
		t.Errorf("CallTool(%s): expected tool error", name)
	}
}

func TestMCP_ListTools(t *testing.T) {
	_, session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"zapelm_list_rules":    false,
		"zapelm_add_rule":      false,
		"zapelm_update_rule":   false,
		"zapelm_delete_rule":   false,
		"zapelm_export_rules":  false,
		"zapelm_import_rules":  false,
		"zapelm_toggle_domain": false,
	}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_AddRule(t *testing.T) {
	f, session := mcpSession(t)
	tab := f.open(t, "1", "https://a.com/")

	text := callTool(t, session, "zapelm_add_rule", map[string]any{
		"hostname":   "a.com",
		"selector":   ".promo",
		"action":     "remove",
		"apply_mode": "observe",
	})
	var r rule.Rule
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.ID != "r-1" || r.Action != rule.Remove || r.ApplyMode != rule.Observe || !r.Enabled {
		t.Errorf("rule: %+v", r)
	}
	if got := tab.last(t); got.Type != message.ApplyRules || len(got.Rules) != 1 {
		t.Errorf("broadcast: %+v", got)
	}
}

func TestMCP_AddRule_Defaults(t *testing.T) {
	_, session := mcpSession(t)
	text := callTool(t, session, "zapelm_add_rule", map[string]any{
		"hostname": "a.com",
		"selector": "#ad",
	})
	var r rule.Rule
	_ = json.Unmarshal([]byte(text), &r)
	if r.Action != rule.Hide || r.ApplyMode != rule.Immediate || !r.Enabled {
		t.Errorf("defaults: %+v", r)
	}
}

func TestMCP_AddRule_BadAction(t *testing.T) {
	_, session := mcpSession(t)
	callToolError(t, session, "zapelm_add_rule", map[string]any{
		"hostname": "a.com",
		"selector": "#ad",
		"action":   "explode",
	})
}

func TestMCP_UpdateAndDelete(t *testing.T) {
	f, session := mcpSession(t)
	r, _ := f.c.AddRule(context.Background(), "a.com", rule.Input{Selector: "#ad", Enabled: true})

	text := callTool(t, session, "zapelm_update_rule", map[string]any{
		"hostname": "a.com",
		"id":       r.ID,
		"selector": "#banner",
		"enabled":  false,
	})
	var got rule.Rule
	_ = json.Unmarshal([]byte(text), &got)
	if got.Selector != "#banner" || got.Enabled || got.ID != r.ID {
		t.Errorf("updated: %+v", got)
	}

	callToolError(t, session, "zapelm_update_rule", map[string]any{"hostname": "a.com", "id": "missing"})

	callTool(t, session, "zapelm_delete_rule", map[string]any{"hostname": "a.com", "id": r.ID})
	rules, _ := f.store.GetRulesForHostname(context.Background(), "a.com")
	if len(rules) != 0 {
		t.Errorf("rules after delete: %+v", rules)
	}
}

func TestMCP_ListRules(t *testing.T) {
	f, session := mcpSession(t)
	ctx := context.Background()
	_, _ = f.c.AddRule(ctx, "a.com", rule.Input{Selector: "#a", Enabled: true})
	_, _ = f.c.AddRule(ctx, "b.com", rule.Input{Selector: "#b", Enabled: true})

	var one message.RuleResponse
	_ = json.Unmarshal([]byte(callTool(t, session, "zapelm_list_rules", map[string]any{"hostname": "a.com"})), &one)
	if one.Hostname != "a.com" || len(one.Rules) != 1 || !one.DomainEnabled {
		t.Errorf("one: %+v", one)
	}

	var all rule.Map
	_ = json.Unmarshal([]byte(callTool(t, session, "zapelm_list_rules", map[string]any{})), &all)
	if len(all) != 2 {
		t.Errorf("all: %+v", all)
	}
}

func TestMCP_ExportImport(t *testing.T) {
	f, session := mcpSession(t)
	ctx := context.Background()
	_, _ = f.c.AddRule(ctx, "a.com", rule.Input{Selector: "#a", Enabled: true})

	exported := callTool(t, session, "zapelm_export_rules", map[string]any{})
	var m rule.Map
	if err := json.Unmarshal([]byte(exported), &m); err != nil || len(m["a.com"]) != 1 {
		t.Fatalf("export: %s %v", exported, err)
	}

	m["b.com"] = []rule.Rule{{ID: "b1", Selector: "aside", Enabled: true}}
	callTool(t, session, "zapelm_import_rules", map[string]any{"data": m})

	all, _ := f.c.AllRules(ctx)
	if len(all) != 2 || all["b.com"][0].ID != "b1" {
		t.Errorf("after import: %+v", all)
	}
}

func TestMCP_ToggleDomain(t *testing.T) {
	f, session := mcpSession(t)
	callTool(t, session, "zapelm_toggle_domain", map[string]any{"hostname": "a.com", "enabled": false})
	if f.c.DomainEnabled("a.com") {
		t.Error("domain still enabled")
	}
}
