package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/zapelm/coordinator"
	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/internal/bus"
	"github.com/hazyhaar/zapelm/internal/store"
	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/page"
	"github.com/hazyhaar/zapelm/rule"
)

const testHTML = `<html><head><title>News</title></head><body><h1>Headline</h1><p id="keep">text</p><div class="ad">ad</div></body></html>`

type memPages struct {
	bus    *bus.Bus
	coord  *coordinator.Coordinator
	logger *slog.Logger

	mu    sync.Mutex
	n     int
	pages map[string]*page.Page
}

func (m *memPages) Open(_ context.Context, rawURL, _ string) (*page.Page, error) {
	doc, err := dom.ParseString(testHTML)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.n++
	id := fmt.Sprintf("t%d", m.n)
	m.mu.Unlock()

	p, err := page.New(page.Config{
		TabID:         id,
		URL:           rawURL,
		Document:      doc,
		Bus:           m.bus,
		Logger:        m.logger,
		ToastDuration: time.Minute,
	})
	if err != nil {
		return nil, err
	}
	p.Start(context.Background())

	m.mu.Lock()
	m.pages[id] = p
	m.mu.Unlock()
	return p, nil
}

func (m *memPages) Close(tabID string) error {
	m.mu.Lock()
	p, ok := m.pages[tabID]
	delete(m.pages, tabID)
	m.mu.Unlock()
	if !ok {
		return coordinator.ErrUnknownTab
	}
	p.Close()
	m.coord.TabRemoved(tabID)
	return nil
}

func (m *memPages) Get(tabID string) (*page.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[tabID]
	return p, ok
}

func (m *memPages) closeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

type fixture struct {
	srv   *httptest.Server
	coord *coordinator.Coordinator
	pages *memPages
}

func newFixture(t *testing.T, withPages bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.WithLogger(logger))
	c := coordinator.New(store.OpenMemory(t), b,
		coordinator.WithLogger(logger),
		coordinator.WithGenerator(rule.Sequence("r")),
	)
	c.Register()

	cfg := Config{
		Coordinator: c,
		Logger:      logger,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "zapelm_rules_applied_total 0\n")
		}),
	}
	f := &fixture{coord: c}
	if withPages {
		f.pages = &memPages{bus: b, coord: c, logger: logger, pages: make(map[string]*page.Page)}
		cfg.Pages = f.pages
		t.Cleanup(f.pages.closeAll)
	}
	f.srv = httptest.NewServer(New(cfg))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (f *fixture) expect(t *testing.T, method, path string, body any, code int, out any) {
	t.Helper()
	resp, data := f.do(t, method, path, body)
	if resp.StatusCode != code {
		t.Fatalf("%s %s: status %d, want %d (%s)", method, path, resp.StatusCode, code, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, data, err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	var got map[string]string
	f.expect(t, http.MethodGet, "/health", nil, http.StatusOK, &got)
	if got["status"] != "ok" {
		t.Errorf("health: %v", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "zapelm_rules_applied_total") {
		t.Errorf("metrics: %d %s", resp.StatusCode, body)
	}
}

func TestRuleCRUD(t *testing.T) {
	f := newFixture(t, false)

	var created rule.Rule
	f.expect(t, http.MethodPost, "/api/rules/a.com", map[string]any{
		"selector": ".ad",
		"action":   "remove",
	}, http.StatusCreated, &created)
	if created.ID != "r-1" || created.Action != rule.Remove || created.ApplyMode != rule.Immediate || !created.Enabled {
		t.Fatalf("created: %+v", created)
	}

	var list message.RuleResponse
	f.expect(t, http.MethodGet, "/api/rules/a.com", nil, http.StatusOK, &list)
	if list.Hostname != "a.com" || len(list.Rules) != 1 || !list.DomainEnabled {
		t.Errorf("list: %+v", list)
	}

	var updated rule.Rule
	f.expect(t, http.MethodPatch, "/api/rules/a.com/r-1", map[string]any{"enabled": false}, http.StatusOK, &updated)
	if updated.Enabled || updated.Selector != ".ad" {
		t.Errorf("updated: %+v", updated)
	}

	f.expect(t, http.MethodPatch, "/api/rules/a.com/missing", map[string]any{"enabled": true}, http.StatusNotFound, nil)
	f.expect(t, http.MethodDelete, "/api/rules/a.com/r-1", nil, http.StatusOK, nil)

	var all rule.Map
	f.expect(t, http.MethodGet, "/api/rules", nil, http.StatusOK, &all)
	if len(all) != 0 {
		t.Errorf("after delete: %+v", all)
	}
}

func TestAddRuleValidation(t *testing.T) {
	f := newFixture(t, false)
	cases := []struct {
		name string
		body any
	}{
		{"empty selector", map[string]any{"selector": "  "}},
		{"unknown action", map[string]any{"selector": "#x", "action": "explode"}},
		{"unknown mode", map[string]any{"selector": "#x", "applyMode": "later"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.expect(t, http.MethodPost, "/api/rules/a.com", tc.body, http.StatusBadRequest, nil)
		})
	}
	resp, _ := f.do(t, http.MethodPost, "/api/rules/a.com", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body: %d", resp.StatusCode)
	}
}

func TestImportExport(t *testing.T) {
	f := newFixture(t, false)
	in := rule.Map{
		"a.com": {{ID: "a1", Selector: "#a", Enabled: true}},
		"b.com": {{ID: "b1", Selector: "aside", Action: rule.Remove, Enabled: true}},
	}
	var res map[string]int
	f.expect(t, http.MethodPut, "/api/rules", in, http.StatusOK, &res)
	if res["hostnames"] != 2 {
		t.Errorf("import: %v", res)
	}
	var out rule.Map
	f.expect(t, http.MethodGet, "/api/rules", nil, http.StatusOK, &out)
	if len(out) != 2 || out["b.com"][0].Action != rule.Remove {
		t.Errorf("export: %+v", out)
	}
}

func TestToggleDomain(t *testing.T) {
	f := newFixture(t, false)
	f.expect(t, http.MethodPost, "/api/domains/a.com/enabled", map[string]any{}, http.StatusBadRequest, nil)
	f.expect(t, http.MethodPost, "/api/domains/a.com/enabled", map[string]any{"enabled": false}, http.StatusOK, nil)
	if f.coord.DomainEnabled("a.com") {
		t.Error("domain still enabled")
	}
	f.expect(t, http.MethodPost, "/api/domains/a.com/refresh", nil, http.StatusOK, nil)
}

func TestTabsWithoutPages(t *testing.T) {
	f := newFixture(t, false)
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://a.com/"}, http.StatusNotImplemented, nil)
	f.expect(t, http.MethodGet, "/api/tabs/t1/snapshot", nil, http.StatusNotImplemented, nil)
	f.expect(t, http.MethodPost, "/api/commands/activate-picker", nil, http.StatusConflict, nil)
}

func TestTabLifecycle(t *testing.T) {
	f := newFixture(t, true)

	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{}, http.StatusBadRequest, nil)

	var opened map[string]string
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://news.example.com/a"}, http.StatusCreated, &opened)
	if opened["tabId"] != "t1" || opened["hostname"] != "news.example.com" {
		t.Fatalf("opened: %v", opened)
	}

	var tabs []coordinator.Tab
	f.expect(t, http.MethodGet, "/api/tabs", nil, http.StatusOK, &tabs)
	if len(tabs) != 1 || !tabs[0].Active || !tabs[0].Enabled {
		t.Fatalf("tabs: %+v", tabs)
	}

	var toggled map[string]any
	f.expect(t, http.MethodPost, "/api/commands/toggle-enabled", nil, http.StatusOK, &toggled)
	if toggled["enabled"] != false {
		t.Errorf("toggle: %v", toggled)
	}
	var st page.Status
	f.expect(t, http.MethodGet, "/api/tabs/t1", nil, http.StatusOK, &st)
	if st.Enabled {
		t.Errorf("status after toggle: %+v", st)
	}

	f.expect(t, http.MethodPost, "/api/commands/reboot", nil, http.StatusNotFound, nil)
	f.expect(t, http.MethodPost, "/api/tabs/nope/activate", nil, http.StatusNotFound, nil)
	f.expect(t, http.MethodPost, "/api/tabs/t1/activate", nil, http.StatusOK, nil)

	f.expect(t, http.MethodDelete, "/api/tabs/t1", nil, http.StatusOK, nil)
	f.expect(t, http.MethodDelete, "/api/tabs/t1", nil, http.StatusNotFound, nil)
	f.expect(t, http.MethodGet, "/api/tabs", nil, http.StatusOK, &tabs)
	if len(tabs) != 0 {
		t.Errorf("tabs after close: %+v", tabs)
	}
}

func TestRulesReachOpenTab(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://news.example.com/a"}, http.StatusCreated, nil)
	f.expect(t, http.MethodPost, "/api/rules/news.example.com", map[string]any{
		"selector": ".ad",
		"action":   "remove",
	}, http.StatusCreated, nil)

	var st page.Status
	f.expect(t, http.MethodGet, "/api/tabs/t1", nil, http.StatusOK, &st)
	if st.Removed != 1 || st.Rules != 1 {
		t.Fatalf("status: %+v", st)
	}

	resp, body := f.do(t, http.MethodGet, "/api/tabs/t1/snapshot", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot: %d %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), `class="ad"`) {
		t.Errorf("removed element in snapshot: %s", body)
	}
	if resp.Header.Get(HeaderRemoved) != "1" || resp.Header.Get(HeaderSnapshotID) == "" || len(resp.Header.Get(HeaderHTMLHash)) != 64 {
		t.Errorf("headers: %v", resp.Header)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type: %s", ct)
	}
}

func TestSnapshotFormats(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://news.example.com/a"}, http.StatusCreated, nil)

	resp, body := f.do(t, http.MethodGet, "/api/tabs/t1/snapshot?format=markdown", nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown") {
		t.Fatalf("markdown: %d %v", resp.StatusCode, resp.Header)
	}
	if !strings.Contains(string(body), "# Headline") {
		t.Errorf("markdown body: %s", body)
	}

	f.expect(t, http.MethodGet, "/api/tabs/t1/snapshot?format=pdf", nil, http.StatusBadRequest, nil)
	f.expect(t, http.MethodGet, "/api/tabs/t9/snapshot", nil, http.StatusNotFound, nil)
}

func TestPickerOverHTTP(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://news.example.com/a"}, http.StatusCreated, nil)
	f.expect(t, http.MethodPost, "/api/commands/activate-picker", nil, http.StatusOK, nil)

	var ev eventResponse
	f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "click", XPath: "/html/body/p"}, http.StatusOK, &ev)
	if !ev.Consumed || !ev.DefaultPrevented || !ev.PropagationStopped {
		t.Fatalf("click: %+v", ev)
	}
	for _, target := range []string{"dialog:action=remove", "dialog:save"} {
		f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "click", XPath: target}, http.StatusOK, nil)
	}

	waitFor(t, "rule saved", func() bool {
		rules, err := f.coord.Rules(context.Background(), "news.example.com")
		return err == nil && len(rules.Rules) == 1
	})
	rules, _ := f.coord.Rules(context.Background(), "news.example.com")
	if r := rules.Rules[0]; r.Selector != "#keep" || r.Action != rule.Remove {
		t.Errorf("saved rule: %+v", r)
	}
	waitFor(t, "element removed", func() bool {
		p, _ := f.pages.Get("t1")
		st, err := p.Status(context.Background())
		return err == nil && st.Removed == 1
	})
}

func TestEventErrors(t *testing.T) {
	f := newFixture(t, true)
	f.expect(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://news.example.com/a"}, http.StatusCreated, nil)

	f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "scroll"}, http.StatusBadRequest, nil)
	f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "click", XPath: "/html/body/section"}, http.StatusUnprocessableEntity, nil)
	f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "click", XPath: "dialog:save"}, http.StatusUnprocessableEntity, nil)
	f.expect(t, http.MethodPost, "/api/tabs/t2/events", eventRequest{Type: "click"}, http.StatusNotFound, nil)

	var ev eventResponse
	f.expect(t, http.MethodPost, "/api/tabs/t1/events", eventRequest{Type: "click", XPath: "/html/body/h1"}, http.StatusOK, &ev)
	if ev.Consumed || ev.DefaultPrevented {
		t.Errorf("idle picker consumed click: %+v", ev)
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Errorf("headers: %v", resp.Header)
	}
	if !strings.Contains(resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'") {
		t.Errorf("csp: %q", resp.Header.Get("Content-Security-Policy"))
	}
}

func TestBodyLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.WithLogger(logger))
	c := coordinator.New(store.OpenMemory(t), b, coordinator.WithLogger(logger))
	h := New(Config{Coordinator: c, Logger: logger, MaxBody: 32})

	body := `{"selector": "` + strings.Repeat("div ", 20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/rules/a.com", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want 413 (%s)", rec.Code, rec.Body)
	}
}
