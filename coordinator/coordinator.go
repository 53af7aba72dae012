// Package coordinator is the background side of zapelm: it owns rule
// persistence, tracks page contexts (tabs) and pushes rule sets and enable
// state to them over the bus.
//
// Dispatch to a tab whose service is gone is expected (the page closed
// between lookup and send) and is swallowed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/zapelm/internal/bus"
	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/rule"
)

// ErrNoActiveTab is returned by commands when no tab is active.
var ErrNoActiveTab = errors.New("coordinator: no active tab")

// ErrUnknownTab is returned for tab ids the coordinator does not know.
var ErrUnknownTab = errors.New("coordinator: unknown tab")

// Store is the rule persistence the coordinator needs.
type Store interface {
	LoadRuleMap(ctx context.Context) (rule.Map, error)
	SaveRuleMap(ctx context.Context, m rule.Map) error
	GetRulesForHostname(ctx context.Context, host string) ([]rule.Rule, error)
	SetRulesForHostname(ctx context.Context, host string, rules []rule.Rule) error
}

// Metrics counts coordinator events.
type Metrics interface {
	DispatchUnreachable()
}

// Tab is a registered page context.
type Tab struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
	Active   bool   `json:"active"`
}

// Coordinator handles rule CRUD and page fan-out.
type Coordinator struct {
	store   Store
	bus     *bus.Bus
	logger  *slog.Logger
	gen     rule.Generator
	now     func() time.Time
	metrics Metrics

	// writeMu serializes read-modify-write cycles on the store.
	writeMu sync.Mutex

	mu         sync.Mutex
	tabs       map[string]Tab
	activation map[string]bool
	overrides  map[string]bool // hostname -> false; only disabled is stored
	activeTab  string
	debug      bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithGenerator sets the rule id generator. Default: UUIDv7.
func WithGenerator(g rule.Generator) Option { return func(c *Coordinator) { c.gen = g } }

// WithClock sets the time source for rule timestamps.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithMetrics counts dispatches to tabs that are not listening.
func WithMetrics(m Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// New creates a coordinator. Call Register to expose it on the bus.
func New(store Store, b *bus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		bus:        b,
		tabs:       make(map[string]Tab),
		activation: make(map[string]bool),
		overrides:  make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.gen == nil {
		c.gen = rule.DefaultGenerator
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Register installs the coordinator service on the bus.
func (c *Coordinator) Register() {
	c.bus.Register(message.CoordinatorService, c.Handle)
}

// HostnameFromURL returns the hostname rules are keyed by, or "" when raw
// is not an absolute URL.
func HostnameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// --- rules ---

// Rules returns the rules of a hostname and whether the domain is enabled.
func (c *Coordinator) Rules(ctx context.Context, host string) (message.RuleResponse, error) {
	rules, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		return message.RuleResponse{}, fmt.Errorf("coordinator: get rules: %w", err)
	}
	return message.RuleResponse{Hostname: host, Rules: rules, DomainEnabled: c.DomainEnabled(host)}, nil
}

// AllRules returns the full rule map.
func (c *Coordinator) AllRules(ctx context.Context) (rule.Map, error) {
	m, err := c.store.LoadRuleMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load rules: %w", err)
	}
	return m, nil
}

// AddRule creates a rule for host, persists it and pushes the new list to
// the host's tabs.
func (c *Coordinator) AddRule(ctx context.Context, host string, in rule.Input) (rule.Rule, error) {
	if err := in.Validate(); err != nil {
		return rule.Rule{}, err
	}
	c.writeMu.Lock()
	existing, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		c.writeMu.Unlock()
		return rule.Rule{}, fmt.Errorf("coordinator: add rule: %w", err)
	}
	r := rule.New(in, c.gen, c.now())
	existing = append(existing, r)
	err = c.store.SetRulesForHostname(ctx, host, existing)
	c.writeMu.Unlock()
	if err != nil {
		return rule.Rule{}, fmt.Errorf("coordinator: add rule: %w", err)
	}
	c.logger.Info("coordinator: rule added", "hostname", host, "rule_id", r.ID, "selector", r.Selector)
	c.broadcastRules(ctx, host, existing)
	return r, nil
}

// UpdateRule patches one rule. It returns rule.ErrNotFound for unknown ids.
func (c *Coordinator) UpdateRule(ctx context.Context, host, id string, p rule.Patch) (rule.Rule, error) {
	if p.Selector != nil {
		if err := (rule.Input{Selector: *p.Selector}).Validate(); err != nil {
			return rule.Rule{}, err
		}
	}
	c.writeMu.Lock()
	existing, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		c.writeMu.Unlock()
		return rule.Rule{}, fmt.Errorf("coordinator: update rule: %w", err)
	}
	i := rule.Find(existing, id)
	if i < 0 {
		c.writeMu.Unlock()
		return rule.Rule{}, rule.ErrNotFound
	}
	existing[i] = existing[i].Apply(p, c.now())
	updated := existing[i]
	err = c.store.SetRulesForHostname(ctx, host, existing)
	c.writeMu.Unlock()
	if err != nil {
		return rule.Rule{}, fmt.Errorf("coordinator: update rule: %w", err)
	}
	c.logger.Info("coordinator: rule updated", "hostname", host, "rule_id", id)
	c.broadcastRules(ctx, host, existing)
	return updated, nil
}

// DeleteRule removes one rule. Deleting an unknown id succeeds.
func (c *Coordinator) DeleteRule(ctx context.Context, host, id string) error {
	c.writeMu.Lock()
	existing, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		c.writeMu.Unlock()
		return fmt.Errorf("coordinator: delete rule: %w", err)
	}
	next := make([]rule.Rule, 0, len(existing))
	for _, r := range existing {
		if r.ID != id {
			next = append(next, r)
		}
	}
	err = c.store.SetRulesForHostname(ctx, host, next)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("coordinator: delete rule: %w", err)
	}
	c.logger.Info("coordinator: rule deleted", "hostname", host, "rule_id", id)
	c.broadcastRules(ctx, host, next)
	return nil
}

// ImportRules replaces the whole rule map. Hostnames present before or
// after the import receive their new list.
func (c *Coordinator) ImportRules(ctx context.Context, data rule.Map) error {
	if data == nil {
		data = rule.Map{}
	}
	for host, rules := range data {
		for _, r := range rules {
			if r.ID == "" {
				return fmt.Errorf("coordinator: import: rule without id for %s", host)
			}
		}
	}
	c.writeMu.Lock()
	before, err := c.store.LoadRuleMap(ctx)
	if err != nil {
		c.writeMu.Unlock()
		return fmt.Errorf("coordinator: import: %w", err)
	}
	err = c.store.SaveRuleMap(ctx, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("coordinator: import: %w", err)
	}
	c.logger.Info("coordinator: rules imported", "hostnames", len(data))
	for _, host := range unionHosts(before, data) {
		c.broadcastRules(ctx, host, data[host])
	}
	return nil
}

// Refresh re-sends the stored rules of host to its tabs.
func (c *Coordinator) Refresh(ctx context.Context, host string) error {
	rules, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		return fmt.Errorf("coordinator: refresh: %w", err)
	}
	c.broadcastRules(ctx, host, rules)
	return nil
}

// Reload re-sends every hostname with open tabs its stored rules. It is
// used after external writes to the store.
func (c *Coordinator) Reload(ctx context.Context) error {
	for _, host := range c.tabHosts() {
		if err := c.Refresh(ctx, host); err != nil {
			return err
		}
	}
	return nil
}

func unionHosts(a, b rule.Map) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, m := range []rule.Map{a, b} {
		for h := range m {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}

// --- domain state ---

// DomainEnabled reports whether host has no disabled override.
func (c *Coordinator) DomainEnabled(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.overrides[host]
	return !ok || v
}

// ToggleDomain sets the domain override and pushes the state to the host's
// tabs. Enabling removes the override.
func (c *Coordinator) ToggleDomain(ctx context.Context, host string, enabled bool) {
	c.mu.Lock()
	if enabled {
		delete(c.overrides, host)
	} else {
		c.overrides[host] = false
	}
	c.mu.Unlock()
	c.logger.Info("coordinator: domain toggled", "hostname", host, "enabled", enabled)
	c.broadcastEnabled(ctx, host, enabled)
}

// --- fan-out ---

func (c *Coordinator) tabsFor(host string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, t := range c.tabs {
		if t.Hostname == host {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) tabHosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.tabs {
		if t.Hostname != "" && !seen[t.Hostname] {
			seen[t.Hostname] = true
			out = append(out, t.Hostname)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) broadcastRules(ctx context.Context, host string, rules []rule.Rule) {
	if rules == nil {
		rules = []rule.Rule{}
	}
	msg := message.NewApplyRules(rules)
	for _, id := range c.tabsFor(host) {
		c.dispatch(ctx, id, msg)
	}
}

func (c *Coordinator) broadcastEnabled(ctx context.Context, host string, enabled bool) {
	msg := message.NewSetEnabled(enabled, message.ReasonPopup)
	for _, id := range c.tabsFor(host) {
		c.dispatch(ctx, id, msg)
	}
}

// dispatch sends msg to one tab. Unreachable tabs are counted and ignored;
// other failures are logged.
func (c *Coordinator) dispatch(ctx context.Context, tabID string, msg message.Message) {
	_, err := c.bus.Call(ctx, message.TabService(tabID), message.Encode(msg))
	switch {
	case err == nil:
	case errors.Is(err, bus.ErrUnreachable):
		if c.metrics != nil {
			c.metrics.DispatchUnreachable()
		}
		c.logger.Debug("coordinator: tab unreachable", "tab_id", tabID, "type", msg.Type)
	default:
		c.logger.Error("coordinator: dispatch failed", "tab_id", tabID, "type", msg.Type, "error", err)
	}
}
