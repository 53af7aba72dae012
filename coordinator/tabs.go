package coordinator

import (
	"context"
	"sort"

	"github.com/hazyhaar/zapelm/message"
)

// ContentReady registers a tab that finished loading and pushes its enable
// state and rules. A disabled domain override wins over the tab's own
// activation flag.
func (c *Coordinator) ContentReady(ctx context.Context, tabID, host, rawURL string) {
	if tabID == "" {
		return
	}
	if host == "" {
		host = HostnameFromURL(rawURL)
	}

	c.mu.Lock()
	enabled, ok := c.activation[tabID]
	if !ok {
		enabled = true
		c.activation[tabID] = true
	}
	if v, ok := c.overrides[host]; ok {
		enabled = v
	}
	c.tabs[tabID] = Tab{ID: tabID, Hostname: host, URL: rawURL}
	if c.activeTab == "" {
		c.activeTab = tabID
	}
	debug := c.debug
	c.mu.Unlock()

	c.logger.Debug("coordinator: content ready", "tab_id", tabID, "hostname", host)

	c.dispatch(ctx, tabID, message.NewSetEnabled(enabled, message.ReasonCommand))
	if debug {
		c.dispatch(ctx, tabID, message.NewSetDebug(true))
	}
	rules, err := c.store.GetRulesForHostname(ctx, host)
	if err != nil {
		c.logger.Error("coordinator: rules for new tab", "tab_id", tabID, "hostname", host, "error", err)
		return
	}
	c.dispatch(ctx, tabID, message.NewApplyRules(rules))
}

// TabLoading resets a tab's activation flag when it starts a navigation.
func (c *Coordinator) TabLoading(tabID string) {
	c.mu.Lock()
	c.activation[tabID] = true
	c.mu.Unlock()
}

// TabRemoved forgets a closed tab.
func (c *Coordinator) TabRemoved(tabID string) {
	c.mu.Lock()
	delete(c.activation, tabID)
	delete(c.tabs, tabID)
	if c.activeTab == tabID {
		c.activeTab = ""
	}
	c.mu.Unlock()
}

// Tabs lists the registered tabs by id.
func (c *Coordinator) Tabs() []Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tab, 0, len(c.tabs))
	for id, t := range c.tabs {
		t.Enabled = c.tabEnabledLocked(id, t.Hostname)
		t.Active = id == c.activeTab
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) tabEnabledLocked(id, host string) bool {
	if v, ok := c.overrides[host]; ok {
		return v
	}
	enabled, ok := c.activation[id]
	return !ok || enabled
}

// SetActiveTab makes tabID the target of commands.
func (c *Coordinator) SetActiveTab(tabID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tabs[tabID]; !ok {
		return ErrUnknownTab
	}
	c.activeTab = tabID
	return nil
}

// ActiveTab returns the active tab id, or "".
func (c *Coordinator) ActiveTab() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTab
}

// ActivatePicker sends activatePicker to the active tab.
func (c *Coordinator) ActivatePicker(ctx context.Context) error {
	id := c.ActiveTab()
	if id == "" {
		return ErrNoActiveTab
	}
	c.dispatch(ctx, id, message.NewActivatePicker())
	return nil
}

// ToggleEnabled flips the active tab's activation flag and pushes it. It
// returns the new state.
func (c *Coordinator) ToggleEnabled(ctx context.Context) (bool, error) {
	c.mu.Lock()
	id := c.activeTab
	if id == "" {
		c.mu.Unlock()
		return false, ErrNoActiveTab
	}
	current, ok := c.activation[id]
	if !ok {
		current = true
	}
	next := !current
	c.activation[id] = next
	c.mu.Unlock()

	c.logger.Info("coordinator: tab toggled", "tab_id", id, "enabled", next)
	c.dispatch(ctx, id, message.NewSetEnabled(next, message.ReasonCommand))
	return next, nil
}

// SetDebug switches debug logging in every tab, now and for tabs that
// register later.
func (c *Coordinator) SetDebug(ctx context.Context, on bool) {
	c.mu.Lock()
	c.debug = on
	ids := make([]string, 0, len(c.tabs))
	for id := range c.tabs {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		c.dispatch(ctx, id, message.NewSetDebug(on))
	}
}

// Debug reports the debug setting.
func (c *Coordinator) Debug() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debug
}
