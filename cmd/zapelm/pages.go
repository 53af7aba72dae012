package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/coordinator"
	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/internal/browser"
	"github.com/hazyhaar/zapelm/internal/bus"
	"github.com/hazyhaar/zapelm/internal/config"
	"github.com/hazyhaar/zapelm/internal/fetcher"
	"github.com/hazyhaar/zapelm/internal/metrics"
	"github.com/hazyhaar/zapelm/internal/mirror"
	"github.com/hazyhaar/zapelm/internal/sink"
	"github.com/hazyhaar/zapelm/mutation"
	"github.com/hazyhaar/zapelm/page"
	"github.com/hazyhaar/zapelm/picker"
)

var errNoTab = errors.New("zapelm: page has no browser tab")

// pageManager opens pages by fetching or rendering them, keeps live tabs
// mirrored and tears everything down on close.
type pageManager struct {
	ctx       context.Context
	bus       *bus.Bus
	coord     *coordinator.Coordinator
	fetcher   *fetcher.Fetcher
	browser   *browser.Manager
	collector *metrics.Collector // nil when metrics are off
	sink      sink.Sink          // nil when no sink is configured
	mirrorCfg config.MirrorConfig
	debounce  time.Duration
	logger    *slog.Logger

	browserMu sync.Mutex

	mu      sync.Mutex
	seq     int
	entries map[string]*entry
}

type entry struct {
	cfg        config.PageConfig
	configured bool // came from the config file
	live       bool // loaded through Chrome
	page       *page.Page
	geo        *tabGeometry
	snap       *snapshotter

	mu     sync.Mutex
	tab    *browser.Tab
	mirror *mirror.Mirror
}

// tabGeometry forwards layout queries to the entry's current tab, which
// changes when Chrome is recycled.
type tabGeometry struct {
	mu  sync.RWMutex
	geo picker.Geometry
}

func (g *tabGeometry) set(tab *browser.Tab) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tab == nil {
		g.geo = nil
		return
	}
	g.geo = tab.Geometry(page.XPath)
}

func (g *tabGeometry) BoundingRect(n *html.Node) (picker.Rect, error) {
	g.mu.RLock()
	geo := g.geo
	g.mu.RUnlock()
	if geo == nil {
		return picker.Rect{}, errNoTab
	}
	return geo.BoundingRect(n)
}

func (g *tabGeometry) Scroll() (float64, float64, error) {
	g.mu.RLock()
	geo := g.geo
	g.mu.RUnlock()
	if geo == nil {
		return 0, 0, errNoTab
	}
	return geo.Scroll()
}

// Open implements httpapi.Pages.
func (m *pageManager) Open(ctx context.Context, rawURL, mode string) (*page.Page, error) {
	if mode == "" {
		mode = config.ModeAuto
	}
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("tab-%d", m.seq)
	m.mu.Unlock()
	e, err := m.open(ctx, config.PageConfig{ID: id, URL: rawURL, Mode: mode}, false)
	if err != nil {
		return nil, err
	}
	return e.page, nil
}

// Get implements httpapi.Pages.
func (m *pageManager) Get(tabID string) (*page.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tabID]
	if !ok {
		return nil, false
	}
	return e.page, true
}

// Close implements httpapi.Pages.
func (m *pageManager) Close(tabID string) error {
	m.mu.Lock()
	e, ok := m.entries[tabID]
	delete(m.entries, tabID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", coordinator.ErrUnknownTab, tabID)
	}
	m.teardown(e)
	return nil
}

// CloseAll closes every page.
func (m *pageManager) CloseAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for id, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, id)
	}
	m.mu.Unlock()
	for _, e := range entries {
		m.teardown(e)
	}
}

// Sync reconciles the configured pages with the config file: new ids are
// opened, missing ids are closed and ids whose url, mode or follow flag
// changed are reopened. Pages opened through the API are left alone.
func (m *pageManager) Sync(ctx context.Context, pages []config.PageConfig) {
	want := make(map[string]config.PageConfig, len(pages))
	for _, pc := range pages {
		want[pc.ID] = pc
	}

	m.mu.Lock()
	var stale []string
	have := make(map[string]bool)
	for id, e := range m.entries {
		if !e.configured {
			continue
		}
		if pc, ok := want[id]; !ok || pc != e.cfg {
			stale = append(stale, id)
			continue
		}
		have[id] = true
	}
	m.mu.Unlock()

	for _, id := range stale {
		_ = m.Close(id)
	}
	for _, pc := range pages {
		if have[pc.ID] {
			continue
		}
		if _, err := m.open(ctx, pc, true); err != nil {
			m.logger.Error("zapelm: open configured page", "page_id", pc.ID, "url", pc.URL, "error", err)
		}
	}
}

func (m *pageManager) open(ctx context.Context, pc config.PageConfig, configured bool) (*entry, error) {
	m.mu.Lock()
	if _, dup := m.entries[pc.ID]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("zapelm: page %s already open", pc.ID)
	}
	m.mu.Unlock()

	markup, tab, err := m.acquire(ctx, pc)
	if err != nil {
		return nil, err
	}
	doc, err := dom.ParseString(markup)
	if err != nil {
		closeTab(tab)
		return nil, fmt.Errorf("zapelm: parse %s: %w", pc.URL, err)
	}

	e := &entry{cfg: pc, configured: configured, live: tab != nil, geo: &tabGeometry{}, tab: tab}
	e.geo.set(tab)
	e.snap = &snapshotter{sink: m.sink, debounce: m.debounce, logger: m.logger.With("tab_id", pc.ID)}

	pcfg := page.Config{
		TabID:    pc.ID,
		URL:      pc.URL,
		Document: doc,
		Bus:      m.bus,
		Logger:   m.logger,
		Debug:    m.coord.Debug(),
		OnChange: e.snap.touch,
	}
	if tab != nil {
		pcfg.Geometry = e.geo
	}
	if m.collector != nil {
		pcfg.Metrics = m.collector.ForPage(pc.ID)
	}
	p, err := page.New(pcfg)
	if err != nil {
		closeTab(tab)
		return nil, err
	}
	e.page = p
	e.snap.page = p

	m.mu.Lock()
	if _, dup := m.entries[pc.ID]; dup {
		m.mu.Unlock()
		closeTab(tab)
		return nil, fmt.Errorf("zapelm: page %s already open", pc.ID)
	}
	m.entries[pc.ID] = e
	m.mu.Unlock()

	p.Start(m.ctx)
	if err := m.follow(e); err != nil {
		m.logger.Warn("zapelm: live mirror unavailable", "tab_id", pc.ID, "error", err)
	}
	e.snap.touch(pc.ID)
	m.logger.Info("zapelm: page open", "tab_id", pc.ID, "url", pc.URL, "mode", pc.Mode, "browser", tab != nil)
	return e, nil
}

// acquire loads the page markup. Auto mode tries a plain fetch first and
// falls back to Chrome when the document looks script-rendered or when the
// page must be followed live.
func (m *pageManager) acquire(ctx context.Context, pc config.PageConfig) (string, *browser.Tab, error) {
	switch pc.Mode {
	case config.ModeHTTP:
		res, err := m.fetcher.Fetch(ctx, pc.URL)
		if err != nil {
			return "", nil, err
		}
		return string(res.HTML), nil, nil

	case config.ModeAuto:
		if !pc.Follow {
			res, err := m.fetcher.Fetch(ctx, pc.URL)
			if err == nil && res.Sufficient {
				return string(res.HTML), nil, nil
			}
			m.logger.Debug("zapelm: falling back to browser", "page_id", pc.ID, "fetch_error", err)
		}
	}

	tab, err := m.openTab(ctx, pc)
	if err != nil {
		return "", nil, err
	}
	markup, err := tab.HTML(ctx)
	if err != nil {
		closeTab(tab)
		return "", nil, err
	}
	return markup, tab, nil
}

func (m *pageManager) openTab(ctx context.Context, pc config.PageConfig) (*browser.Tab, error) {
	m.browserMu.Lock()
	if !m.browser.Started() {
		if err := m.browser.Start(m.ctx); err != nil {
			m.browserMu.Unlock()
			return nil, err
		}
	}
	m.browserMu.Unlock()
	return m.browser.Open(ctx, pc.URL, pc.ID)
}

// follow attaches a live mirror when the entry asked for one and has a tab.
func (m *pageManager) follow(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Follow || e.tab == nil {
		return nil
	}
	p := e.page
	mr := mirror.New(mirror.Config{
		Page:      e.tab.Page,
		PageID:    e.cfg.ID,
		PageURL:   e.cfg.URL,
		Window:    m.mirrorCfg.Window,
		MaxBuffer: m.mirrorCfg.MaxBuffer,
		Logger:    m.logger,
		OnBatch: func(ctx context.Context, b *mutation.Batch) error {
			res, err := p.ApplyBatch(ctx, b)
			if res.Skipped > 0 {
				m.logger.Debug("zapelm: batch records skipped", "tab_id", e.cfg.ID, "seq", b.Seq, "skipped", res.Skipped)
			}
			return err
		},
	})
	if err := mr.Start(m.ctx); err != nil {
		return err
	}
	e.mirror = mr
	return nil
}

func (m *pageManager) teardown(e *entry) {
	e.snap.stop()
	e.mu.Lock()
	if e.mirror != nil {
		e.mirror.Stop()
		e.mirror = nil
	}
	closeTab(e.tab)
	e.tab = nil
	e.mu.Unlock()
	e.geo.set(nil)

	e.page.Close()
	m.coord.TabRemoved(e.cfg.ID)
	if m.collector != nil {
		m.collector.ForgetPage(e.cfg.ID)
	}
	m.logger.Info("zapelm: page closed", "tab_id", e.cfg.ID)
}

// recycleCallback detaches every live tab before Chrome restarts and
// reloads them afterwards.
func (m *pageManager) recycleCallback() *browser.RecycleCallback {
	return &browser.RecycleCallback{
		BeforeRecycle: func() {
			for _, e := range m.browserEntries() {
				e.mu.Lock()
				if e.mirror != nil {
					e.mirror.Stop()
					e.mirror = nil
				}
				e.tab = nil
				e.mu.Unlock()
				e.geo.set(nil)
			}
		},
		AfterRecycle: func(ctx context.Context) {
			for _, e := range m.browserEntries() {
				if err := m.reopen(ctx, e); err != nil {
					m.logger.Error("zapelm: reopen after recycle", "tab_id", e.cfg.ID, "error", err)
				}
			}
		},
	}
}

// browserEntries lists pages that were loaded through Chrome.
func (m *pageManager) browserEntries() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entry
	for _, e := range m.entries {
		if e.live {
			out = append(out, e)
		}
	}
	return out
}

func (m *pageManager) reopen(ctx context.Context, e *entry) error {
	m.coord.TabLoading(e.cfg.ID)
	tab, err := m.browser.Open(ctx, e.cfg.URL, e.cfg.ID)
	if err != nil {
		return err
	}
	markup, err := tab.HTML(ctx)
	if err != nil {
		closeTab(tab)
		return err
	}
	e.mu.Lock()
	e.tab = tab
	e.mu.Unlock()
	e.geo.set(tab)

	if err := e.page.LoadHTML(ctx, markup); err != nil {
		return err
	}
	e.page.NotifyReady(ctx)
	return m.follow(e)
}

func closeTab(tab *browser.Tab) {
	if tab != nil {
		_ = tab.Close()
	}
}
