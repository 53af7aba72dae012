// Package page hosts the per-page logic: it owns a mirrored document, the
// enforcement engine and the picker, and talks to the coordinator over the
// bus.
//
// Every document mutation runs on the page's own goroutine. Other goroutines
// submit work with Do or Post. After each task the pending insert records
// are delivered, so observe rules act on nodes inserted by that task before
// the next task starts.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/dom"
	"github.com/hazyhaar/zapelm/enforce"
	"github.com/hazyhaar/zapelm/internal/bus"
	"github.com/hazyhaar/zapelm/message"
	"github.com/hazyhaar/zapelm/picker"
	"github.com/hazyhaar/zapelm/rule"
)

// ErrClosed is returned when work is submitted to a closed page.
var ErrClosed = errors.New("page: closed")

// Notices shown to the user.
const (
	NoticeDisabled   = "Temporarily disabled ZAPELM"
	NoticeReenabled  = "ZAPELM has been re-enabled"
	NoticeInactive   = "ZAPELM is disabled (press Alt+Shift+X to re-enable)"
	NoticeSaved      = "Rule saved"
	NoticeSaveFailed = "Failed to save the rule: "
	NoticeSaveError  = "An error occurred while saving the rule"
)

// Metrics extends the engine metrics with picker outcomes.
type Metrics interface {
	enforce.Metrics
	PickerOutcome(outcome string)
}

// Config describes a page context.
type Config struct {
	TabID    string
	URL      string
	Document *dom.Document // nil starts from an empty document
	Bus      *bus.Bus
	Geometry picker.Geometry
	Logger   *slog.Logger
	Metrics  Metrics
	Debug    bool

	// OnChange is called on the page goroutine after the enforced document
	// changed. It must not block or call Do.
	OnChange func(tabID string)

	ToastDuration time.Duration
	SaveTimeout   time.Duration
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ToastDuration <= 0 {
		c.ToastDuration = 2400 * time.Millisecond
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
}

// Page is one mirrored page context.
type Page struct {
	cfg      Config
	tabID    string
	url      string
	hostname string
	bus      *bus.Bus
	level    *slog.LevelVar
	logger   *slog.Logger

	// Owned by the loop goroutine.
	doc     *dom.Document
	engine  *enforce.Engine
	picker  *picker.Picker
	rules   []rule.Rule
	enabled bool
	toasts  []*toast
	seq     uint64 // last applied batch

	tasks     chan func()
	done      chan struct{}
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// New builds a page context. Call Start to run it.
func New(cfg Config) (*Page, error) {
	cfg.defaults()
	if cfg.TabID == "" {
		return nil, fmt.Errorf("page: empty tab id")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("page: parse url: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(&levelHandler{inner: cfg.Logger.Handler(), level: level}).
		With("tab_id", cfg.TabID, "hostname", u.Hostname())

	p := &Page{
		cfg:      cfg,
		tabID:    cfg.TabID,
		url:      cfg.URL,
		hostname: u.Hostname(),
		bus:      cfg.Bus,
		level:    level,
		logger:   logger,
		enabled:  true,
		tasks:    make(chan func()),
		done:     make(chan struct{}),
	}
	doc := cfg.Document
	if doc == nil {
		doc = dom.New()
	}
	p.attach(doc)
	return p, nil
}

// attach wires the engine and picker to doc.
func (p *Page) attach(doc *dom.Document) {
	doc.XPathSkip = owned
	p.doc = doc
	var metrics enforce.Metrics
	if p.cfg.Metrics != nil {
		metrics = p.cfg.Metrics
	}
	p.engine = enforce.New(doc,
		enforce.WithLogger(p.logger),
		enforce.WithNotifier(p.showToast),
		enforce.WithMetrics(metrics),
		enforce.WithExclude(owned),
	)
	p.picker = picker.New(doc,
		picker.WithLogger(p.logger),
		picker.WithGeometry(p.cfg.Geometry),
		picker.WithNotifier(p.showToast),
		picker.WithResult(p.onPicked),
	)
}

// owned reports whether n was injected by zapelm.
func owned(n *html.Node) bool {
	return picker.IsPickerElement(n) || dom.Attr(n, enforce.OriginAttr) == enforce.OriginValue
}

// XPath returns the path of a mirror node as the source page sees it, with
// page-owned nodes left out.
func XPath(n *html.Node) string { return dom.PathOf(n, owned) }

// TabID returns the page's tab id.
func (p *Page) TabID() string { return p.tabID }

// URL returns the page URL.
func (p *Page) URL() string { return p.url }

// Hostname returns the hostname rules are keyed by.
func (p *Page) Hostname() string { return p.hostname }

// Start runs the page goroutine, registers the page on the bus and
// announces it to the coordinator. It returns once the announcement has been
// handled or has failed; a failed announcement is logged, not returned.
func (p *Page) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
		if p.bus == nil {
			return
		}
		p.bus.Register(message.TabService(p.tabID), p.HandleMessage)
		p.NotifyReady(ctx)
	})
}

// NotifyReady sends contentReady to the coordinator.
func (p *Page) NotifyReady(ctx context.Context) {
	if p.bus == nil {
		return
	}
	msg := message.NewContentReady(p.tabID, p.hostname, p.url)
	if _, err := p.bus.Call(ctx, message.CoordinatorService, message.Encode(msg)); err != nil {
		p.logger.Error("page: contentReady notification failed", "error", err)
	}
}

// Close unregisters the page and stops its goroutine. Engine state,
// including removal records, is discarded with the page.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		if p.bus != nil {
			p.bus.Unregister(message.TabService(p.tabID))
		}
		if p.cancel == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = p.Do(ctx, func() {
			p.picker.Stop()
			p.engine.Teardown()
			for _, t := range p.toasts {
				t.timer.Stop()
			}
			p.toasts = nil
		})
		cancel()
		p.cancel()
		<-p.done
	})
}

func (p *Page) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.tasks:
			p.exec(fn)
		}
	}
}

func (p *Page) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("page: task panic recovered", "panic", r)
		}
	}()
	fn()
	p.doc.Deliver()
}

// Do runs fn on the page goroutine and waits for it to finish.
func (p *Page) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	task := func() {
		defer close(ran)
		fn()
		p.doc.Deliver()
	}
	select {
	case p.tasks <- task:
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn on the page goroutine without waiting for it. It reports
// false when the page is closed.
func (p *Page) Post(fn func()) bool {
	select {
	case p.tasks <- fn:
		return true
	case <-p.done:
		return false
	}
}

func (p *Page) changed() {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(p.tabID)
	}
}

// applyActive enforces the stored rule set when the page is enabled.
func (p *Page) applyActive() {
	if !p.enabled {
		return
	}
	p.engine.ApplyRules(p.rules)
	p.changed()
}

// setEnabled flips the page-level switch.
func (p *Page) setEnabled(next bool) {
	if p.enabled == next {
		return
	}
	p.enabled = next
	if !next {
		p.picker.Stop()
		p.engine.Teardown()
		restored := p.engine.Restore()
		p.logger.Debug("page: disabled", "restored", restored)
		p.showToast(NoticeDisabled, enforce.LevelInfo)
		p.changed()
		return
	}
	p.showToast(NoticeReenabled, enforce.LevelSuccess)
	p.applyActive()
}

// Status is a point-in-time view of the page.
type Status struct {
	TabID       string   `json:"tabId"`
	URL         string   `json:"url"`
	Hostname    string   `json:"hostname"`
	Enabled     bool     `json:"enabled"`
	Debug       bool     `json:"debug"`
	Rules       int      `json:"rules"`
	Removed     int      `json:"removed"`
	Bindings    []string `json:"bindings"`
	PickerState string   `json:"pickerState"`
	Toasts      []string `json:"toasts"`
	HideCSS     string   `json:"hideCss,omitempty"`
}

// Status collects the page state on its goroutine.
func (p *Page) Status(ctx context.Context) (Status, error) {
	var s Status
	err := p.Do(ctx, func() {
		s = Status{
			TabID:       p.tabID,
			URL:         p.url,
			Hostname:    p.hostname,
			Enabled:     p.enabled,
			Debug:       p.level.Level() <= slog.LevelDebug,
			Rules:       len(rule.Enabled(p.rules)),
			Removed:     p.engine.RecordCount(),
			Bindings:    p.engine.Bindings(),
			PickerState: p.picker.State().String(),
			Toasts:      p.toastMessages(),
			HideCSS:     p.engine.StyleText(),
		}
	})
	return s, err
}

// Inspect runs fn on the page goroutine with the live document. fn must not
// retain the document.
func (p *Page) Inspect(ctx context.Context, fn func(doc *dom.Document)) error {
	return p.Do(ctx, func() { fn(p.doc) })
}
