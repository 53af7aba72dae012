package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"

	"github.com/hazyhaar/zapelm/picker"
)

// ErrNoElement is returned when an XPath matches nothing in the live page.
var ErrNoElement = errors.New("browser: element not found")

// geometryTimeout bounds a single layout query.
const geometryTimeout = 5 * time.Second

// Tab is a Chrome tab showing the page a mirror follows.
type Tab struct {
	Page *rod.Page
	URL  string
	ID   string
}

// Open creates a tab, applies stealth and resource blocking, navigates to
// pageURL and waits for load. A load timeout is logged, not fatal.
func (m *Manager) Open(ctx context.Context, pageURL, id string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}

	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	m.cfg.Logger.Debug("browser: tab open", "id", id, "url", pageURL, "stealth", m.cfg.Stealth)
	return &Tab{Page: page, URL: pageURL, ID: id}, nil
}

// HTML serialises the live document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return "<!DOCTYPE html>" + res.Value.Str(), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}

// Geometry returns the layout source for a mirror of this tab. pathOf maps
// mirror nodes to XPaths the live page understands.
func (t *Tab) Geometry(pathOf func(*html.Node) string) picker.Geometry {
	return &geometry{tab: t, pathOf: pathOf}
}

type geometry struct {
	tab    *Tab
	pathOf func(*html.Node) string
}

func (g *geometry) BoundingRect(el *html.Node) (picker.Rect, error) {
	xp := g.pathOf(el)
	if xp == "" {
		return picker.Rect{}, ErrNoElement
	}
	p := g.tab.Page.Timeout(geometryTimeout)
	els, err := p.ElementsX(xp)
	if err != nil {
		return picker.Rect{}, fmt.Errorf("browser: resolve %s: %w", xp, err)
	}
	if len(els) == 0 {
		return picker.Rect{}, fmt.Errorf("%w: %s", ErrNoElement, xp)
	}
	shape, err := els[0].Shape()
	if err != nil {
		return picker.Rect{}, fmt.Errorf("browser: shape %s: %w", xp, err)
	}
	box := shape.Box()
	if box == nil {
		return picker.Rect{}, nil
	}
	return picker.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (g *geometry) Scroll() (float64, float64, error) {
	res, err := g.tab.Page.Timeout(geometryTimeout).Eval(`() => ({x: window.scrollX, y: window.scrollY})`)
	if err != nil {
		return 0, 0, fmt.Errorf("browser: scroll: %w", err)
	}
	return res.Value.Get("x").Num(), res.Value.Get("y").Num(), nil
}
