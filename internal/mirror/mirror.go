// Package mirror follows a live Chrome tab through CDP DOM events and turns
// its mutations into debounced mutation batches addressed by XPath.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/hazyhaar/zapelm/mutation"
)

// BatchFunc receives each flushed batch. It runs on the mirror loop.
type BatchFunc func(ctx context.Context, b *mutation.Batch) error

// Config configures a Mirror.
type Config struct {
	Page      *rod.Page
	PageID    string
	PageURL   string
	Window    time.Duration // debounce window, default 250ms
	MaxBuffer int           // records that force a flush, default 1000
	OnBatch   BatchFunc
	Logger    *slog.Logger
}

// Stats counts what a mirror has emitted.
type Stats struct {
	Batches uint64
	Records uint64
	Dropped uint64 // events for nodes the mirror never saw
}

// Mirror turns DOM events of one tab into mutation batches.
type Mirror struct {
	cfg    Config
	src    source
	logger *slog.Logger

	events chan any

	// loop-owned
	tree *tree
	deb  *debouncer
	seq  uint64

	batches atomic.Uint64
	records atomic.Uint64
	dropped atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Mirror for cfg.Page. Call Start to begin.
func New(cfg Config) *Mirror {
	return newMirror(cfg, rodSource{page: cfg.Page})
}

func newMirror(cfg Config, src source) *Mirror {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Mirror{
		cfg:    cfg,
		src:    src,
		logger: cfg.Logger,
		events: make(chan any, 4096),
		tree:   newTree(),
	}
	m.deb = newDebouncer(cfg.Window, cfg.MaxBuffer, nil)
	return m
}

// Start enables the DOM domain, records the current document as a
// doc_reset, and follows mutations until Stop or ctx is done.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("mirror: already started")
	}
	if err := m.src.enable(); err != nil {
		return fmt.Errorf("mirror: enable DOM: %w", err)
	}
	reset, err := m.snapshot()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.deb.flushFn = func(recs []mutation.Record) { m.emit(context.WithoutCancel(ctx), recs) }
	m.deb.add(reset)

	go m.src.listen(ctx, func(ev any) {
		select {
		case m.events <- ev:
		case <-ctx.Done():
		}
	})
	go m.loop(ctx)

	m.logger.Info("mirror: following", "page_id", m.cfg.PageID, "url", m.cfg.PageURL, "nodes", m.tree.size())
	return nil
}

// Stop flushes pending records and stops following.
func (m *Mirror) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stats returns the mirror counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Batches: m.batches.Load(),
		Records: m.records.Load(),
		Dropped: m.dropped.Load(),
	}
}

func (m *Mirror) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.deb.flush()
			return
		case ev := <-m.events:
			m.handle(ev)
		case <-m.deb.timerC():
			m.deb.flush()
		}
	}
}

// snapshot rebuilds the node tree from the live document and returns the
// matching doc_reset record.
func (m *Mirror) snapshot() (mutation.Record, error) {
	root, err := m.src.document()
	if err != nil {
		return mutation.Record{}, fmt.Errorf("mirror: get document: %w", err)
	}
	m.tree.build(root)

	var docEl *node
	if m.tree.root != nil {
		for _, c := range m.tree.root.children {
			if c.typ == elementNode {
				docEl = c
				break
			}
		}
	}
	if docEl == nil {
		return mutation.Record{}, errors.New("mirror: document has no root element")
	}
	outer, err := m.src.outerHTML(docEl.id)
	if err != nil {
		return mutation.Record{}, fmt.Errorf("mirror: document html: %w", err)
	}
	return mutation.Record{Op: mutation.OpDocReset, XPath: "/", HTML: "<!DOCTYPE html>" + outer}, nil
}

func (m *Mirror) handle(ev any) {
	switch e := ev.(type) {
	case *proto.DOMChildNodeInserted:
		n, err := m.tree.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)
		if err != nil {
			m.drop("insert", err)
			return
		}
		rec := mutation.Record{
			Op:       mutation.OpInsert,
			XPath:    m.tree.path(n.parent),
			Position: m.tree.position(n),
			NodeType: n.typ,
		}
		switch n.typ {
		case elementNode:
			rec.Tag = n.name
			outer, err := m.src.outerHTML(n.id)
			if err != nil {
				m.logger.Debug("mirror: outer html", "node", n.id, "error", err)
				outer = renderNode(e.Node)
			}
			rec.HTML = outer
			if err := m.src.requestChildren(n.id); err != nil {
				m.logger.Debug("mirror: request children", "node", n.id, "error", err)
			}
		case textNode, commentNode:
			rec.Value = e.Node.NodeValue
		default:
			return
		}
		m.deb.add(rec)

	case *proto.DOMSetChildNodes:
		m.tree.setChildren(e.ParentID, e.Nodes)

	case *proto.DOMChildNodeRemoved:
		n, ok := m.tree.get(e.NodeID)
		if !ok {
			m.drop("remove", nil)
			return
		}
		xp := m.tree.path(n)
		m.tree.remove(e.NodeID)
		if n.typ != elementNode && n.typ != textNode && n.typ != commentNode {
			return
		}
		m.deb.add(mutation.Record{Op: mutation.OpRemove, XPath: xp, NodeType: n.typ})

	case *proto.DOMAttributeModified:
		if n, ok := m.element(e.NodeID, "attr"); ok {
			m.deb.add(mutation.Record{Op: mutation.OpAttr, XPath: m.tree.path(n), Name: e.Name, Value: e.Value})
		}

	case *proto.DOMAttributeRemoved:
		if n, ok := m.element(e.NodeID, "attr_del"); ok {
			m.deb.add(mutation.Record{Op: mutation.OpAttrDel, XPath: m.tree.path(n), Name: e.Name})
		}

	case *proto.DOMCharacterDataModified:
		n, ok := m.tree.get(e.NodeID)
		if !ok {
			m.drop("text", nil)
			return
		}
		m.deb.add(mutation.Record{Op: mutation.OpText, XPath: m.tree.path(n), Value: e.CharacterData})

	case *proto.DOMDocumentUpdated:
		rec, err := m.snapshot()
		if err != nil {
			m.logger.Warn("mirror: document reset", "page_id", m.cfg.PageID, "error", err)
			return
		}
		// Everything buffered addressed the old document.
		m.deb.discard()
		m.deb.add(rec)
	}
}

func (m *Mirror) element(id proto.DOMNodeID, op string) (*node, bool) {
	n, ok := m.tree.get(id)
	if !ok || n.typ != elementNode {
		m.drop(op, nil)
		return nil, false
	}
	return n, true
}

func (m *Mirror) drop(op string, err error) {
	m.dropped.Add(1)
	m.logger.Debug("mirror: event for unknown node", "op", op, "error", err)
}

func (m *Mirror) emit(ctx context.Context, recs []mutation.Record) {
	m.seq++
	b := &mutation.Batch{
		ID:        uuid.Must(uuid.NewV7()).String(),
		PageURL:   m.cfg.PageURL,
		PageID:    m.cfg.PageID,
		Seq:       m.seq,
		Records:   recs,
		Timestamp: time.Now().UnixMilli(),
	}
	m.batches.Add(1)
	m.records.Add(uint64(len(recs)))
	if m.cfg.OnBatch == nil {
		return
	}
	if err := m.cfg.OnBatch(ctx, b); err != nil {
		m.logger.Warn("mirror: batch handler", "page_id", m.cfg.PageID, "seq", b.Seq, "error", err)
	}
}
