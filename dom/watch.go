package dom

import "golang.org/x/net/html"

// Watch observes node insertions under a root, like a MutationObserver
// registered with childList and subtree. Records are queued when a node is
// inserted and delivered by Document.Deliver.
type Watch struct {
	doc       *Document
	root      *html.Node
	onInsert  func(*html.Node)
	connected bool
}

type insertRecord struct {
	watch *Watch
	node  *html.Node
}

// Watch starts observing insertions inside root's subtree.
func (d *Document) Watch(root *html.Node, onInsert func(*html.Node)) *Watch {
	w := &Watch{doc: d, root: root, onInsert: onInsert, connected: true}
	d.watches = append(d.watches, w)
	return w
}

// Root returns the observed root.
func (w *Watch) Root() *html.Node { return w.root }

// Connected reports whether the watch still receives records.
func (w *Watch) Connected() bool { return w.connected }

// Disconnect stops the watch and discards its pending records. It is safe to
// call more than once.
func (w *Watch) Disconnect() {
	if !w.connected {
		return
	}
	w.connected = false
	d := w.doc
	for i, o := range d.watches {
		if o == w {
			d.watches = append(d.watches[:i], d.watches[i+1:]...)
			break
		}
	}
	kept := d.queue[:0]
	for _, r := range d.queue {
		if r.watch != w {
			kept = append(kept, r)
		}
	}
	d.queue = kept
}

func (d *Document) queueInsert(node *html.Node) {
	if len(d.watches) == 0 {
		return
	}
	for _, w := range d.watches {
		// The inserted node must land strictly inside the watched root.
		if node != w.root && Contains(w.root, node) {
			d.queue = append(d.queue, insertRecord{watch: w, node: node})
		}
	}
}

// Pending returns the number of queued insert records.
func (d *Document) Pending() int { return len(d.queue) }

// maxDeliveryRounds bounds re-entrant delivery when callbacks keep inserting.
const maxDeliveryRounds = 64

// Deliver drains queued insert records and invokes watch callbacks in
// insertion order. Records produced by callbacks are delivered in the next
// round of the same call. It returns the number of records delivered.
func (d *Document) Deliver() int {
	delivered := 0
	for round := 0; round < maxDeliveryRounds && len(d.queue) > 0; round++ {
		batch := d.queue
		d.queue = nil
		for _, r := range batch {
			if !r.watch.connected {
				continue
			}
			delivered++
			r.watch.onInsert(r.node)
		}
	}
	return delivered
}
