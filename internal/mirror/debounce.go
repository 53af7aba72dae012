package mirror

import (
	"time"

	"github.com/hazyhaar/zapelm/mutation"
)

// debouncer collects records and flushes them when the window expires or
// the buffer fills. It is owned by the mirror loop.
type debouncer struct {
	window  time.Duration
	max     int
	records []mutation.Record
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]mutation.Record)
}

func newDebouncer(window time.Duration, max int, flushFn func([]mutation.Record)) *debouncer {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 1000
	}
	return &debouncer{
		window:  window,
		max:     max,
		records: make([]mutation.Record, 0, max),
		flushFn: flushFn,
	}
}

// add buffers rec and restarts the window. It reports whether the buffer
// filled and was flushed.
func (d *debouncer) add(rec mutation.Record) bool {
	d.records = append(d.records, rec)
	if len(d.records) >= d.max {
		d.flush()
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires. It is nil while the buffer is
// empty.
func (d *debouncer) timerC() <-chan time.Time { return d.timerCh }

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.records) == 0 {
		return
	}
	out := compress(d.records)
	d.records = make([]mutation.Record, 0, d.max)
	d.flushFn(out)
}

// discard drops the buffer without flushing.
func (d *debouncer) discard() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	d.records = d.records[:0]
}

// compress folds runs of attr changes on the same (xpath, name) and text
// changes on the same xpath into their last value, keeping the first
// OldValue. Structural records are never folded.
func compress(records []mutation.Record) []mutation.Record {
	if len(records) <= 1 {
		return records
	}
	out := make([]mutation.Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if rec.Op != mutation.OpAttr && rec.Op != mutation.OpText {
			out = append(out, rec)
			continue
		}
		firstOld := rec.OldValue
		j := i + 1
		for j < len(records) && sameTarget(rec, records[j]) {
			rec = records[j]
			j++
		}
		rec.OldValue = firstOld
		out = append(out, rec)
		i = j - 1
	}
	return out
}

func sameTarget(a, b mutation.Record) bool {
	if a.Op != b.Op || a.XPath != b.XPath {
		return false
	}
	return a.Op == mutation.OpText || a.Name == b.Name
}
