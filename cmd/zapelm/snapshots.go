package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/zapelm/internal/sink"
	"github.com/hazyhaar/zapelm/page"
)

// snapshotter sends a page snapshot to the sinks once the page has been
// quiet for the debounce window. Unchanged documents are not resent.
type snapshotter struct {
	page     *page.Page
	sink     sink.Sink
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	last    string
	stopped bool
}

// touch is the page OnChange hook. It runs on the page goroutine.
func (s *snapshotter) touch(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.sink == nil {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

func (s *snapshotter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := s.page.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("zapelm: snapshot failed", "error", err)
		return
	}
	s.mu.Lock()
	if s.stopped || snap.HTMLHash == s.last {
		s.mu.Unlock()
		return
	}
	s.last = snap.HTMLHash
	s.mu.Unlock()

	if err := s.sink.SendSnapshot(ctx, *snap); err != nil {
		s.logger.Error("zapelm: snapshot delivery failed", "snapshot_id", snap.ID, "error", err)
		return
	}
	s.logger.Debug("zapelm: snapshot sent", "snapshot_id", snap.ID, "removed", snap.Removed)
}

func (s *snapshotter) stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}
