package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShouldBlock(t *testing.T) {
	blocked := blockSet([]string{"Images", " fonts", "media", "Script"})
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", true},
		{"Script", true},
		{"Stylesheet", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, tc := range tests {
		if got := shouldBlock(blocked, tc.typ); got != tc.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 || m.cfg.RecycleInterval != 4*time.Hour || m.cfg.NavigateTimeout != 30*time.Second {
		t.Errorf("defaults: %+v", m.cfg)
	}
	if m.cfg.Logger == nil {
		t.Error("nil logger")
	}
}

func TestOpenBeforeStart(t *testing.T) {
	m := NewManager(Config{})
	if m.Started() {
		t.Error("started before Start")
	}
	if _, err := m.Open(context.Background(), "https://a.com/", "t1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestClosedManager(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close: %v", err)
	}
	if err := m.Recycle(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Recycle after Close: %v", err)
	}
}
