package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.DBPath != "zapelm.db" || cfg.LogLevel != "info" {
		t.Errorf("top-level defaults: %+v", cfg)
	}
	if cfg.Mirror.Window != 250*time.Millisecond || cfg.Mirror.MaxBuffer != 1000 {
		t.Errorf("mirror defaults: %+v", cfg.Mirror)
	}
	if cfg.StoreWatch.Interval != 200*time.Millisecond || cfg.StoreWatch.Debounce != 500*time.Millisecond {
		t.Errorf("store watch defaults: %+v", cfg.StoreWatch)
	}
	if cfg.Metrics.Namespace != "zapelm" {
		t.Errorf("metrics namespace %q", cfg.Metrics.Namespace)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
db_path: /var/lib/zapelm/rules.db
log_level: debug
http:
  addr: ":8080"
pages:
  - url: https://news.example.com/
  - id: shop
    url: https://shop.example.com/
    mode: browser
    follow: true
sinks:
  - type: stdout
    format: markdown
mirror:
  window: 100ms
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.LogLevel != "debug" {
		t.Errorf("cfg: %+v", cfg)
	}
	if cfg.Pages[0].ID != "page-1" || cfg.Pages[0].Mode != ModeAuto {
		t.Errorf("page defaults: %+v", cfg.Pages[0])
	}
	if cfg.Pages[1].ID != "shop" || !cfg.Pages[1].Follow {
		t.Errorf("page: %+v", cfg.Pages[1])
	}
	if cfg.Sinks[0].Format != "markdown" {
		t.Errorf("sink: %+v", cfg.Sinks[0])
	}
	if cfg.Mirror.Window != 100*time.Millisecond || cfg.Mirror.MaxBuffer != 1000 {
		t.Errorf("mirror: %+v", cfg.Mirror)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad level", "log_level: loud", "log_level"},
		{"missing url", "pages:\n  - id: a", "url is required"},
		{"duplicate id", "pages:\n  - {id: a, url: http://x}\n  - {id: a, url: http://y}", "duplicate id"},
		{"bad mode", "pages:\n  - {url: http://x, mode: ftp}", "mode"},
		{"follow over http", "pages:\n  - {url: http://x, mode: http, follow: true}", "follow"},
		{"webhook without url", "sinks:\n  - type: webhook", "needs a url"},
		{"bad sink", "sinks:\n  - type: nats", "type"},
		{"bad format", "sinks:\n  - {type: stdout, format: pdf}", "unknown format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zapelm.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	tmp := filepath.Join(dir, "zapelm.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("log_level: debug\npages:\n  - url: https://a.com/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.LogLevel != "debug" || len(cfg.Pages) != 1 {
			t.Errorf("reloaded: %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}
