// Command zapelm runs the element hider daemon: it mirrors configured pages,
// enforces the stored hide and remove rules on them and serves the rule API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/zapelm/coordinator"
	"github.com/hazyhaar/zapelm/internal/browser"
	"github.com/hazyhaar/zapelm/internal/bus"
	"github.com/hazyhaar/zapelm/internal/config"
	"github.com/hazyhaar/zapelm/internal/fetcher"
	"github.com/hazyhaar/zapelm/internal/httpapi"
	"github.com/hazyhaar/zapelm/internal/metrics"
	"github.com/hazyhaar/zapelm/internal/render"
	"github.com/hazyhaar/zapelm/internal/sink"
	"github.com/hazyhaar/zapelm/internal/store"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides the config file)")
	addr := flag.String("addr", "", "HTTP listen address (overrides the config file)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error("zapelm: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	st, err := store.Open(cfg.DBPath, store.WithMkdirAll())
	if err != nil {
		return err
	}
	defer st.Close()

	b := bus.New(
		bus.WithLogger(logger),
		bus.WithMiddleware(bus.Recovery(logger), bus.Logging(logger)),
	)

	var collector *metrics.Collector
	opts := []coordinator.Option{coordinator.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		collector = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace}, nil)
		opts = append(opts, coordinator.WithMetrics(collector))
	}
	coord := coordinator.New(st, b, opts...)
	coord.Register()

	if debug, err := st.Debug(ctx); err != nil {
		logger.Warn("zapelm: read debug setting", "error", err)
	} else if debug {
		coord.SetDebug(ctx, true)
	}

	renderer := render.New()
	out, err := buildSinks(cfg.Sinks, renderer, logger)
	if err != nil {
		return err
	}
	if out != nil {
		defer out.Close()
	}
	if cfg.MCP.Enabled && hasStdoutSink(cfg.Sinks) {
		logger.Warn("zapelm: stdout sink shares stdout with the MCP transport")
	}

	bm := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headful:          cfg.Browser.Headful,
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})
	defer bm.Close()

	pages := &pageManager{
		ctx:       ctx,
		bus:       b,
		coord:     coord,
		fetcher:   fetcher.New(fetcher.WithLogger(logger)),
		browser:   bm,
		collector: collector,
		sink:      out,
		mirrorCfg: cfg.Mirror,
		debounce:  cfg.Snapshots.Debounce,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
	bm.SetRecycleCallback(pages.recycleCallback())
	defer pages.CloseAll()

	pages.Sync(ctx, cfg.Pages)

	// Rule edits from other processes (zapelmctl) reach the open pages.
	watcher := st.NewWatcher(store.WatchOptions{
		Interval: cfg.StoreWatch.Interval,
		Debounce: cfg.StoreWatch.Debounce,
		Logger:   logger,
	})
	go watcher.OnChange(ctx, func() error {
		if err := coord.Reload(ctx); err != nil {
			return err
		}
		debug, err := st.Debug(ctx)
		if err != nil {
			return err
		}
		if debug != coord.Debug() {
			coord.SetDebug(ctx, debug)
		}
		return nil
	})

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, 0, logger, func(next *config.Config) {
				pages.Sync(ctx, next.Pages)
			})
			if err != nil {
				logger.Error("zapelm: config watch", "error", err)
			}
		}()
	}

	if cfg.MCP.Enabled {
		srv := mcp.NewServer(&mcp.Implementation{Name: "zapelm", Version: version}, nil)
		coord.RegisterMCP(srv)
		go func() {
			logger.Info("zapelm: MCP on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("zapelm: MCP", "error", err)
			}
		}()
	}

	if cfg.HTTP.Addr == "" {
		logger.Info("zapelm: running without HTTP API", "pages", len(cfg.Pages))
		<-ctx.Done()
		return nil
	}

	api := httpapi.Config{
		Coordinator: coord,
		Pages:       pages,
		Renderer:    renderer,
		Logger:      logger,
	}
	if collector != nil {
		api.Metrics = collector.Handler()
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(api),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("zapelm: HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("zapelm: http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("zapelm: shutdown", "error", err)
	}
	logger.Info("zapelm: stopped")
	return nil
}

// buildSinks returns nil when no sink is configured.
func buildSinks(cfgs []config.SinkConfig, renderer *render.Renderer, logger *slog.Logger) (sink.Sink, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	sinks := make([]sink.Sink, 0, len(cfgs))
	for _, sc := range cfgs {
		format, err := render.ParseFormat(sc.Format)
		if err != nil {
			return nil, err
		}
		var s sink.Sink
		switch sc.Type {
		case config.SinkStdout:
			s = sink.NewStdout(os.Stdout)
		case config.SinkWebhook:
			s = sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger))
		default:
			return nil, fmt.Errorf("zapelm: unknown sink type %q", sc.Type)
		}
		if format != render.HTML {
			s = sink.NewRendered(s, renderer, format)
		}
		sinks = append(sinks, s)
	}
	return sink.NewRouter(logger, sinks...), nil
}

func hasStdoutSink(cfgs []config.SinkConfig) bool {
	for _, sc := range cfgs {
		if sc.Type == config.SinkStdout {
			return true
		}
	}
	return false
}
