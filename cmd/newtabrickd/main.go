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
	"strings"
	"syscall"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/config"
	"github.com/GXboy12345/newtab-rick/internal/configsync"
	"github.com/GXboy12345/newtab-rick/internal/dispatch"
	"github.com/GXboy12345/newtab-rick/internal/engine"
	"github.com/GXboy12345/newtab-rick/internal/httpapi"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/GXboy12345/newtab-rick/internal/tabs"
)

const shutdownTimeout = 5 * time.Second

type flagOverrides struct {
	addr      string
	stateDSN  string
	profile   string
	tabSource string
	cdpURL    string
	remoteURL string
	logLevel  string
}

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("NEWTABRICK_CONFIG")), "YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded into the environment when present")
	var o flagOverrides
	flag.StringVar(&o.addr, "addr", "", "listen address")
	flag.StringVar(&o.stateDSN, "state-dsn", "", "state backend DSN (file, memory, sqlite, postgres)")
	flag.StringVar(&o.profile, "profile", "", "state profile: memory, durable-local, production")
	flag.StringVar(&o.tabSource, "tab-source", "", "tab source: cdp, bridge, none")
	flag.StringVar(&o.cdpURL, "cdp-url", "", "DevTools websocket of a running browser")
	flag.StringVar(&o.remoteURL, "remote-config-url", "", "default remote settings document URL")
	flag.StringVar(&o.logLevel, "log-level", "", "debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newtabrickd: %v\n", err)
		os.Exit(2)
	}
	if err := applyOverrides(&cfg, o); err != nil {
		fmt.Fprintf(os.Stderr, "newtabrickd: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("newtabrickd failed", "error", err)
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.Config, o flagOverrides) error {
	set := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddr, o.addr)
	set(&cfg.StateDSN, o.stateDSN)
	set(&cfg.Profile, o.profile)
	set(&cfg.TabSource, o.tabSource)
	set(&cfg.CDPControlURL, o.cdpURL)
	set(&cfg.RemoteConfig, o.remoteURL)
	set(&cfg.LogLevel, o.logLevel)
	return cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	dsn, err := cfg.ResolveStateDSN()
	if err != nil {
		return err
	}
	backend, err := state.BuildBackendFromDSN(dsn)
	if err != nil {
		return fmt.Errorf("init state backend: %w", err)
	}
	store := state.NewStore(state.Options{Backend: backend, Logger: logger})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Flush(flushCtx); err != nil {
			logger.Warn("flush state on shutdown", "error", err)
		}
		_ = store.Close()
	}()

	fresh, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	eng := engine.New(store, engine.Options{Logger: logger})
	snap := eng.Reconcile(0)
	logger.Info("state loaded", "fresh", fresh, "mode", snap.Mode, "enabled", snap.Enabled, "backend", dsnScheme(dsn))

	wiring, err := buildTabs(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer wiring.close()

	redirector := engine.NewRedirector(wiring.navigator, engine.RedirectorOptions{
		LandingURL: cfg.LandingURL,
		Delay:      cfg.RedirectDelay,
		Logger:     logger,
	})
	defer redirector.Close()

	syncer, err := configsync.NewSyncer(store, configsync.NewFetcher(&http.Client{Timeout: cfg.HTTPTimeout}), configsync.Options{
		DefaultURL:   cfg.RemoteConfig,
		Interval:     cfg.SyncInterval,
		InitialDelay: cfg.SyncInitialDelay,
		Jitter:       cfg.SyncJitter,
		Timeout:      cfg.HTTPTimeout,
		Reconciler:   eng,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("init config sync: %w", err)
	}

	dispatcher := dispatch.New(store, eng, redirector, dispatch.Options{
		Badge:  wiring.badge,
		Syncer: syncer,
		Logger: logger,
	})

	go dispatcher.RunBadge(ctx)
	go syncer.Run(ctx, fresh)
	if remoteURL := syncer.RemoteURL(); remoteURL != "" && !isHTTP(remoteURL) {
		go func() {
			if err := configsync.WatchFile(ctx, remoteURL, syncer.Trigger, logger); err != nil {
				logger.Warn("config file watch disabled", "url", remoteURL, "error", err)
			}
		}()
	}
	if wiring.source != nil {
		go func() {
			if err := wiring.source.Run(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("tab source stopped", "source", cfg.TabSource, "error", err)
			}
		}()
	}

	server := httpapi.NewServer(store, dispatcher, httpapi.ServerConfig{
		JWTSecret:      cfg.JWTSecret,
		RateLimitMax:   cfg.RateLimitMax,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		OriginPatterns: cfg.OriginPatterns,
		Bridge:         wiring.bridge,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("newtabrickd listening", "addr", cfg.ListenAddr, "tab_source", cfg.TabSource, "auth", cfg.JWTSecret != "")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("newtabrickd stopping")
	return nil
}

type tabWiring struct {
	source    tabs.Source
	navigator tabs.Navigator
	badge     tabs.Badge
	bridge    http.Handler
	closers   []func() error
}

func (w tabWiring) close() {
	for _, c := range w.closers {
		_ = c()
	}
}

// buildTabs picks the tab source from config. The system browser is always
// the fallback for opening new tabs.
func buildTabs(ctx context.Context, cfg config.Config, logger *slog.Logger) (tabWiring, error) {
	var w tabWiring
	var badges tabs.MultiBadge
	if cfg.ConsoleBadge {
		badges = append(badges, tabs.NewConsoleBadge(os.Stderr))
	}
	var primary tabs.Navigator

	switch cfg.TabSource {
	case config.TabSourceCDP:
		cdp := tabs.NewCDP(tabs.CDPOptions{
			ControlURL: cfg.CDPControlURL,
			Headless:   cfg.CDPHeadless,
			Logger:     logger,
		})
		if err := cdp.Connect(ctx); err != nil {
			return tabWiring{}, err
		}
		w.source = cdp
		primary = cdp
		w.closers = append(w.closers, cdp.Close)
	case config.TabSourceBridge:
		bridge := tabs.NewBridge(tabs.BridgeOptions{
			OriginPatterns: cfg.OriginPatterns,
			Timeout:        cfg.HTTPTimeout,
			Logger:         logger,
		})
		w.source = bridge
		w.bridge = bridge
		primary = bridge
		badges = append(badges, bridge)
	default:
		primary = tabs.NewSystemOpener()
	}

	w.navigator = tabs.FallbackNavigator{Primary: primary, Fallback: tabs.NewSystemOpener()}
	w.badge = badges
	return w, nil
}

func isHTTP(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func dsnScheme(dsn string) string {
	if i := strings.Index(dsn, ":"); i > 0 {
		return dsn[:i]
	}
	if dsn == "" {
		return "memory"
	}
	return "file"
}
