// Command iptv-resolve finds the live HLS addresses behind stream sites' web players and writes
// them as M3U playlists with the playback headers players need.
//
//	all         Run every site below in order (default)
//	fstv        Rebuild FSTV24.m3u8 from the FSTV channel list
//	thetvapp    Update TheTVApp.m3u8 in place and refresh its sports sections
//	streamed    Rebuild StreamedSU.m3u8 from the streamed match API
//	streameast  Rebuild StreamEast.m3u8 from live StreamEast cards
//	check       Probe every site's home pages and report Cloudflare blocks (no browser)
//
// Settings come from flags, IPTV_RESOLVE_* environment variables and an optional .env file.
// Logs go to stderr; the playlists are the only output.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/config"
	"github.com/snapetech/iptvresolve/internal/engine"
	"github.com/snapetech/iptvresolve/internal/health"
	"github.com/snapetech/iptvresolve/internal/httpclient"
	"github.com/snapetech/iptvresolve/internal/logocache"
	"github.com/snapetech/iptvresolve/internal/metrics"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/sources"
	"github.com/snapetech/iptvresolve/internal/validate"
)

var siteCommands = []struct{ name, short string }{
	{"fstv", "Rebuild FSTV24.m3u8 from the FSTV channel list"},
	{"thetvapp", "Update TheTVApp.m3u8 and refresh its sports sections"},
	{"streamed", "Rebuild StreamedSU.m3u8 from the match API"},
	{"streameast", "Rebuild StreamEast.m3u8 from live match cards"},
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "iptv-resolve: .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "iptv-resolve: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "iptv-resolve",
		Short:         "Resolve live stream addresses into M3U playlists",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, "all")
		},
	}
	if err := config.BindFlags(root.PersistentFlags(), v); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	root.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run every site in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, "all")
		},
	})
	for _, sc := range siteCommands {
		name := sc.name
		root.AddCommand(&cobra.Command{
			Use:   name,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), v, name)
			},
		})
	}
	root.AddCommand(&cobra.Command{
		Use:   "check [site...]",
		Short: "Probe site home pages for reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context(), v, args)
		},
	})
	return root
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if format != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	return logger
}

func policyFrom(cfg *config.Config) resolver.Policy {
	p := resolver.DefaultPolicy()
	p.MaxRetries = cfg.MaxRetries
	p.NavTimeout = cfg.NavTimeout
	p.ReloadTimeout = cfg.ReloadTimeout
	p.MarkerTimeout = cfg.MarkerTimeout
	p.WindowTimeout = cfg.WindowTimeout
	p.BackoffMin = cfg.BackoffMin
	p.BackoffMax = cfg.BackoffMax
	return p
}

// pinnedFrom keeps the timeouts the user set explicitly, so site presets don't replace them.
func pinnedFrom(cfg *config.Config) resolver.Policy {
	var p resolver.Policy
	if cfg.Explicit("max-retries") {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.Explicit("nav-timeout") {
		p.NavTimeout = cfg.NavTimeout
	}
	if cfg.Explicit("reload-timeout") {
		p.ReloadTimeout = cfg.ReloadTimeout
	}
	if cfg.Explicit("marker-timeout") {
		p.MarkerTimeout = cfg.MarkerTimeout
	}
	if cfg.Explicit("window-timeout") {
		p.WindowTimeout = cfg.WindowTimeout
	}
	if cfg.Explicit("backoff-min") {
		p.BackoffMin = cfg.BackoffMin
	}
	if cfg.Explicit("backoff-max") {
		p.BackoffMax = cfg.BackoffMax
	}
	return p
}

// selectSites returns the sites to run for a command name.
func selectSites(all []*sources.Site, name string) ([]*sources.Site, error) {
	if name == "all" {
		return all, nil
	}
	for _, s := range all {
		if s.Name == name {
			return []*sources.Site{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown site %q", name)
}

func run(parent context.Context, v *viper.Viper, name string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load(v)
	log := buildLogger(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channels, err := catalog.LoadChannelMap(cfg.ChannelMapPath)
	if err != nil {
		return err
	}

	chrome, err := browser.Launch(ctx, browser.Options{
		Headless:        cfg.Headless,
		ExecPath:        cfg.ChromePath,
		UserAgent:       cfg.UserAgent,
		IsolateContexts: cfg.IsolateContexts,
	}, log.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer chrome.Close()

	logoOpts := validate.LogoOptions{Timeout: cfg.LogoTimeout, Rate: cfg.LogoRate}
	if cfg.LogoCachePath != "" {
		store, err := logocache.Open(cfg.LogoCachePath, cfg.LogoCacheTTL)
		if err != nil {
			log.Warn("logo cache unavailable, probing without it", zap.String("path", cfg.LogoCachePath), zap.Error(err))
		} else {
			defer store.Close()
			if n, err := store.Prune(ctx); err == nil && n > 0 {
				log.Debug("logo cache pruned", zap.Int64("rows", n))
			}
			logoOpts.Store = store
		}
	}
	logos := validate.NewLogoChecker(logoOpts, log.Named("logo"))

	deps := sources.Deps{
		Fetcher:  sources.BrowserFetcher{Browser: chrome},
		Client:   httpclient.Default(),
		Channels: channels,
		EPGURL:   cfg.EPGURL,
		Log:      log.Named("sources"),
	}
	sites, err := selectSites(sources.Builtin(deps), name)
	if err != nil {
		return err
	}

	m := metrics.New()
	eng := engine.New(chrome, engine.Options{
		OutputDir:   cfg.OutputDir,
		Concurrency: cfg.Concurrency,
		Policy:      policyFrom(cfg),
		Pinned:      pinnedFrom(cfg),
		StampHeader: cfg.StampHeader,
	}, log, engine.WithLogoChecker(logos), engine.WithMetrics(m))

	sums, runErr := eng.RunAll(ctx, sites)
	for _, s := range sums {
		log.Info("summary",
			zap.String("site", s.Site),
			zap.Int("seen", s.Seen),
			zap.Int("attempted", s.Attempted),
			zap.Int("resolved", s.Resolved),
			zap.Int("failed", s.Failed()),
			zap.Duration("elapsed", s.Elapsed))
	}
	ls := logos.Stats()
	log.Debug("logo probes", zap.Int64("probes", ls.Probes), zap.Int64("kept", ls.Kept), zap.Int64("replaced", ls.Replaced),
		zap.Int64("popups_closed", chrome.PopupsClosed()))
	if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
		log.Warn("metrics textfile", zap.String("path", cfg.MetricsTextfile), zap.Error(err))
	}
	return runErr
}

func check(parent context.Context, v *viper.Viper, names []string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load(v)
	log := buildLogger(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync() //nolint:errcheck
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	all := sources.Builtin(sources.Deps{Client: httpclient.Default(), Log: log})
	if len(names) == 0 {
		names = []string{"all"}
	}
	var sites []*sources.Site
	for _, n := range names {
		s, err := selectSites(all, n)
		if err != nil {
			return err
		}
		sites = append(sites, s...)
	}
	var down []string
	for _, s := range sites {
		results := health.ProbeAll(ctx, httpclient.Default(), s.Home, 4)
		for _, r := range results {
			fields := []zap.Field{zap.String("site", s.Name), zap.String("url", r.URL),
				zap.String("status", string(r.Status)), zap.Duration("latency", r.Latency)}
			if r.StatusCode != 0 {
				fields = append(fields, zap.Int("code", r.StatusCode))
			}
			if r.OK() {
				log.Info("reachable", fields...)
			} else {
				log.Warn("unreachable", append(fields, zap.Error(r.Err))...)
			}
		}
		if health.Best(results) == "" {
			down = append(down, s.Name)
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("no reachable home page for %s", strings.Join(down, ", "))
	}
	return nil
}
