package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment: max-retries → IPTV_RESOLVE_MAX_RETRIES.
const EnvPrefix = "IPTV_RESOLVE"

// DefaultEPGURL is the XMLTV guide referenced from the merged TheTVApp playlist header.
const DefaultEPGURL = "https://github.com/Drewski2423/DrewLive/raw/refs/heads/main/DrewLive.xml.gz"

// Config holds resolver, browser, validation and output settings for one run.
type Config struct {
	// Output
	OutputDir   string // playlists are written here under each site's fixed filename
	EPGURL      string
	StampHeader bool // append "# Updated: <unix>" to merged headers; breaks byte-identical re-merge

	// Resolution
	Concurrency   int           // resolvers with an open page at once
	MaxRetries    int           // attempts per navigation target
	WindowTimeout time.Duration // interception window after triggering playback
	NavTimeout    time.Duration // first navigation to a target; sites may override
	MarkerTimeout time.Duration // wait for the DOM marker after navigation
	ReloadTimeout time.Duration // re-navigation after a timed-out window
	BackoffMin    time.Duration // jitter range after an unexpected automation error
	BackoffMax    time.Duration

	// Browser
	Headless        bool
	ChromePath      string
	IsolateContexts bool // new browser context per page so popups and cookies don't leak between resolvers
	UserAgent       string

	// Logo probe
	LogoTimeout   time.Duration
	LogoCachePath string // sqlite file; "" = in-memory only
	LogoCacheTTL  time.Duration
	LogoRate      float64 // probes per second across the run

	// Lookup table + observability
	ChannelMapPath  string // YAML channel map; "" = built-in table
	MetricsTextfile string // node_exporter textfile path; "" = disabled
	LogLevel        string
	LogFormat       string // console | json

	explicit map[string]bool
}

// Explicit reports whether key was given by flag or environment rather than left at its default.
func (c *Config) Explicit(key string) bool { return c.explicit[key] }

type option struct {
	key   string
	def   any
	usage string
}

var options = []option{
	{"output-dir", ".", "directory the playlists are written to"},
	{"epg-url", DefaultEPGURL, "url-tvg written into merged playlist headers"},
	{"stamp-header", false, "append an update timestamp comment to merged headers"},
	{"concurrency", 3, "resolvers holding a browser page at once"},
	{"max-retries", 3, "attempts per navigation target"},
	{"window-timeout", 12 * time.Second, "interception window after triggering playback"},
	{"nav-timeout", 60 * time.Second, "navigation timeout (sites may override)"},
	{"marker-timeout", 30 * time.Second, "wait for the page marker element"},
	{"reload-timeout", 30 * time.Second, "re-navigation timeout after a failed window"},
	{"backoff-min", 1 * time.Second, "minimum jitter after an automation error"},
	{"backoff-max", 2 * time.Second, "maximum jitter after an automation error"},
	{"headless", true, "run Chrome headless"},
	{"chrome-path", "", "Chrome/Chromium executable (default: search PATH)"},
	{"isolate-contexts", true, "open every page in its own browser context"},
	{"user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0", "browser user agent"},
	{"logo-timeout", 5 * time.Second, "logo reachability probe timeout"},
	{"logo-cache", "", "sqlite file caching logo probe results"},
	{"logo-cache-ttl", 24 * time.Hour, "how long a cached logo probe stays fresh"},
	{"logo-rate", 10.0, "logo probes per second"},
	{"channel-map", "", "YAML channel-name-to-metadata table"},
	{"metrics-textfile", "", "write run metrics in Prometheus text format to this file"},
	{"log-level", "info", "log level (debug, info, warn, error)"},
	{"log-format", "console", "log encoding (console, json)"},
}

// BindFlags registers every option on fs and binds it into v, with env lookup under EnvPrefix.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	for _, o := range options {
		switch d := o.def.(type) {
		case string:
			fs.String(o.key, d, o.usage)
		case bool:
			fs.Bool(o.key, d, o.usage)
		case int:
			fs.Int(o.key, d, o.usage)
		case float64:
			fs.Float64(o.key, d, o.usage)
		case time.Duration:
			fs.Duration(o.key, d, o.usage)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	setupEnv(v, false)
	return nil
}

// setupEnv enables env lookup. With bound flags the flags carry the defaults, so v.IsSet
// reports only flag and env values.
func setupEnv(v *viper.Viper, defaults bool) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if !defaults {
		return
	}
	for _, o := range options {
		v.SetDefault(o.key, o.def)
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Load builds a Config from v. Call LoadEnvFile(".env") and BindFlags first.
// Out-of-range values fall back to their defaults.
func Load(v *viper.Viper) *Config {
	bound := v != nil
	if !bound {
		v = viper.New()
		setupEnv(v, true)
	}
	c := &Config{
		OutputDir:       v.GetString("output-dir"),
		EPGURL:          v.GetString("epg-url"),
		StampHeader:     v.GetBool("stamp-header"),
		Concurrency:     v.GetInt("concurrency"),
		MaxRetries:      v.GetInt("max-retries"),
		WindowTimeout:   v.GetDuration("window-timeout"),
		NavTimeout:      v.GetDuration("nav-timeout"),
		MarkerTimeout:   v.GetDuration("marker-timeout"),
		ReloadTimeout:   v.GetDuration("reload-timeout"),
		BackoffMin:      v.GetDuration("backoff-min"),
		BackoffMax:      v.GetDuration("backoff-max"),
		Headless:        v.GetBool("headless"),
		ChromePath:      v.GetString("chrome-path"),
		IsolateContexts: v.GetBool("isolate-contexts"),
		UserAgent:       v.GetString("user-agent"),
		LogoTimeout:     v.GetDuration("logo-timeout"),
		LogoCachePath:   v.GetString("logo-cache"),
		LogoCacheTTL:    v.GetDuration("logo-cache-ttl"),
		LogoRate:        v.GetFloat64("logo-rate"),
		ChannelMapPath:  v.GetString("channel-map"),
		MetricsTextfile: v.GetString("metrics-textfile"),
		LogLevel:        strings.ToLower(v.GetString("log-level")),
		LogFormat:       strings.ToLower(v.GetString("log-format")),
	}
	c.explicit = make(map[string]bool, len(options))
	for _, o := range options {
		if bound {
			c.explicit[o.key] = v.IsSet(o.key)
		} else {
			_, c.explicit[o.key] = os.LookupEnv(envName(o.key))
		}
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.WindowTimeout <= 0 {
		c.WindowTimeout = 12 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	if c.MarkerTimeout <= 0 {
		c.MarkerTimeout = 30 * time.Second
	}
	if c.ReloadTimeout <= 0 {
		c.ReloadTimeout = 30 * time.Second
	}
	if c.BackoffMin < 0 {
		c.BackoffMin = 0
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.LogoTimeout <= 0 {
		c.LogoTimeout = 5 * time.Second
	}
	if c.LogoCacheTTL <= 0 {
		c.LogoCacheTTL = 24 * time.Hour
	}
	if c.LogoRate <= 0 {
		c.LogoRate = 10
	}
	if c.LogFormat != "json" {
		c.LogFormat = "console"
	}
	return c
}
