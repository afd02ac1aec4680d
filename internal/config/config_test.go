package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newBound(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(fs, v); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoad_defaults(t *testing.T) {
	c := Load(newBound(t))
	if c.Concurrency != 3 || c.MaxRetries != 3 {
		t.Errorf("concurrency=%d max-retries=%d, want 3/3", c.Concurrency, c.MaxRetries)
	}
	if c.WindowTimeout != 12*time.Second {
		t.Errorf("window = %v", c.WindowTimeout)
	}
	if c.BackoffMin != time.Second || c.BackoffMax != 2*time.Second {
		t.Errorf("backoff = %v..%v", c.BackoffMin, c.BackoffMax)
	}
	if !c.Headless || !c.IsolateContexts {
		t.Error("headless and isolate-contexts should default on")
	}
	if c.EPGURL != DefaultEPGURL {
		t.Errorf("epg = %q", c.EPGURL)
	}
}

func TestLoad_env(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_MAX_RETRIES", "5")
	t.Setenv("IPTV_RESOLVE_WINDOW_TIMEOUT", "3s")
	t.Setenv("IPTV_RESOLVE_LOGO_CACHE", "/tmp/logos.db")
	c := Load(newBound(t))
	if c.MaxRetries != 5 {
		t.Errorf("max-retries = %d, want 5", c.MaxRetries)
	}
	if c.WindowTimeout != 3*time.Second {
		t.Errorf("window = %v, want 3s", c.WindowTimeout)
	}
	if c.LogoCachePath != "/tmp/logos.db" {
		t.Errorf("logo-cache = %q", c.LogoCachePath)
	}
}

func TestLoad_flagOverridesEnv(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_CONCURRENCY", "7")
	c := Load(newBound(t, "--concurrency=2"))
	if c.Concurrency != 2 {
		t.Errorf("concurrency = %d, want flag value 2", c.Concurrency)
	}
}

func TestLoad_clampsInvalid(t *testing.T) {
	c := Load(newBound(t, "--concurrency=0", "--max-retries=-1", "--backoff-min=3s", "--backoff-max=1s", "--log-format=xml"))
	if c.Concurrency != 3 {
		t.Errorf("concurrency = %d, want default 3", c.Concurrency)
	}
	if c.MaxRetries != 3 {
		t.Errorf("max-retries = %d, want default 3", c.MaxRetries)
	}
	if c.BackoffMax != 3*time.Second {
		t.Errorf("backoff-max = %v, want raised to min 3s", c.BackoffMax)
	}
	if c.LogFormat != "console" {
		t.Errorf("log-format = %q", c.LogFormat)
	}
}

func TestLoad_nilViperUsesEnv(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_OUTPUT_DIR", "/srv/playlists")
	c := Load(nil)
	if c.OutputDir != "/srv/playlists" {
		t.Errorf("output-dir = %q", c.OutputDir)
	}
	if c.Concurrency != 3 {
		t.Errorf("concurrency = %d", c.Concurrency)
	}
}

func TestLoad_explicit(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_WINDOW_TIMEOUT", "4s")
	c := Load(newBound(t, "--nav-timeout=90s"))
	if !c.Explicit("nav-timeout") || !c.Explicit("window-timeout") {
		t.Error("flag or env value not marked explicit")
	}
	if c.Explicit("reload-timeout") || c.Explicit("concurrency") {
		t.Error("default marked explicit")
	}
	if c.ReloadTimeout != 30*time.Second || c.NavTimeout != 90*time.Second {
		t.Errorf("reload=%v nav=%v", c.ReloadTimeout, c.NavTimeout)
	}

	t.Setenv("IPTV_RESOLVE_MAX_RETRIES", "4")
	c = Load(nil)
	if !c.Explicit("max-retries") || c.Explicit("nav-timeout") {
		t.Error("env-only load: explicit keys wrong")
	}
}
