package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/snapetech/iptvresolve/internal/config"
	"github.com/snapetech/iptvresolve/internal/sources"
)

func TestSelectSites(t *testing.T) {
	all := sources.Builtin(sources.Deps{Fetcher: sources.HTTPFetcher{}})
	got, err := selectSites(all, "all")
	if err != nil || len(got) != len(all) {
		t.Fatalf("all = %d, %v", len(got), err)
	}
	got, err = selectSites(all, "streamed")
	if err != nil || len(got) != 1 || got[0].Name != "streamed" {
		t.Fatalf("streamed = %+v, %v", got, err)
	}
	if _, err := selectSites(all, "nope"); err == nil {
		t.Error("unknown site accepted")
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"all": true}
	for _, sc := range siteCommands {
		want[sc.name] = true
	}
	for _, c := range root.Commands() {
		delete(want, c.Name())
	}
	for name := range want {
		if name == "help" || name == "completion" {
			continue
		}
		t.Errorf("missing subcommand %q", name)
	}
	for _, s := range sources.Builtin(sources.Deps{}) {
		found := false
		for _, sc := range siteCommands {
			found = found || sc.name == s.Name
		}
		if !found {
			t.Errorf("site %q has no subcommand", s.Name)
		}
	}
	if root.PersistentFlags().Lookup("max-retries") == nil {
		t.Error("config flags not bound")
	}
}

func TestPolicyFrom(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_MAX_RETRIES", "5")
	t.Setenv("IPTV_RESOLVE_WINDOW_TIMEOUT", "3s")
	v := viper.New()
	if err := config.BindFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), v); err != nil {
		t.Fatal(err)
	}
	p := policyFrom(config.Load(v))
	if p.MaxRetries != 5 || p.WindowTimeout != 3*time.Second || p.ClickTimeout <= 0 {
		t.Errorf("policy = %+v", p)
	}
}

func TestBuildLogger(t *testing.T) {
	for _, f := range []string{"console", "json"} {
		if l := buildLogger("debug", f); l == nil {
			t.Errorf("nil logger for %s", f)
		}
	}
}

func TestPinnedFrom(t *testing.T) {
	t.Setenv("IPTV_RESOLVE_NAV_TIMEOUT", "45s")
	v := viper.New()
	if err := config.BindFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), v); err != nil {
		t.Fatal(err)
	}
	p := pinnedFrom(config.Load(v))
	if p.NavTimeout != 45*time.Second || p.WindowTimeout != 0 || p.MaxRetries != 0 {
		t.Errorf("pinned = %+v, want only nav-timeout", p)
	}
}
