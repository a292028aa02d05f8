package internal

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/maizedata/internal/apperr"
	pkgconfig "github.com/starford/maizedata/pkg/config"
)

func parseConfig(t *testing.T, body string) (*Config, error) {
	t.Helper()
	cfg := NewDefaultConfig()
	err := pkgconfig.Parse([]byte(body), cfg)
	return cfg, err
}

func TestDefaultConfigValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := parseConfig(t, `
global:
  out_dir: /tmp/raw
  log_level: debug
  start_date: "2015-01-01"
  end_date: "2025-12-31"
sources:
  kamis:
    enabled: true
    products: ["Dry Maize"]
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g := cfg.Global
	if g.OutDir != "/tmp/raw" || g.LogDir != "logs" || g.HTTPTimeout != 120 || g.HTTPSleepSeconds != 1.0 {
		t.Errorf("global = %+v", g)
	}
	if g.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", g.LogLevel)
	}
	if !cfg.SourceEnabled("kamis") || cfg.SourceEnabled("nasa_power") {
		t.Error("SourceEnabled mismatch")
	}
}

func TestConfigRejectsUnknownSource(t *testing.T) {
	_, err := parseConfig(t, "sources:\n  fao_giews:\n    enabled: false\n")
	if !errors.Is(err, apperr.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}

func TestConfigValidatesEnabledSourceParams(t *testing.T) {
	_, err := parseConfig(t, "sources:\n  kenya_opendata_socrata:\n    enabled: true\n")
	if err == nil || !strings.Contains(err.Error(), "sources.kenya_opendata_socrata") {
		t.Fatalf("err = %v, want socrata params error", err)
	}

	// Disabled sources may be incomplete templates.
	if _, err := parseConfig(t, "sources:\n  kenya_opendata_socrata:\n    enabled: false\n"); err != nil {
		t.Fatalf("disabled source should not be validated: %v", err)
	}
}

func TestConfigEnabledMustBeBool(t *testing.T) {
	_, err := parseConfig(t, "sources:\n  kamis:\n    enabled: \"yes\"\n")
	if err == nil || !strings.Contains(err.Error(), "must be a boolean") {
		t.Fatalf("err = %v", err)
	}
}

func TestGlobalConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"missing out_dir", func(g *GlobalConfig) { g.OutDir = "" }},
		{"bad log format", func(g *GlobalConfig) { g.LogFormat = "xml" }},
		{"bad start date", func(g *GlobalConfig) { g.StartDate = "2015/01/01" }},
		{"end before start", func(g *GlobalConfig) { g.StartDate, g.EndDate = "2020-01-02", "2020-01-01" }},
		{"zero timeout", func(g *GlobalConfig) { g.HTTPTimeout = 0 }},
		{"negative sleep", func(g *GlobalConfig) { g.HTTPSleepSeconds = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg.Global)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEmptyLogFormatDefaultsText(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Global.LogFormat = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Global.LogFormat != LogFormatText {
		t.Errorf("log format = %q", cfg.Global.LogFormat)
	}
}

func TestHTTPSettings(t *testing.T) {
	g := NewDefaultConfig().Global
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	timeout, sleep, err := g.HTTPSettings(getenv)
	if err != nil {
		t.Fatalf("HTTPSettings: %v", err)
	}
	if timeout != 120*time.Second || sleep != time.Second {
		t.Errorf("defaults = %s, %s", timeout, sleep)
	}

	env[EnvHTTPTimeout] = "30"
	env[EnvHTTPSleepSeconds] = "0.25"
	timeout, sleep, err = g.HTTPSettings(getenv)
	if err != nil {
		t.Fatalf("HTTPSettings: %v", err)
	}
	if timeout != 30*time.Second || sleep != 250*time.Millisecond {
		t.Errorf("overrides = %s, %s", timeout, sleep)
	}

	env[EnvHTTPTimeout] = "soon"
	if _, _, err := g.HTTPSettings(getenv); err == nil {
		t.Error("expected error for non-numeric HTTP_TIMEOUT")
	}
}

func TestManifestFile(t *testing.T) {
	g := GlobalConfig{OutDir: "data_raw"}
	if got := g.ManifestFile(); got != filepath.Join("data_raw", "_MANIFEST.json") {
		t.Errorf("ManifestFile = %q", got)
	}
	g.ManifestPath = "/var/lib/maize/manifest.json"
	if got := g.ManifestFile(); got != "/var/lib/maize/manifest.json" {
		t.Errorf("ManifestFile = %q", got)
	}
}

func TestEnabledSourcesFollowRunOrder(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sources = map[string]map[string]any{
		"uncomtrade":    {"enabled": true},
		"kamis":         {"enabled": true},
		"nasa_power":    {"enabled": false},
		"worldbank_wdi": {"enabled": true},
	}
	var got []string
	for _, s := range cfg.EnabledSources() {
		got = append(got, s.Name)
	}
	if strings.Join(got, ",") != "kamis,worldbank_wdi,uncomtrade" {
		t.Errorf("order = %v", got)
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	raw, err := pkgconfig.Load(filepath.Join("..", "configs", "download.yaml"), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(raw) == 0 {
		t.Error("raw config text should be returned")
	}
	if !cfg.SourceEnabled("kamis") || cfg.SourceEnabled("uncomtrade") {
		t.Error("unexpected enabled sources in sample config")
	}
	if cfg.Global.ManifestFile() != filepath.Join("data_raw", "_MANIFEST.json") {
		t.Errorf("manifest = %q", cfg.Global.ManifestFile())
	}
}
