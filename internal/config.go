package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/manifest"
	"github.com/starford/maizedata/internal/source"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// DateLayout is the layout of global.start_date and global.end_date.
const DateLayout = "2006-01-02"

// Environment variables overriding the HTTP settings of the config file.
const (
	EnvHTTPTimeout      = "HTTP_TIMEOUT"
	EnvHTTPSleepSeconds = "HTTP_SLEEP_SECONDS"
)

// Config represents the downloader configuration.
type Config struct {
	Global  GlobalConfig              `yaml:"global"`
	Sources map[string]map[string]any `yaml:"sources"`
}

// Validate validates the configuration. Source names must be known; the
// parameters of enabled sources must decode and validate.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := source.Lookup(name)
		if !ok {
			return fmt.Errorf("sources.%s: %w", name, apperr.ErrUnknownSource)
		}
		enabled, err := c.sourceEnabled(name)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}
		if err := source.ValidateParams(spec, c.Sources[name]); err != nil {
			return fmt.Errorf("sources.%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) sourceEnabled(name string) (bool, error) {
	v, ok := c.Sources[name]["enabled"]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("sources.%s.enabled: must be a boolean, got %v", name, v)
	}
	return b, nil
}

// SourceEnabled reports whether the named source has enabled: true.
func (c *Config) SourceEnabled(name string) bool {
	ok, err := c.sourceEnabled(name)
	return err == nil && ok
}

// EnabledSources returns the enabled sources in run order.
func (c *Config) EnabledSources() []source.Spec {
	var out []source.Spec
	for _, s := range source.Specs {
		if c.SourceEnabled(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// GlobalConfig holds settings shared by every source.
type GlobalConfig struct {
	OutDir           string     `yaml:"out_dir"`
	LogDir           string     `yaml:"log_dir"`
	LogLevel         slog.Level `yaml:"log_level"`
	LogFormat        string     `yaml:"log_format"`
	StartDate        string     `yaml:"start_date"`
	EndDate          string     `yaml:"end_date"`
	HTTPTimeout      int        `yaml:"http_timeout"`
	HTTPSleepSeconds float64    `yaml:"http_sleep_seconds"`
	ManifestPath     string     `yaml:"manifest_path"`
	CatalogPath      string     `yaml:"catalog_path"`
}

// Validate validates the global configuration.
func (c *GlobalConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatText
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.OutDir, validation.Required),
		validation.Field(&c.LogDir, validation.Required),
		validation.Field(&c.LogFormat, validation.In(LogFormatText, LogFormatJSON)),
		validation.Field(&c.StartDate, validation.Date(DateLayout)),
		validation.Field(&c.EndDate, validation.Date(DateLayout)),
		validation.Field(&c.HTTPTimeout, validation.Required, validation.Min(1)),
		validation.Field(&c.HTTPSleepSeconds, validation.Min(0.0)),
	); err != nil {
		return err
	}
	start, end, err := c.Dates()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("global: end_date %s is before start_date %s", c.EndDate, c.StartDate)
	}
	return nil
}

// Dates parses the configured date range. Unset dates are returned as zero.
func (c *GlobalConfig) Dates() (start, end time.Time, err error) {
	if c.StartDate != "" {
		if start, err = time.Parse(DateLayout, c.StartDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("global: start_date: %w", err)
		}
	}
	if c.EndDate != "" {
		if end, err = time.Parse(DateLayout, c.EndDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("global: end_date: %w", err)
		}
	}
	return start, end, nil
}

// HTTPSettings returns the request timeout and the pause between requests.
// HTTP_TIMEOUT and HTTP_SLEEP_SECONDS take precedence over the file.
func (c *GlobalConfig) HTTPSettings(getenv func(string) string) (timeout, sleep time.Duration, err error) {
	secs := c.HTTPTimeout
	if v := getenv(EnvHTTPTimeout); v != "" {
		if secs, err = strconv.Atoi(v); err != nil || secs < 1 {
			return 0, 0, fmt.Errorf("%s: invalid value %q", EnvHTTPTimeout, v)
		}
	}
	pause := c.HTTPSleepSeconds
	if v := getenv(EnvHTTPSleepSeconds); v != "" {
		if pause, err = strconv.ParseFloat(v, 64); err != nil || pause < 0 {
			return 0, 0, fmt.Errorf("%s: invalid value %q", EnvHTTPSleepSeconds, v)
		}
	}
	return time.Duration(secs) * time.Second, time.Duration(pause * float64(time.Second)), nil
}

// ManifestFile returns the manifest path, defaulting to <out_dir>/_MANIFEST.json.
func (c *GlobalConfig) ManifestFile() string {
	if c.ManifestPath != "" {
		return c.ManifestPath
	}
	return filepath.Join(c.OutDir, manifest.DefaultFilename)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			OutDir:           "data_raw",
			LogDir:           "logs",
			LogLevel:         slog.LevelInfo,
			LogFormat:        LogFormatText,
			HTTPTimeout:      120,
			HTTPSleepSeconds: 1.0,
		},
		Sources: map[string]map[string]any{},
	}
}
