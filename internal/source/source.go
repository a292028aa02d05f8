// Package source implements the downloaders. Each supported provider has a
// Kind; every configured source name maps to exactly one Spec, and New
// builds the matching Downloader from the source's raw config parameters.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/storage"
)

// Kind identifies a downloader implementation.
type Kind string

// Supported source kinds.
const (
	KindKAMIS         Kind = "kamis"
	KindSocrata       Kind = "socrata"
	KindHDX           Kind = "hdx"
	KindWorldBank     Kind = "worldbank"
	KindNASAPower     Kind = "nasapower"
	KindERA5          Kind = "era5"
	KindGeoBoundaries Kind = "geoboundaries"
	KindURLList       Kind = "urllist"
	KindComtrade      Kind = "comtrade"
)

// Spec binds a configured source name to its kind and output subdirectory.
type Spec struct {
	Name      string
	Kind      Kind
	Subdir    string
	NeedsAuth bool // skipped when the run is started with skip-auth
}

// Specs lists every supported source in the order the orchestrator runs them.
var Specs = []Spec{
	// prices
	{Name: "kamis", Kind: KindKAMIS, Subdir: "kamis"},
	{Name: "kenya_opendata_socrata", Kind: KindSocrata, Subdir: "opendata_ke"},
	{Name: "hdx_wfp_prices", Kind: KindHDX, Subdir: "wfp_hdx"},
	// macro
	{Name: "worldbank_wdi", Kind: KindWorldBank, Subdir: "worldbank_wdi"},
	// weather
	{Name: "nasa_power", Kind: KindNASAPower, Subdir: "nasa_power"},
	{Name: "era5_cds", Kind: KindERA5, Subdir: "era5", NeedsAuth: true},
	// spatial
	{Name: "geoboundaries_adm1", Kind: KindGeoBoundaries, Subdir: "boundaries"},
	// url lists
	{Name: "spei_urls", Kind: KindURLList, Subdir: "spei_urls"},
	{Name: "esa_cci_sm_urls", Kind: KindURLList, Subdir: "esa_cci_sm_urls"},
	// trade
	{Name: "uncomtrade", Kind: KindComtrade, Subdir: "uncomtrade", NeedsAuth: true},
}

// Lookup returns the Spec registered under name.
func Lookup(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Downloader fetches one source's data into dst, which is rooted at the
// source's output subdirectory.
type Downloader interface {
	Fetch(ctx context.Context, dst storage.Provider) error
}

// Env carries the run-wide settings shared by all downloaders.
type Env struct {
	Client    *Client
	Logger    *slog.Logger
	Force     bool
	StartDate time.Time
	EndDate   time.Time
	Sleep     time.Duration       // pause between consecutive requests
	Getenv    func(string) string // API keys; defaults to os.Getenv
}

// New builds the downloader for spec from its raw config parameters.
func New(spec Spec, env Env, params map[string]any) (Downloader, error) {
	if env.Logger == nil {
		env.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	env.Logger = env.Logger.With(slog.String("source", spec.Name))
	if env.Getenv == nil {
		env.Getenv = os.Getenv
	}
	if env.Client == nil {
		c, err := NewClient(WithLogger(env.Logger))
		if err != nil {
			return nil, err
		}
		env.Client = c
	}

	switch spec.Kind {
	case KindKAMIS:
		p := defaultKAMISParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &kamis{env: env, p: p}, nil
	case KindSocrata:
		p := defaultSocrataParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &socrata{env: env, p: p}, nil
	case KindHDX:
		p := defaultHDXParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &hdx{env: env, p: p}, nil
	case KindWorldBank:
		p := defaultWorldBankParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &worldBank{env: env, p: p}, nil
	case KindNASAPower:
		p := defaultNASAPowerParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &nasaPower{env: env, p: p}, nil
	case KindERA5:
		p := defaultERA5Params(env.Getenv)
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &era5{env: env, p: p}, nil
	case KindGeoBoundaries:
		p := defaultGeoBoundariesParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &geoBoundaries{env: env, p: p}, nil
	case KindURLList:
		var p urlListParams
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &urlList{env: env, p: p}, nil
	case KindComtrade:
		p := defaultComtradeParams()
		if err := decodeParams(spec, params, &p); err != nil {
			return nil, err
		}
		return &comtrade{env: env, p: p}, nil
	}
	return nil, fmt.Errorf("source %s: kind %q: %w", spec.Name, spec.Kind, apperr.ErrUnknownSource)
}

// ValidateParams checks that params decode and validate for spec without
// performing any network I/O.
func ValidateParams(spec Spec, params map[string]any) error {
	_, err := New(spec, Env{Getenv: func(string) string { return "" }, Client: &Client{}}, params)
	return err
}

// decodeParams re-encodes the opaque config sub-object and decodes it into the
// typed parameter struct, keeping defaults for absent keys.
func decodeParams[T any](spec Spec, raw map[string]any, p *T) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("source %s: encode params: %w", spec.Name, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("source %s: decode params: %w", spec.Name, err)
	}
	if v, ok := any(p).(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", spec.Name, err)
		}
	}
	return nil
}

// skip reports whether name already exists and the run does not force
// re-downloads.
func (e Env) skip(dst storage.Provider, name string) bool {
	if dst.Exists(name) && !e.Force {
		e.Logger.Info("exists, skipping", slog.String("file", name))
		return true
	}
	return false
}

func (e Env) pause(ctx context.Context) error {
	return sleep(ctx, e.Sleep)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
