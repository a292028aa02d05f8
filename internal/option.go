package internal

import (
	"io"
	"net/http"

	"github.com/starford/maizedata/internal/manifest"
)

// Mode carries the run-level flags chosen on the command line. It is never
// written back into the configuration.
type Mode struct {
	SkipAuth  bool // skip sources that need credentials
	Force     bool // re-download files that already exist
	HashFiles bool // record SHA-256 digests in the manifest
}

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configPath string
	configText []byte
	mode       Mode
	httpClient *http.Client
	stdout     io.Writer
	getenv     func(string) string
	storeOpts  []manifest.Option
	signals    bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigSource records where the configuration came from and its raw
// text, which the manifest fingerprints.
func WithConfigSource(path string, raw []byte) Option {
	return func(a *application) {
		a.configPath = path
		a.configText = raw
	}
}

// WithMode sets the run mode flags.
func WithMode(m Mode) Option {
	return func(a *application) {
		a.mode = m
	}
}

// WithHTTPClient overrides the HTTP client used by every downloader.
func WithHTTPClient(c *http.Client) Option {
	return func(a *application) {
		a.httpClient = c
	}
}

// WithStdout redirects console log output, which defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(a *application) {
		a.stdout = w
	}
}

// WithGetenv overrides environment lookups for HTTP settings and API keys.
func WithGetenv(fn func(string) string) Option {
	return func(a *application) {
		a.getenv = fn
	}
}

// WithManifestOptions passes options through to the manifest store.
func WithManifestOptions(opts ...manifest.Option) Option {
	return func(a *application) {
		a.storeOpts = append(a.storeOpts, opts...)
	}
}

// WithSignalHandling makes SIGINT and SIGTERM abort the run.
func WithSignalHandling() Option {
	return func(a *application) {
		a.signals = true
	}
}
