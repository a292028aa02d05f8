// Package internal provides the download orchestration and its configuration.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/maizedata/internal/catalog"
	"github.com/starford/maizedata/internal/manifest"
	"github.com/starford/maizedata/internal/source"
	"github.com/starford/maizedata/internal/storage"
)

// LogFilename is the log file appended to inside global.log_dir.
const LogFilename = "download.log"

// Run downloads every enabled source in order and records the run in the
// manifest. The run is closed even when a downloader fails.
func Run(ctx context.Context, opts ...Option) (err error) {
	app := &application{
		stdout: os.Stdout,
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger, closeLog, err := newLogger(cfg.Global, app.stdout)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	timeout, pause, err := cfg.Global.HTTPSettings(app.getenv)
	if err != nil {
		return err
	}
	start, end, err := cfg.Global.Dates()
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("config_path", app.configPath),
		slog.String("out_dir", cfg.Global.OutDir),
		slog.String("manifest", cfg.Global.ManifestFile()),
		slog.Bool("skip_auth", app.mode.SkipAuth),
		slog.Bool("force", app.mode.Force),
		slog.Bool("hash", app.mode.HashFiles),
		slog.String("log_level", cfg.Global.LogLevel.String()))

	if err := os.MkdirAll(cfg.Global.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	root, err := storage.NewFS(cfg.Global.OutDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	store := manifest.NewStore(cfg.Global.ManifestFile(), app.storeOpts...)
	rc, err := store.StartRun(ctx, manifest.StartParams{
		ConfigPath: app.configPath,
		ConfigText: app.configText,
		SkipAuth:   app.mode.SkipAuth,
		Force:      app.mode.Force,
		HashFiles:  app.mode.HashFiles,
	})
	if err != nil {
		return err
	}
	logger.Info("Manifest run started", slog.String("run_id", rc.RunID), slog.String("path", store.Path()))

	defer func() {
		if endErr := store.EndRun(rc.RunID); endErr != nil {
			err = errors.Join(err, endErr)
			return
		}
		logger.Info("Manifest finalized", slog.String("run_id", rc.RunID))

		if cfg.Global.CatalogPath != "" {
			if syncErr := SyncCatalog(cfg.Global.CatalogPath, store.Path(), logger); syncErr != nil {
				err = errors.Join(err, syncErr)
			}
		}
	}()

	client, err := source.NewClient(
		source.WithHTTPClient(app.httpClient),
		source.WithTimeout(timeout),
		source.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	env := source.Env{
		Client:    client,
		Logger:    logger,
		Force:     app.mode.Force,
		StartDate: start,
		EndDate:   end,
		Sleep:     pause,
		Getenv:    app.getenv,
	}

	g, gCtx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return app.download(gCtx, logger, env, root, store, rc)
	})

	if app.signals {
		g.Go(func() error {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				logger.Warn("Received shutdown signal", slog.String("signal", sig.String()))
				return fmt.Errorf("interrupted by %s", sig)
			case <-done:
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Download failed", slog.String("run_id", rc.RunID), slog.String("error", err.Error()))
		return err
	}
	logger.Info("Done.", slog.String("run_id", rc.RunID))
	return nil
}

// download runs the enabled sources sequentially and snapshots each one's
// output directory once it returns. The first failure aborts the rest.
func (a *application) download(ctx context.Context, logger *slog.Logger, env source.Env, root *storage.FS, store *manifest.Store, rc *manifest.RunContext) error {
	for _, spec := range a.config.EnabledSources() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if spec.NeedsAuth && a.mode.SkipAuth {
			logger.Info("Skipping source (skip-auth enabled)", slog.String("source", spec.Name))
			if err := store.AppendNote(rc.RunID, fmt.Sprintf("Skipped %s because --skip-auth was set.", spec.Name)); err != nil {
				return err
			}
			continue
		}

		params := a.config.Sources[spec.Name]
		d, err := source.New(spec, env, params)
		if err != nil {
			return err
		}
		dst, err := root.Sub(spec.Subdir)
		if err != nil {
			return err
		}

		logger.Info("Source started", slog.String("source", spec.Name), slog.String("dir", dst.Root()))
		if err := d.Fetch(ctx, dst); err != nil {
			return fmt.Errorf("source %s: %w", spec.Name, err)
		}
		if err := store.RecordSource(rc.RunID, spec.Name, params, root.Root(), dst.Root(), rc.HashFiles); err != nil {
			return err
		}
		logger.Info("Source recorded", slog.String("source", spec.Name))
	}
	return nil
}

// newLogger builds the process logger. Output goes to w and is appended to
// <log_dir>/download.log.
func newLogger(g GlobalConfig, w io.Writer) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(g.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(g.LogDir, LogFilename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	out := io.MultiWriter(w, f)
	hopts := &slog.HandlerOptions{Level: g.LogLevel}
	var h slog.Handler
	if g.LogFormat == LogFormatJSON {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	return slog.New(h), func() { f.Close() }, nil
}

// SyncCatalog mirrors the manifest at manifestPath into the SQLite catalog.
func SyncCatalog(catalogPath, manifestPath string, logger *slog.Logger) error {
	m, err := manifest.NewStore(manifestPath).Load()
	if err != nil {
		return err
	}
	db, err := catalog.Open(catalogPath)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Sync(m)
	if err != nil {
		return err
	}
	logger.Info("Catalog synced", slog.String("path", catalogPath), slog.Int("runs", n))
	return nil
}
