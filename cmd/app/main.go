package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/maizedata/internal"
	"github.com/starford/maizedata/internal/catalog"
	"github.com/starford/maizedata/internal/manifest"
	pkgconfig "github.com/starford/maizedata/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, string, []byte, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	raw, err := pkgconfig.Load(configPath, cfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if m := cmd.String("manifest"); m != "" {
		cfg.Global.ManifestPath = m
	}
	return cfg, configPath, raw, nil
}

func download(ctx context.Context, cmd *cli.Command) error {
	cfg, configPath, raw, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigSource(configPath, raw),
		internal.WithMode(internal.Mode{
			SkipAuth:  cmd.Bool("skip-auth"),
			Force:     cmd.Bool("force"),
			HashFiles: cmd.Bool("hash"),
		}),
		internal.WithSignalHandling(),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func validate(_ context.Context, cmd *cli.Command) error {
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	status, err := internal.CheckOutputs(cfg)
	w := cmd.Root().Writer
	for _, s := range status {
		fmt.Fprintf(w, "%-24s %4d files  %s\n", s.Source, s.Files, s.Dir)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "OK: all enabled sources have output files")
	return nil
}

func listRuns(_ context.Context, cmd *cli.Command) error {
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	m, err := manifest.NewStore(cfg.Global.ManifestFile()).Load()
	if err != nil {
		return err
	}
	printRuns(cmd.Root().Writer, m.Runs, int(cmd.Int("limit")))
	return nil
}

// printRuns writes the newest runs first, at most limit of them when limit > 0.
func printRuns(w io.Writer, runs []*manifest.Run, limit int) {
	n := 0
	for i := len(runs) - 1; i >= 0; i-- {
		if limit > 0 && n == limit {
			break
		}
		r := runs[i]
		ended := "OPEN"
		if r.EndedAt != nil {
			ended = *r.EndedAt
		}
		fmt.Fprintf(w, "%s  %s  %s  sources=%d notes=%d\n", r.RunID, r.StartedAt, ended, len(r.Sources), len(r.Notes))
		n++
	}
}

func catalogSync(_ context.Context, cmd *cli.Command) error {
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, err := catalogPath(cfg)
	if err != nil {
		return err
	}
	return internal.SyncCatalog(path, cfg.Global.ManifestFile(), slog.Default())
}

func catalogRuns(_ context.Context, cmd *cli.Command) error {
	db, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Runs(int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	printCatalogRuns(cmd.Root().Writer, rows)
	return nil
}

func printCatalogRuns(w io.Writer, rows []catalog.RunRow) {
	for _, r := range rows {
		ended := r.EndedAt
		if r.Open() {
			ended = "OPEN"
		}
		rev := r.GitRev
		if rev == "" {
			rev = "-"
		}
		fmt.Fprintf(w, "%s  %s  %s  rev=%s sources=%d files=%d notes=%d\n",
			r.RunID, r.StartedAt, ended, rev, r.SourceCount, r.FileCount, r.NoteCount)
	}
}

func catalogHistory(_ context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("usage: catalog history <path>")
	}
	db, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	versions, err := db.FileHistory(file)
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	for _, v := range versions {
		digest := v.SHA256
		if digest == "" {
			digest = "-"
		}
		fmt.Fprintf(w, "%s  %s  %-24s %10d  %s  %s\n", v.RunID, v.StartedAt, v.Source, v.Bytes, v.ModifiedUTC, digest)
	}
	return nil
}

func catalogPath(cfg *internal.Config) (string, error) {
	if strings.TrimSpace(cfg.Global.CatalogPath) == "" {
		return "", fmt.Errorf("global.catalog_path is not set")
	}
	return cfg.Global.CatalogPath, nil
}

func openCatalog(cmd *cli.Command) (catalog.Catalog, error) {
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	path, err := catalogPath(cfg)
	if err != nil {
		return nil, err
	}
	db, err := catalog.Open(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func main() {
	cmd := &cli.Command{
		Name:  "maizedata",
		Usage: "Download external maize datasets for Kenya and record every run in a manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "configs/download.yaml",
				Value:       "configs/download.yaml",
				Sources:     cli.EnvVars("MAIZE_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Manifest path, overriding global.manifest_path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "Run every enabled downloader in order",
				Action: download,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-auth", Usage: "Skip sources that need API credentials"},
					&cli.BoolFlag{Name: "force", Usage: "Re-download files that already exist"},
					&cli.BoolFlag{Name: "hash", Usage: "Record SHA-256 digests of output files"},
				},
			},
			{
				Name:   "validate",
				Usage:  "Check that every enabled source produced output files",
				Action: validate,
			},
			{
				Name:   "runs",
				Usage:  "List runs recorded in the manifest, newest first",
				Action: listRuns,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Show at most this many runs"},
				},
			},
			{
				Name:  "catalog",
				Usage: "Query the SQLite catalog of runs and files",
				Commands: []*cli.Command{
					{
						Name:   "sync",
						Usage:  "Mirror the manifest into the catalog",
						Action: catalogSync,
					},
					{
						Name:   "runs",
						Usage:  "List synced runs, newest first",
						Action: catalogRuns,
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Show at most this many runs"},
						},
					},
					{
						Name:      "history",
						Usage:     "Show every recorded version of an output file",
						ArgsUsage: "<path>",
						Action:    catalogHistory,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
