package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

type geoBoundariesParams struct {
	BaseURL string `yaml:"base_url"`
	ISO3    string `yaml:"iso3"`
	ADM     string `yaml:"adm"`
}

func defaultGeoBoundariesParams() geoBoundariesParams {
	return geoBoundariesParams{
		BaseURL: "https://www.geoboundaries.org/api/current/gbOpen",
		ISO3:    "KEN",
		ADM:     "ADM1",
	}
}

func (p *geoBoundariesParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.ISO3, validation.Required, validation.Length(3, 3)),
		validation.Field(&p.ADM, validation.Required),
	)
}

// Metadata keys holding a download link, in order of preference.
var geoBoundariesLinkKeys = []string{"staticDownloadLink", "downloadURL", "gjDownloadURL"}

// geoBoundaries downloads one administrative boundary release.
type geoBoundaries struct {
	env Env
	p   geoBoundariesParams
}

func (g *geoBoundaries) Fetch(ctx context.Context, dst storage.Provider) error {
	out := fmt.Sprintf("geoboundaries_%s_%s.zip", g.p.ISO3, g.p.ADM)
	if g.env.skip(dst, out) {
		return nil
	}

	api := fmt.Sprintf("%s/%s/%s/", strings.TrimRight(g.p.BaseURL, "/"), g.p.ISO3, g.p.ADM)
	var meta map[string]any
	if err := g.env.Client.GetJSON(ctx, "geoboundaries metadata", api, nil, nil, &meta); err != nil {
		return err
	}
	link := downloadLink(meta)
	if link == "" {
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("geoboundaries: no download URL in metadata, keys: %v", keys)
	}

	g.env.Logger.Info("downloading boundaries", "iso3", g.p.ISO3, "adm", g.p.ADM, "url", link)
	data, err := g.env.Client.GetBytes(ctx, "geoboundaries download", link, nil, nil)
	if err != nil {
		return err
	}
	if err := g.inspect(out, data); err != nil {
		return err
	}
	if err := dst.Write(out, data); err != nil {
		return fmt.Errorf("geoboundaries: %w", err)
	}
	g.env.Logger.Info("saved", "file", out, "bytes", len(data))
	return nil
}

func downloadLink(meta map[string]any) string {
	for _, k := range geoBoundariesLinkKeys {
		if s, ok := meta[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// inspect logs the entry count of a ZIP download. Content that is not a ZIP
// (the GeoJSON fallback link) is kept with a warning; a corrupt ZIP fails
// before anything is written.
func (g *geoBoundaries) inspect(name string, data []byte) error {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		g.env.Logger.Warn("download is not a ZIP archive", "file", name)
		return nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("geoboundaries: %s: %w", name, err)
	}
	g.env.Logger.Info("archive contents", "file", name, "entries", len(zr.File))
	return nil
}
