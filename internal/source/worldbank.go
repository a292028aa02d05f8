package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

type worldBankParams struct {
	BaseURL    string   `yaml:"base_url"`
	Country    string   `yaml:"country"`
	Indicators []string `yaml:"indicators"`
}

func defaultWorldBankParams() worldBankParams {
	return worldBankParams{
		BaseURL: "https://api.worldbank.org/v2",
		Country: "KEN",
	}
}

func (p *worldBankParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.Country, validation.Required),
	)
}

var wdiColumns = []string{"date", "value", "indicator", "country"}

type wdiPoint struct {
	Date  string      `json:"date"`
	Value json.Number `json:"value"`
}

// worldBank fetches World Development Indicators for one country.
type worldBank struct {
	env Env
	p   worldBankParams
}

func (w *worldBank) Fetch(ctx context.Context, dst storage.Provider) error {
	all := newFrame()
	for _, c := range wdiColumns {
		all.column(c)
	}
	for _, ind := range w.p.Indicators {
		out := fmt.Sprintf("%s_%s.csv", w.p.Country, ind)

		var f *frame
		if w.env.skip(dst, out) {
			data, err := dst.Read(out)
			if err != nil {
				return fmt.Errorf("worldbank: %w", err)
			}
			header, rows, err := readCSV(data)
			if err != nil {
				return fmt.Errorf("worldbank: %s: %w", out, err)
			}
			f = newFrame()
			for _, r := range rows {
				f.append(header, r)
			}
		} else {
			w.env.Logger.Info("fetching indicator", "country", w.p.Country, "indicator", ind)
			var err error
			if f, err = w.fetchIndicator(ctx, ind); err != nil {
				return err
			}
			if err := writeCSV(dst, out, f); err != nil {
				return fmt.Errorf("worldbank: %w", err)
			}
			w.env.Logger.Info("saved", "file", out, "rows", f.len())
			if err := w.env.pause(ctx); err != nil {
				return err
			}
		}

		for _, r := range f.rows {
			all.append(f.cols, r)
		}
	}

	if len(w.p.Indicators) == 0 {
		return nil
	}
	out := w.p.Country + "_all_indicators.csv"
	if err := writeCSV(dst, out, all); err != nil {
		return fmt.Errorf("worldbank: %w", err)
	}
	w.env.Logger.Info("saved", "file", out, "rows", all.len())
	return nil
}

// fetchIndicator decodes the two-element [meta, data] response. A null data
// element means the indicator has no observations.
func (w *worldBank) fetchIndicator(ctx context.Context, indicator string) (*frame, error) {
	endpoint := fmt.Sprintf("%s/country/%s/indicator/%s",
		strings.TrimRight(w.p.BaseURL, "/"), url.PathEscape(w.p.Country), url.PathEscape(indicator))
	query := url.Values{"format": {"json"}, "per_page": {"20000"}}

	var resp []json.RawMessage
	if err := w.env.Client.GetJSON(ctx, "worldbank indicator", endpoint, query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("worldbank: indicator %s: unexpected response with %d elements", indicator, len(resp))
	}

	var points []*wdiPoint
	if err := json.Unmarshal(resp[1], &points); err != nil {
		return nil, fmt.Errorf("worldbank: indicator %s: decode data: %w", indicator, err)
	}

	f := newFrame()
	for _, c := range wdiColumns {
		f.column(c)
	}
	for _, p := range points {
		if p == nil {
			continue
		}
		f.append(wdiColumns, []string{p.Date, p.Value.String(), indicator, w.p.Country})
	}
	return f, nil
}
