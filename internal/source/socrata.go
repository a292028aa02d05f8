package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

type socrataParams struct {
	BaseURL   string `yaml:"base_url"`
	DatasetID string `yaml:"dataset_id"`
	PageSize  int    `yaml:"page_size"`
}

func defaultSocrataParams() socrataParams {
	return socrataParams{
		BaseURL:  "https://www.opendata.go.ke",
		PageSize: 50000,
	}
}

func (p *socrataParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.DatasetID, validation.Required),
		validation.Field(&p.PageSize, validation.Required, validation.Min(1)),
	)
}

// socrata pages a Socrata dataset export with $limit/$offset.
type socrata struct {
	env Env
	p   socrataParams
}

func (s *socrata) Fetch(ctx context.Context, dst storage.Provider) error {
	out := s.p.DatasetID + ".csv"
	if s.env.skip(dst, out) {
		return nil
	}

	s.env.Logger.Info("downloading dataset", "dataset", s.p.DatasetID, "page_size", s.p.PageSize)
	resource := fmt.Sprintf("%s/resource/%s.csv", strings.TrimRight(s.p.BaseURL, "/"), s.p.DatasetID)

	f := newFrame()
	pages := 0
	for offset := 0; ; offset += s.p.PageSize {
		query := url.Values{
			"$limit":  {strconv.Itoa(s.p.PageSize)},
			"$offset": {strconv.Itoa(offset)},
		}
		body, err := s.env.Client.GetBytes(ctx, "socrata page", resource, query, nil)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			break
		}
		header, rows, err := readCSV(body)
		if err != nil {
			return fmt.Errorf("socrata: offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			f.append(header, r)
		}
		pages++
		s.env.Logger.Info("fetched page", "rows", len(rows), "pages", pages)

		if len(rows) < s.p.PageSize {
			break
		}
		if err := s.env.pause(ctx); err != nil {
			return err
		}
	}

	if f.len() == 0 {
		s.env.Logger.Info("no rows downloaded")
		return nil
	}
	if err := writeCSV(dst, out, f); err != nil {
		return fmt.Errorf("socrata: %w", err)
	}
	s.env.Logger.Info("saved", "file", out, "rows", f.len())
	return nil
}
