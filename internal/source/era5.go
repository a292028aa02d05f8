package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

const (
	cdsDefaultURL = "https://cds.climate.copernicus.eu/api"
	cdsKeyEnv     = "CDSAPI_KEY"
	cdsURLEnv     = "CDSAPI_URL"
)

type era5Params struct {
	BaseURL     string    `yaml:"base_url"`
	Dataset     string    `yaml:"dataset"`
	Area        []float64 `yaml:"area"` // N, W, S, E
	Variables   []string  `yaml:"variables"`
	PollSeconds float64   `yaml:"poll_seconds"`

	key string
}

func defaultERA5Params(getenv func(string) string) era5Params {
	base := strings.TrimSpace(getenv(cdsURLEnv))
	if base == "" {
		base = cdsDefaultURL
	}
	return era5Params{
		BaseURL:     base,
		Dataset:     "reanalysis-era5-single-levels",
		Variables:   []string{"2m_temperature", "total_precipitation"},
		PollSeconds: 10,
		key:         strings.TrimSpace(getenv(cdsKeyEnv)),
	}
}

func (p *era5Params) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.Dataset, validation.Required),
		validation.Field(&p.Area, validation.Required, validation.Length(4, 4)),
		validation.Field(&p.Variables, validation.Required),
		validation.Field(&p.PollSeconds, validation.Min(0.0)),
	)
}

// cdsJob is the status document of a CDS retrieve job.
type cdsJob struct {
	JobID   string `json:"jobID"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type cdsResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
		} `json:"value"`
	} `json:"asset"`
}

// era5 submits one CDS retrieve job per year, waits for it and downloads
// the NetCDF result.
type era5 struct {
	env Env
	p   era5Params
}

func (e *era5) Fetch(ctx context.Context, dst storage.Provider) error {
	if e.p.key == "" {
		e.env.Logger.Warn("CDS API key not set, skipping", slog.String("env", cdsKeyEnv))
		return nil
	}
	if e.env.StartDate.IsZero() || e.env.EndDate.IsZero() {
		return fmt.Errorf("era5: global start_date and end_date are required")
	}

	for year := e.env.StartDate.Year(); year <= e.env.EndDate.Year(); year++ {
		out := fmt.Sprintf("era5_%d.nc", year)
		if e.env.skip(dst, out) {
			continue
		}
		e.env.Logger.Info("downloading year", "year", year, "variables", len(e.p.Variables), "area", e.p.Area)
		if err := e.retrieve(ctx, year, dst, out); err != nil {
			return fmt.Errorf("era5: year %d: %w", year, err)
		}
		e.env.Logger.Info("saved", "file", out)
	}
	return nil
}

func (e *era5) header() http.Header {
	return http.Header{"PRIVATE-TOKEN": {e.p.key}}
}

func (e *era5) retrieve(ctx context.Context, year int, dst storage.Provider, out string) error {
	base := strings.TrimRight(e.p.BaseURL, "/")
	submit := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", base, e.p.Dataset)

	var job cdsJob
	if err := e.env.Client.PostJSON(ctx, "cds submit", submit, e.header(), map[string]any{"inputs": e.request(year)}, &job); err != nil {
		return err
	}
	if job.JobID == "" {
		return fmt.Errorf("cds submit: response has no job id")
	}

	jobURL := fmt.Sprintf("%s/retrieve/v1/jobs/%s", base, job.JobID)
	poll := time.Duration(e.p.PollSeconds * float64(time.Second))
	for {
		switch job.Status {
		case "successful":
			var res cdsResults
			if err := e.env.Client.GetJSON(ctx, "cds results", jobURL+"/results", nil, e.header(), &res); err != nil {
				return err
			}
			if res.Asset.Value.Href == "" {
				return fmt.Errorf("cds results: job %s has no asset href", job.JobID)
			}
			_, err := e.env.Client.Download(ctx, "cds download", res.Asset.Value.Href, nil, e.header(), dst, out)
			return err
		case "failed", "rejected", "dismissed":
			return fmt.Errorf("cds job %s %s: %s", job.JobID, job.Status, job.Message)
		}

		e.env.Logger.Debug("waiting for job", "job", job.JobID, "status", job.Status)
		if err := sleep(ctx, poll); err != nil {
			return err
		}
		if err := e.env.Client.GetJSON(ctx, "cds status", jobURL, nil, e.header(), &job); err != nil {
			return err
		}
	}
}

func (e *era5) request(year int) map[string]any {
	months := make([]string, 12)
	for m := range months {
		months[m] = fmt.Sprintf("%02d", m+1)
	}
	days := make([]string, 31)
	for d := range days {
		days[d] = fmt.Sprintf("%02d", d+1)
	}
	hours := make([]string, 24)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d:00", h)
	}
	return map[string]any{
		"product_type":    []string{"reanalysis"},
		"variable":        e.p.Variables,
		"year":            []string{fmt.Sprint(year)},
		"month":           months,
		"day":             days,
		"time":            hours,
		"area":            e.p.Area,
		"data_format":     "netcdf",
		"download_format": "unarchived",
	}
}
