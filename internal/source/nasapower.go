package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

type nasaPowerParams struct {
	BaseURL    string   `yaml:"base_url"`
	PointsCSV  string   `yaml:"points_csv"`
	Parameters []string `yaml:"parameters"`
	Community  string   `yaml:"community"`
}

func defaultNASAPowerParams() nasaPowerParams {
	return nasaPowerParams{
		BaseURL:    "https://power.larc.nasa.gov/api/temporal/daily/point",
		Parameters: []string{"T2M", "PRECTOT"},
		Community:  "AG",
	}
}

func (p *nasaPowerParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.PointsCSV, validation.Required),
		validation.Field(&p.Parameters, validation.Required),
		validation.Field(&p.Community, validation.Required),
	)
}

type point struct {
	ID  string
	Lat float64
	Lon float64
}

// nasaPower downloads the daily point time series for every configured point.
type nasaPower struct {
	env Env
	p   nasaPowerParams
}

func (n *nasaPower) Fetch(ctx context.Context, dst storage.Provider) error {
	if n.env.StartDate.IsZero() || n.env.EndDate.IsZero() {
		return errors.New("nasa_power: global start_date and end_date are required")
	}
	points, err := readPoints(n.p.PointsCSV)
	if err != nil {
		return err
	}
	start := n.env.StartDate.Format("20060102")
	end := n.env.EndDate.Format("20060102")

	for _, pt := range points {
		out := fmt.Sprintf("power_daily_%s.json", pt.ID)
		if n.env.skip(dst, out) {
			continue
		}

		query := url.Values{
			"latitude":   {strconv.FormatFloat(pt.Lat, 'f', -1, 64)},
			"longitude":  {strconv.FormatFloat(pt.Lon, 'f', -1, 64)},
			"start":      {start},
			"end":        {end},
			"community":  {n.p.Community},
			"parameters": {strings.Join(n.p.Parameters, ",")},
			"format":     {"JSON"},
		}
		n.env.Logger.Info("downloading point", "id", pt.ID, "lat", pt.Lat, "lon", pt.Lon)
		if _, err := n.env.Client.Download(ctx, "nasa_power point", n.p.BaseURL, query, nil, dst, out); err != nil {
			return err
		}
		n.env.Logger.Info("saved", "file", out)
		if err := n.env.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// readPoints loads the id,lat,lon table. Extra columns are ignored.
func readPoints(path string) ([]point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nasa_power: read points: %w", err)
	}
	header, rows, err := readCSV(data)
	if err != nil {
		return nil, fmt.Errorf("nasa_power: %s: %w", path, err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{"id", "lat", "lon"} {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("nasa_power: %s: missing column %q", path, c)
		}
	}

	out := make([]point, 0, len(rows))
	for i, r := range rows {
		get := func(c string) string {
			if j := col[c]; j < len(r) {
				return strings.TrimSpace(r[j])
			}
			return ""
		}
		lat, err := strconv.ParseFloat(get("lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("nasa_power: %s: row %d: lat: %w", path, i+2, err)
		}
		lon, err := strconv.ParseFloat(get("lon"), 64)
		if err != nil {
			return nil, fmt.Errorf("nasa_power: %s: row %d: lon: %w", path, i+2, err)
		}
		out = append(out, point{ID: get("id"), Lat: lat, Lon: lon})
	}
	return out, nil
}
