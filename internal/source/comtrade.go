package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

const comtradeKeyEnv = "UNCOMTRADE_API_KEY"

type comtradeParams struct {
	BaseURL  string `yaml:"base_url"`
	HSCode   string `yaml:"hs_code"`
	YearFrom int    `yaml:"year_from"`
	YearTo   int    `yaml:"year_to"`
}

func defaultComtradeParams() comtradeParams {
	return comtradeParams{
		BaseURL:  "https://comtradeapi.worldbank.org/v1/get",
		HSCode:   "1005",
		YearFrom: 2015,
		YearTo:   2025,
	}
}

func (p *comtradeParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.HSCode, validation.Required),
		validation.Field(&p.YearFrom, validation.Required),
		validation.Field(&p.YearTo, validation.Required, validation.Min(p.YearFrom)),
	)
}

// comtrade downloads annual import/export records for one HS code.
type comtrade struct {
	env Env
	p   comtradeParams
}

func (c *comtrade) Fetch(ctx context.Context, dst storage.Provider) error {
	out := fmt.Sprintf("trade_hs%s_%d-%d.csv", c.p.HSCode, c.p.YearFrom, c.p.YearTo)
	if c.env.skip(dst, out) {
		return nil
	}

	years := make([]string, 0, c.p.YearTo-c.p.YearFrom+1)
	for y := c.p.YearFrom; y <= c.p.YearTo; y++ {
		years = append(years, strconv.Itoa(y))
	}
	query := url.Values{
		"cmdCode":  {c.p.HSCode},
		"freqCode": {"A"},
		"flowCode": {"M,X"},
		"year":     {strings.Join(years, ",")},
		"format":   {"json"},
		"max":      {"50000"},
	}
	header := http.Header{}
	if key := strings.TrimSpace(c.env.Getenv(comtradeKeyEnv)); key != "" {
		header.Set("Ocp-Apim-Subscription-Key", key)
	}

	c.env.Logger.Info("downloading trade records", "hs_code", c.p.HSCode, "from", c.p.YearFrom, "to", c.p.YearTo)
	body, err := c.env.Client.GetBytes(ctx, "comtrade get", c.p.BaseURL, query, header)
	if err != nil {
		return err
	}
	f, err := flattenRecords(body)
	if err != nil {
		return fmt.Errorf("comtrade: %w", err)
	}
	if f.len() == 0 {
		c.env.Logger.Warn("no rows returned")
		return nil
	}
	if err := writeCSV(dst, out, f); err != nil {
		return fmt.Errorf("comtrade: %w", err)
	}
	c.env.Logger.Info("saved", "file", out, "rows", f.len())
	return nil
}

// flattenRecords turns the response's data array into a table. Nested
// objects become dotted columns; arrays are kept as JSON text.
func flattenRecords(body []byte) (*frame, error) {
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	f := newFrame()
	for _, rec := range resp.Data {
		flat := map[string]string{}
		if err := flatten("", rec, flat); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]string, len(keys))
		for i, k := range keys {
			vals[i] = flat[k]
		}
		f.append(keys, vals)
	}
	return f, nil
}

func flatten(prefix string, obj map[string]any, out map[string]string) error {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			if err := flatten(key, t, out); err != nil {
				return err
			}
		case []any:
			b, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			out[key] = string(b)
		case nil:
			out[key] = ""
		case string:
			out[key] = t
		case json.Number:
			out[key] = t.String()
		case bool:
			out[key] = strconv.FormatBool(t)
		default:
			out[key] = fmt.Sprint(t)
		}
	}
	return nil
}
