package source

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/maizedata/internal/storage"
)

const hdxOutFile = "wfp_food_prices_raw.csv"

type hdxParams struct {
	BaseURL     string `yaml:"base_url"`
	PackageID   string `yaml:"package_id"`
	CountryHint string `yaml:"country_hint"`
}

func defaultHDXParams() hdxParams {
	return hdxParams{
		BaseURL:     "https://data.humdata.org",
		PackageID:   "wfp-food-prices",
		CountryHint: "Kenya",
	}
}

func (p *hdxParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.PackageID, validation.Required),
	)
}

type ckanResource struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	URL         string `json:"url"`
}

type ckanPackageShow struct {
	Success bool `json:"success"`
	Result  struct {
		Resources []ckanResource `json:"resources"`
	} `json:"result"`
}

// hdx picks the best CSV resource of a CKAN package and downloads it as is.
type hdx struct {
	env Env
	p   hdxParams
}

func (h *hdx) Fetch(ctx context.Context, dst storage.Provider) error {
	if h.env.skip(dst, hdxOutFile) {
		return nil
	}

	var pkg ckanPackageShow
	endpoint := strings.TrimRight(h.p.BaseURL, "/") + "/api/3/action/package_show"
	if err := h.env.Client.GetJSON(ctx, "hdx package_show", endpoint, url.Values{"id": {h.p.PackageID}}, nil, &pkg); err != nil {
		return err
	}
	if !pkg.Success {
		return fmt.Errorf("hdx: package_show %s: success=false", h.p.PackageID)
	}

	chosen, ok := chooseResource(pkg.Result.Resources, h.p.CountryHint)
	if !ok {
		return fmt.Errorf("hdx: package %s has no downloadable resources", h.p.PackageID)
	}

	h.env.Logger.Info("downloading resource", "package", h.p.PackageID, "resource", chosen.Name, "url", chosen.URL)
	n, err := h.env.Client.Download(ctx, "hdx resource", chosen.URL, nil, nil, dst, hdxOutFile)
	if err != nil {
		return err
	}
	h.env.Logger.Info("saved", "file", hdxOutFile, "bytes", n)
	return nil
}

// resourceScore ranks resources: CSV format +2, country hint in name or
// description +3, "food price" +1.
func resourceScore(r ckanResource, countryHint string) int {
	text := strings.ToLower(r.Name + " " + r.Description)
	score := 0
	if strings.Contains(strings.ToLower(r.Format), "csv") {
		score += 2
	}
	if countryHint != "" && strings.Contains(text, strings.ToLower(countryHint)) {
		score += 3
	}
	if strings.Contains(text, "food price") {
		score++
	}
	return score
}

// chooseResource returns the highest-ranked CSV resource with a URL, falling
// back to the highest-ranked resource overall.
func chooseResource(resources []ckanResource, countryHint string) (ckanResource, bool) {
	if len(resources) == 0 {
		return ckanResource{}, false
	}
	sorted := append([]ckanResource(nil), resources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return resourceScore(sorted[i], countryHint) > resourceScore(sorted[j], countryHint)
	})
	for _, r := range sorted {
		if strings.EqualFold(r.Format, "csv") && r.URL != "" {
			return r, true
		}
	}
	if sorted[0].URL == "" {
		return ckanResource{}, false
	}
	return sorted[0], true
}
