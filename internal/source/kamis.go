package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/maizedata/internal/storage"
)

const (
	kamisBaseURL     = "https://kamis.kilimo.go.ke/site/market"
	kamisProductsCSV = "_products.csv"
)

type kamisParams struct {
	BaseURL    string   `yaml:"base_url"`
	Products   []string `yaml:"products"`
	PerPage    int      `yaml:"per_page"`
	MaxOffsets int      `yaml:"max_offsets"`
}

func defaultKAMISParams() kamisParams {
	return kamisParams{
		BaseURL:    kamisBaseURL,
		Products:   []string{"Dry Maize"},
		PerPage:    3000,
		MaxOffsets: 1000,
	}
}

func (p *kamisParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BaseURL, validation.Required),
		validation.Field(&p.Products, validation.Required),
		validation.Field(&p.PerPage, validation.Required, validation.Min(1)),
		validation.Field(&p.MaxOffsets, validation.Required, validation.Min(1)),
	)
}

// kamis scrapes the KAMIS market price table, one paginated walk per product.
type kamis struct {
	env Env
	p   kamisParams
}

type kamisProduct struct {
	ID   int
	Name string
}

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9]+`)
	digitsRe   = regexp.MustCompile(`^[0-9]+$`)
	dryMaizeRe = regexp.MustCompile(`(?i)dry\s+maize`)
)

func normalizeName(s string) string {
	return spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func slugify(s string) string {
	return strings.Trim(nonSlugRe.ReplaceAllString(normalizeName(s), "_"), "_")
}

func (k *kamis) Fetch(ctx context.Context, dst storage.Provider) error {
	products, err := k.catalog(ctx, dst)
	if err != nil {
		return err
	}

	for _, name := range k.p.Products {
		id, err := resolveProduct(products, name)
		if err != nil {
			return err
		}
		out := fmt.Sprintf("kamis_product%d_%s_perpage%d.csv", id, slugify(name), k.p.PerPage)
		if k.env.skip(dst, out) {
			continue
		}

		k.env.Logger.Info("downloading product", "product", name, "id", id, "per_page", k.p.PerPage)
		f, err := k.fetchProduct(ctx, id, name)
		if err != nil {
			return err
		}
		if f.len() == 0 {
			k.env.Logger.Info("no data for product", "product", name, "id", id)
			continue
		}
		f.dedupeLast("Commodity", "Classification", "Market", "County", "Date", "Wholesale", "Retail")
		if err := writeCSV(dst, out, f); err != nil {
			return fmt.Errorf("kamis: %w", err)
		}
		k.env.Logger.Info("saved", "file", out, "rows", f.len())
	}
	return nil
}

// catalog returns the product dropdown, cached as _products.csv.
func (k *kamis) catalog(ctx context.Context, dst storage.Provider) ([]kamisProduct, error) {
	if dst.Exists(kamisProductsCSV) && !k.env.Force {
		data, err := dst.Read(kamisProductsCSV)
		if err != nil {
			return nil, fmt.Errorf("kamis: %w", err)
		}
		return decodeProducts(data)
	}

	k.env.Logger.Info("fetching product dropdown catalog")
	body, err := k.env.Client.GetBytes(ctx, "kamis product catalog", k.p.BaseURL, nil, nil)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kamis: parse market page: %w", err)
	}
	products, err := parseProductSelect(doc)
	if err != nil {
		return nil, err
	}

	f := newFrame()
	cols := []string{"product_id", "product_name"}
	for _, p := range products {
		f.append(cols, []string{strconv.Itoa(p.ID), p.Name})
	}
	if err := writeCSV(dst, kamisProductsCSV, f); err != nil {
		return nil, fmt.Errorf("kamis: %w", err)
	}
	k.env.Logger.Info("saved product catalog", "file", kamisProductsCSV, "n", len(products))
	return products, nil
}

func decodeProducts(data []byte) ([]kamisProduct, error) {
	header, rows, err := readCSV(data)
	if err != nil {
		return nil, fmt.Errorf("kamis: %s: %w", kamisProductsCSV, err)
	}
	idCol, nameCol := -1, -1
	for i, h := range header {
		switch h {
		case "product_id":
			idCol = i
		case "product_name":
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("kamis: %s: missing product_id/product_name columns", kamisProductsCSV)
	}
	var out []kamisProduct
	for _, r := range rows {
		if idCol >= len(r) || nameCol >= len(r) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(r[idCol]))
		if err != nil {
			continue
		}
		out = append(out, kamisProduct{ID: id, Name: r[nameCol]})
	}
	return out, nil
}

// parseProductSelect reads the product dropdown: <select name="product">, or
// failing that the first select mentioning Dry Maize.
func parseProductSelect(doc *html.Node) ([]kamisProduct, error) {
	selects := findAll(doc, atom.Select)
	var sel *html.Node
	for _, s := range selects {
		if attr(s, "name") == "product" {
			sel = s
			break
		}
	}
	if sel == nil {
		for _, s := range selects {
			if dryMaizeRe.MatchString(text(s)) {
				sel = s
				break
			}
		}
	}
	if sel == nil {
		return nil, errors.New("kamis: could not locate product dropdown on market page")
	}

	var out []kamisProduct
	for _, opt := range findAll(sel, atom.Option) {
		val := strings.TrimSpace(attr(opt, "value"))
		if !digitsRe.MatchString(val) {
			continue
		}
		id, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		out = append(out, kamisProduct{ID: id, Name: text(opt)})
	}
	if len(out) == 0 {
		return nil, errors.New("kamis: product dropdown has no numeric option values")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// resolveProduct maps a configured product name to its id: a unique exact
// match on the normalized name wins, then a unique substring match.
func resolveProduct(products []kamisProduct, name string) (int, error) {
	target := normalizeName(name)

	var exact, contains []kamisProduct
	for _, p := range products {
		key := normalizeName(p.Name)
		if key == target {
			exact = append(exact, p)
		}
		if strings.Contains(key, target) {
			contains = append(contains, p)
		}
	}

	switch {
	case len(exact) == 1:
		return exact[0].ID, nil
	case len(exact) > 1:
		return 0, fmt.Errorf("kamis: ambiguous product %q: matches ids %v", name, productIDs(exact))
	case len(contains) == 1:
		return contains[0].ID, nil
	case len(contains) > 1:
		return 0, fmt.Errorf("kamis: ambiguous product %q: did you mean one of %s", name, describeProducts(contains, 10))
	}
	return 0, fmt.Errorf("kamis: unknown product %q: first options %s", name, describeProducts(products, 30))
}

func productIDs(ps []kamisProduct) []int {
	ids := make([]int, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

func describeProducts(ps []kamisProduct, limit int) string {
	if len(ps) > limit {
		ps = ps[:limit]
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("%d=%s", p.ID, p.Name)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// fetchProduct walks the offset-paginated market table until a page is empty,
// short, or fails.
func (k *kamis) fetchProduct(ctx context.Context, id int, name string) (*frame, error) {
	f := newFrame()
	for i := 0; i < k.p.MaxOffsets; i++ {
		offset := i * k.p.PerPage
		pageURL := k.p.BaseURL
		if offset > 0 {
			pageURL = fmt.Sprintf("%s/%d", strings.TrimRight(k.p.BaseURL, "/"), offset)
		}
		query := url.Values{
			"product":  {strconv.Itoa(id)},
			"per_page": {strconv.Itoa(k.p.PerPage)},
		}

		body, err := k.env.Client.GetBytes(ctx, "kamis market page", pageURL, query, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			k.env.Logger.Warn("page failed, stopping", "offset", offset, slog.Any("error", err))
			break
		}
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			k.env.Logger.Warn("page unparseable, stopping", "offset", offset, slog.Any("error", err))
			break
		}
		tbl, ok := pickMarketTable(parseTables(doc))
		if !ok || len(tbl.rows) == 0 {
			k.env.Logger.Info("page empty, stopping", "offset", offset)
			break
		}

		cols := append(append([]string{}, tbl.header...), "product_id", "product_name", "offset")
		for _, r := range tbl.rows {
			vals := make([]string, len(tbl.header), len(cols))
			copy(vals, r)
			vals = append(vals, strconv.Itoa(id), name, strconv.Itoa(offset))
			f.append(cols, vals)
		}
		k.env.Logger.Info("page", "offset", offset, "rows", len(tbl.rows))

		if err := k.env.pause(ctx); err != nil {
			return nil, err
		}
		if len(tbl.rows) < k.p.PerPage {
			break
		}
	}
	return f, nil
}

// pickMarketTable prefers the table whose header names Commodity, County and
// Date; otherwise the last table on the page.
func pickMarketTable(tables []htmlTable) (htmlTable, bool) {
	if len(tables) == 0 {
		return htmlTable{}, false
	}
	for _, t := range tables {
		have := map[string]bool{}
		for _, h := range t.header {
			have[strings.ToLower(strings.TrimSpace(h))] = true
		}
		if have["commodity"] && have["county"] && have["date"] {
			return t, true
		}
	}
	return tables[len(tables)-1], true
}
