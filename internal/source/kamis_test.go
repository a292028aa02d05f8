package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/starford/maizedata/internal/testutil"
)

const kamisDropdown = `<form><select name="product">
<option value="">-- All --</option>
<option value="12">Dry Maize (White)</option>
<option value="1">Dry   Maize</option>
<option value="3">Beans</option>
</select></form>`

func kamisPage(rows ...[]string) string {
	var b strings.Builder
	b.WriteString("<html><body>" + kamisDropdown)
	b.WriteString("<table><thead><tr><th>Commodity</th><th>Market</th><th>County</th><th>Wholesale</th><th>Retail</th><th>Date</th></tr></thead><tbody>")
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, c := range r {
			fmt.Fprintf(&b, "<td> %s </td>", c)
		}
		b.WriteString("</tr>")
	}
	if len(rows) == 0 {
		b.WriteString(`<tr><td colspan="6">No records found</td></tr>`)
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

func TestParseProductSelect(t *testing.T) {
	doc := mustParseHTML(t, kamisPage())
	got, err := parseProductSelect(doc)
	if err != nil {
		t.Fatalf("parseProductSelect: %v", err)
	}
	want := []kamisProduct{{1, "Dry Maize"}, {3, "Beans"}, {12, "Dry Maize (White)"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProductSelectFallback(t *testing.T) {
	doc := mustParseHTML(t, `<select id="x"><option value="5">Dry Maize</option></select>`)
	got, err := parseProductSelect(doc)
	if err != nil {
		t.Fatalf("parseProductSelect: %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Errorf("got %+v", got)
	}
}

func TestParseProductSelectMissing(t *testing.T) {
	doc := mustParseHTML(t, `<select name="county"><option value="1">Nairobi</option></select>`)
	if _, err := parseProductSelect(doc); err == nil {
		t.Fatal("expected error without product dropdown")
	}
}

func TestResolveProduct(t *testing.T) {
	products := []kamisProduct{{1, "Dry Maize"}, {3, "Beans"}, {12, "Dry Maize (White)"}, {14, "Green Maize"}}
	tests := []struct {
		name    string
		want    int
		wantErr string
	}{
		{"dry maize", 1, ""},
		{"  DRY   MAIZE ", 1, ""},
		{"bean", 3, ""},
		{"maize", 0, "ambiguous"},
		{"sorghum", 0, "unknown product"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveProduct(products, tt.name)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveProduct: %v", err)
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveProductExactDuplicates(t *testing.T) {
	products := []kamisProduct{{1, "Dry Maize"}, {2, "dry maize"}}
	if _, err := resolveProduct(products, "Dry Maize"); err == nil || !strings.Contains(err.Error(), "[1 2]") {
		t.Fatalf("err = %v", err)
	}
}

func TestSlugify(t *testing.T) {
	if got := slugify(" Dry Maize (White) "); got != "dry_maize_white" {
		t.Errorf("slugify = %q", got)
	}
}

func TestKAMISFetch(t *testing.T) {
	var catalogHits atomic.Int32
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/site/market", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("product") == "" {
				catalogHits.Add(1)
				fmt.Fprint(w, kamisPage())
				return
			}
			if r.URL.Query().Get("product") != "1" || r.URL.Query().Get("per_page") != "2" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, kamisPage(
				[]string{"Dry Maize", "Kibuye", "Kakamega", "50", "60", "2024-01-02"},
				[]string{"Dry Maize", "Kibuye", "Kakamega", "55", "65", "2024-01-03"},
			))
		})
		r.Get("/site/market/{offset}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "offset") != "2" {
				fmt.Fprint(w, kamisPage())
				return
			}
			fmt.Fprint(w, kamisPage(
				[]string{"Dry Maize", "Kibuye", "Kakamega", "50", "60", "2024-01-02"},
			))
		})
	})

	_, dst := testutil.TestOutput(t)
	d := newDownloader(t, "kamis", testEnv(t), map[string]any{
		"base_url": srv.URL + "/site/market",
		"products": []any{"Dry Maize"},
		"per_page": 2,
	})
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	wantCatalog := "product_id,product_name\n1,Dry Maize\n3,Beans\n12,Dry Maize (White)\n"
	if got := readOut(t, dst, "_products.csv"); got != wantCatalog {
		t.Errorf("_products.csv:\n%s\nwant:\n%s", got, wantCatalog)
	}

	want := "Commodity,Market,County,Wholesale,Retail,Date,product_id,product_name,offset\n" +
		"Dry Maize,Kibuye,Kakamega,55,65,2024-01-03,1,Dry Maize,0\n" +
		"Dry Maize,Kibuye,Kakamega,50,60,2024-01-02,1,Dry Maize,2\n"
	if got := readOut(t, dst, "kamis_product1_dry_maize_perpage2.csv"); got != want {
		t.Errorf("product csv:\n%s\nwant:\n%s", got, want)
	}

	// Second run reuses the cached catalog and skips the existing file.
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if n := catalogHits.Load(); n != 1 {
		t.Errorf("catalog fetched %d times, want 1", n)
	}
}

func TestKAMISUsesCachedCatalog(t *testing.T) {
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/site/market", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("product") == "" {
				t.Error("catalog should not be fetched")
			}
			fmt.Fprint(w, kamisPage())
		})
	})

	_, dst := testutil.TestOutput(t)
	if err := dst.Write("_products.csv", []byte("product_id,product_name\n7,Dry Maize\n")); err != nil {
		t.Fatal(err)
	}
	d := newDownloader(t, "kamis", testEnv(t), map[string]any{"base_url": srv.URL + "/site/market"})
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// Empty first page: nothing written for the product.
	if dst.Exists("kamis_product7_dry_maize_perpage3000.csv") {
		t.Error("empty product should not produce a file")
	}
}

func TestKAMISPageErrorStopsProduct(t *testing.T) {
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/site/market", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("product") == "" {
				fmt.Fprint(w, kamisPage())
				return
			}
			fmt.Fprint(w, kamisPage([]string{"Beans", "Wakulima", "Nairobi", "90", "100", "2024-02-01"}))
		})
		r.Get("/site/market/{offset}", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	_, dst := testutil.TestOutput(t)
	d := newDownloader(t, "kamis", testEnv(t), map[string]any{
		"base_url": srv.URL + "/site/market",
		"products": []any{"beans"},
		"per_page": 1,
	})
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := readOut(t, dst, "kamis_product3_beans_perpage1.csv")
	if !strings.Contains(got, "Beans,Wakulima,Nairobi,90,100,2024-02-01,3,beans,0") {
		t.Errorf("unexpected content:\n%s", got)
	}
}

func TestPickMarketTable(t *testing.T) {
	doc := mustParseHTML(t, `
<table><tr><th>Nav</th></tr><tr><td>x</td></tr></table>
<table><tr><th>Commodity</th><th>County</th><th>Date</th></tr><tr><td>a</td><td>b</td><td>c</td></tr></table>
<table><tr><th>Footer</th></tr></table>`)
	tbl, ok := pickMarketTable(parseTables(doc))
	if !ok || tbl.header[0] != "Commodity" {
		t.Fatalf("picked %+v", tbl)
	}

	doc = mustParseHTML(t, `<table><tr><td>a</td></tr><tr><td>1</td></tr></table><table><tr><th>last</th></tr></table>`)
	tbl, ok = pickMarketTable(parseTables(doc))
	if !ok || tbl.header[0] != "last" {
		t.Fatalf("fallback picked %+v", tbl)
	}
}
