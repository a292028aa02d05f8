package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/storage"
	"github.com/starford/maizedata/internal/testutil"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	c, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return Env{
		Client:    c,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Getenv:    func(string) string { return "" },
	}
}

func newDownloader(t *testing.T, name string, env Env, params map[string]any) Downloader {
	t.Helper()
	spec, ok := Lookup(name)
	if !ok {
		t.Fatalf("Lookup(%q) failed", name)
	}
	d, err := New(spec, env, params)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return d
}

func readOut(t *testing.T, dst storage.Provider, name string) string {
	t.Helper()
	data, err := dst.Read(name)
	if err != nil {
		t.Fatalf("Read %s: %v", name, err)
	}
	return string(data)
}

func TestSpecsOrderAndUniqueness(t *testing.T) {
	var names []string
	seen := map[string]bool{}
	for _, s := range Specs {
		if seen[s.Name] {
			t.Errorf("duplicate source %q", s.Name)
		}
		seen[s.Name] = true
		names = append(names, s.Name)
	}
	want := []string{
		"kamis", "kenya_opendata_socrata", "hdx_wfp_prices", "worldbank_wdi",
		"nasa_power", "era5_cds", "geoboundaries_adm1", "spei_urls",
		"esa_cci_sm_urls", "uncomtrade",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Specs mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthSources(t *testing.T) {
	var auth []string
	for _, s := range Specs {
		if s.NeedsAuth {
			auth = append(auth, s.Name)
		}
	}
	if diff := cmp.Diff([]string{"era5_cds", "uncomtrade"}, auth); diff != "" {
		t.Errorf("auth sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("fao_giews"); ok {
		t.Fatal("expected unknown source")
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Spec{Name: "x", Kind: "bogus"}, Env{}, nil)
	if !errors.Is(err, apperr.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		params  map[string]any
		wantErr string
	}{
		{"socrata needs dataset", "kenya_opendata_socrata", map[string]any{"enabled": true}, "DatasetID"},
		{"socrata ok", "kenya_opendata_socrata", map[string]any{"dataset_id": "abcd-1234"}, ""},
		{"era5 area length", "era5_cds", map[string]any{"area": []any{1.0, 2.0}}, "Area"},
		{"era5 ok", "era5_cds", map[string]any{"area": []any{5.0, 33.5, -5.0, 42.0}}, ""},
		{"url list needs file", "spei_urls", nil, "URLsFile"},
		{"kamis defaults", "kamis", nil, ""},
		{"kamis bad per_page", "kamis", map[string]any{"per_page": 0}, "PerPage"},
		{"comtrade year order", "uncomtrade", map[string]any{"year_from": 2020, "year_to": 2019}, "YearTo"},
		{"bad type", "kamis", map[string]any{"per_page": "many"}, "decode params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, _ := Lookup(tt.source)
			err := ValidateParams(spec, tt.params)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeParamsKeepsDefaults(t *testing.T) {
	p := defaultKAMISParams()
	spec, _ := Lookup("kamis")
	if err := decodeParams(spec, map[string]any{"enabled": true, "per_page": 10}, &p); err != nil {
		t.Fatalf("decodeParams: %v", err)
	}
	want := kamisParams{BaseURL: kamisBaseURL, Products: []string{"Dry Maize"}, PerPage: 10, MaxOffsets: 1000}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestSkipHonoursForce(t *testing.T) {
	_, dst := testutil.TestOutput(t)
	if err := dst.Write("a.csv", []byte("x")); err != nil {
		t.Fatal(err)
	}
	env := testEnv(t)
	d := newDownloader(t, "kamis", env, nil).(*kamis)
	if !d.env.skip(dst, "a.csv") {
		t.Error("existing file not skipped")
	}
	if d.env.skip(dst, "b.csv") {
		t.Error("missing file skipped")
	}
	d.env.Force = true
	if d.env.skip(dst, "a.csv") {
		t.Error("force did not override skip")
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
