package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/maizedata/internal/testutil"
)

func TestSocrataPagesUntilShortPage(t *testing.T) {
	var requests atomic.Int32
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/resource/abcd-1234.csv", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			requests.Add(1)
			if q.Get("$limit") != "2" {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			switch q.Get("$offset") {
			case "0":
				fmt.Fprint(w, "a,b\n1,2\n3,4\n")
			case "2":
				fmt.Fprint(w, "a,b,c\n5,6,7\n")
			default:
				t.Errorf("unexpected offset %q", q.Get("$offset"))
			}
		})
	})

	_, dst := testutil.TestOutput(t)
	d := newDownloader(t, "kenya_opendata_socrata", testEnv(t), map[string]any{
		"base_url":   srv.URL,
		"dataset_id": "abcd-1234",
		"page_size":  2,
	})
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := "a,b,c\n1,2,\n3,4,\n5,6,7\n"
	if got := readOut(t, dst, "abcd-1234.csv"); got != want {
		t.Errorf("csv:\n%s\nwant:\n%s", got, want)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestSocrataEmptyWritesNothing(t *testing.T) {
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/resource/empty.csv", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "  \n")
		})
	})

	_, dst := testutil.TestOutput(t)
	d := newDownloader(t, "kenya_opendata_socrata", testEnv(t), map[string]any{
		"base_url":   srv.URL,
		"dataset_id": "empty",
	})
	if err := d.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if dst.Exists("empty.csv") {
		t.Error("no file expected for empty dataset")
	}
}

func TestSocrataHTTPError(t *testing.T) {
	srv := testutil.Upstream(t, func(r chi.Router) {
		r.Get("/resource/gone.csv", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "dataset not found", http.StatusNotFound)
		})
	})

	_, dst := testutil.TestOutput(t)
	d := newDownloader(t, "kenya_opendata_socrata", testEnv(t), map[string]any{
		"base_url":   srv.URL,
		"dataset_id": "gone",
	})
	err := d.Fetch(context.Background(), dst)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want APIError 404", err)
	}
	if apiErr.Message != "dataset not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}
