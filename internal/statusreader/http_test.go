package statusreader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"breva-backend/internal/analyses"
)

func TestHTTPFetcherReadsVolumeAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/measurements/m-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m-1","aiAnalysis":{"leftVolumeMl":321.4,"rightVolumeMl":null}}`))
	})
	mux.HandleFunc("/api/v1/captures/status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("measurementId") != "m-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("side") == "left" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"requestId":42,"status":"pending"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", "tok")
	ctx := context.Background()

	left, err := f.Volume(ctx, "m-1", analyses.SideLeft)
	if err != nil || left == nil || *left != 321.4 {
		t.Fatalf("expected left volume 321.4, got %v err=%v", left, err)
	}
	right, err := f.Volume(ctx, "m-1", analyses.SideRight)
	if err != nil || right != nil {
		t.Fatalf("expected no right volume, got %v err=%v", right, err)
	}

	if _, err := f.CaptureStatus(ctx, "m-1", analyses.SideLeft); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture on 404, got %v", err)
	}
	status, err := f.CaptureStatus(ctx, "m-1", analyses.SideRight)
	if err != nil || status != "PENDING" {
		t.Fatalf("expected PENDING, got %q err=%v", status, err)
	}
}

func TestHTTPFetcherSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "")
	if _, err := f.Volume(context.Background(), "m-1", analyses.SideLeft); err == nil {
		t.Fatalf("expected measurement error")
	}
	_, err := f.CaptureStatus(context.Background(), "m-1", analyses.SideLeft)
	if err == nil || errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected a non-404 error, got %v", err)
	}
}

func TestReaderOverHTTPResolvesEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/measurements/m-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m-2","aiAnalysis":null}`))
	})
	mux.HandleFunc("/api/v1/captures/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(NewHTTPFetcher(srv.URL, "tok"), WithGo(func(fn func()) { fn() }))
	defer r.Close()
	r.SetKey(Key{MeasurementID: "m-2", Side: analyses.SideRight})

	if got := r.Snapshot(); got.State != StateEmpty {
		t.Fatalf("expected empty, got %+v", got)
	}
}
