package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEnqueueReturnsRequestID(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"requestId": 42}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, srv.URL+"/status", "k-1", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	id, err := c.Enqueue(context.Background(), map[string]string{"side": "left"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if gotAuth != "Bearer k-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["side"] != "left" {
		t.Fatalf("payload not forwarded: %v", gotBody)
	}
}

func TestEnqueueAcceptsStringRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId": "77"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, srv.URL, "", time.Second)
	id, err := c.Enqueue(context.Background(), struct{}{})
	if err != nil || id != 77 {
		t.Fatalf("expected 77, got %d (%v)", id, err)
	}
}

func TestEnqueueNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, srv.URL, "", time.Second)
	_, err := c.Enqueue(context.Background(), struct{}{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable || httpErr.Op != "enqueue" {
		t.Fatalf("unexpected HTTPError %+v", httpErr)
	}
}

func TestEnqueueMissingRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, srv.URL, "", time.Second)
	if _, err := c.Enqueue(context.Background(), struct{}{}); err == nil {
		t.Fatalf("expected error for missing requestId")
	}
}

func TestStatusHitsRequestPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"requestId": 42, "status": "completed", "estimatedVolume": 350.5}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL+"/enqueue", srv.URL+"/status/", "", time.Second)
	st, err := c.Status(context.Background(), 42)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if gotPath != "/status/42" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if st.Status != StatusCompleted || st.EstimatedVolume == nil || *st.EstimatedVolume != 350.5 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !st.Terminal() {
		t.Fatalf("expected COMPLETED to be terminal")
	}
}

func TestNewClientRequiresURLs(t *testing.T) {
	if _, err := NewClient("", "http://x", "", 0); err == nil {
		t.Fatalf("expected error without enqueue url")
	}
	if _, err := NewClient("http://x", " ", "", 0); err == nil {
		t.Fatalf("expected error without status url")
	}
}
