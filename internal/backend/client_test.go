package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Options{Identity: "x@example.com"}); err != ErrMissingBaseURL {
		t.Fatalf("err = %v, want ErrMissingBaseURL", err)
	}
	if _, err := NewClient(Options{BaseURL: "https://api.example.com"}); err != ErrMissingIdentity {
		t.Fatalf("err = %v, want ErrMissingIdentity", err)
	}
}

func TestStreamURLEscapesIdentity(t *testing.T) {
	client, err := NewClient(Options{
		BaseURL:  "https://api.example.com/",
		Identity: "user+tag@example.com",
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	got := client.StreamURL("job-1")
	want := "https://api.example.com/generation-status/job-1/stream?email=user%2Btag%40example.com"
	if got != want {
		t.Fatalf("stream url = %q, want %q", got, want)
	}
}

func TestStatusURL(t *testing.T) {
	client, err := NewClient(Options{
		BaseURL:  "https://api.example.com",
		Identity: "ops@example.com",
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	got := client.StatusURL("job-7")
	want := "https://api.example.com/generation-status/job-7?email=ops%40example.com"
	if got != want {
		t.Fatalf("status url = %q, want %q", got, want)
	}
}

func TestGenerationStatusReturnsRawPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generation-status/job-1" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("email") != "ops@example.com" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"job_id":"job-1","status":"processing"}`)
	}))
	defer srv.Close()

	client, err := NewClient(Options{BaseURL: srv.URL, Identity: "ops@example.com"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	raw, err := client.GenerationStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GenerationStatus returned error: %v", err)
	}
	if !strings.Contains(string(raw), `"status":"processing"`) {
		t.Fatalf("payload = %s", raw)
	}
}

func TestGenerationStatusNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(Options{BaseURL: srv.URL, Identity: "ops@example.com"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.GenerationStatus(context.Background(), "job-1"); err == nil {
		t.Fatalf("expected error for non-200 status response")
	}
}

func TestOpenStatusStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generation-status/job-1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"job_id\":\"job-1\",\"status\":\"listening\"}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	client, err := NewClient(Options{BaseURL: srv.URL, Identity: "ops@example.com"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	conn, err := client.OpenStatusStream(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("OpenStatusStream returned error: %v", err)
	}
	defer conn.Close()

	ev, ok := <-conn.Events()
	if !ok {
		t.Fatalf("expected an event from the stream")
	}
	if !strings.Contains(string(ev.Data), `"status":"listening"`) {
		t.Fatalf("event data = %s", ev.Data)
	}
}
