package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genwatch/internal/monitor"
)

type stubObserver struct {
	frames chan []byte
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func (o *stubObserver) Frames() <-chan []byte { return o.frames }
func (o *stubObserver) Err() <-chan error     { return o.errs }
func (o *stubObserver) Close()                { o.once.Do(func() { close(o.done) }) }

type stubTransport struct {
	mu        sync.Mutex
	observers map[string]*stubObserver
}

func (s *stubTransport) factory(ctx context.Context, jobID string) (monitor.Observer, error) {
	o := &stubObserver{
		frames: make(chan []byte, 10),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.observers[jobID] = o
	s.mu.Unlock()
	return o, nil
}

func (s *stubTransport) observer(jobID string) *stubObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers[jobID]
}

func newTestServer(t *testing.T) (*httptest.Server, *stubTransport, *monitor.Registry) {
	t.Helper()
	tr := &stubTransport{observers: make(map[string]*stubObserver)}
	registry, err := monitor.NewRegistry(monitor.Options{
		Identity:     "ops@example.com",
		EndpointBase: "http://backend.local",
		NewObserver:  tr.factory,
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	t.Cleanup(registry.StopAll)

	logger := zerolog.Nop()
	app := NewApp(registry, nil, logger)
	srv := httptest.NewServer(NewRouter(app, logger, nil))
	t.Cleanup(srv.Close)
	return srv, tr, registry
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/healthz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestWatchThenList(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/watch")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("watch status = %d, want 202", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/jobs")
	defer resp.Body.Close()
	var list struct {
		Jobs         []monitor.Job `json:"jobs"`
		Processing   int           `json:"processing"`
		IsProcessing bool          `json:"is_processing"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != "job-1" {
		t.Fatalf("jobs = %+v, want one job-1", list.Jobs)
	}
	if list.Jobs[0].State != monitor.StateProcessing {
		t.Fatalf("job state = %q, want processing", list.Jobs[0].State)
	}
	if list.Processing != 1 || !list.IsProcessing {
		t.Fatalf("processing = %d, is_processing = %v", list.Processing, list.IsProcessing)
	}
}

func TestWatchIsIdempotentOverHTTP(t *testing.T) {
	srv, _, registry := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/watch")
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("watch %d status = %d, want 202", i, resp.StatusCode)
		}
	}
	if got := len(registry.ActiveJobs()); got != 1 {
		t.Fatalf("active jobs = %d, want 1", got)
	}
}

func TestGetJobReflectsTerminalState(t *testing.T) {
	srv, tr, _ := newTestServer(t)

	doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/watch").Body.Close()

	var obs *stubObserver
	deadline := time.Now().Add(2 * time.Second)
	for obs == nil && time.Now().Before(deadline) {
		obs = tr.observer("job-1")
		time.Sleep(5 * time.Millisecond)
	}
	if obs == nil {
		t.Fatalf("observer never opened")
	}
	obs.frames <- []byte(`{"job_id":"job-1","status":"completed","data":{"image_path":"images/a.png"}}`)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/jobs/job-1")
		var job monitor.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		resp.Body.Close()
		if job.State == monitor.StateCompleted {
			if job.ResultURL != "images/a.png" {
				t.Fatalf("result url = %q, want images/a.png", job.ResultURL)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached completed over the API")
}

func TestGetUnknownJobIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/jobs/ghost")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStopJobRemovesRecord(t *testing.T) {
	srv, _, registry := newTestServer(t)

	doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/watch").Body.Close()

	resp := doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", resp.StatusCode)
	}
	if _, ok := registry.Job("job-1"); ok {
		t.Fatalf("job record should be gone after stop")
	}
}

func TestClearJobRemovesFromView(t *testing.T) {
	srv, _, registry := newTestServer(t)

	doRequest(t, http.MethodPost, srv.URL+"/jobs/job-1/watch").Body.Close()

	resp := doRequest(t, http.MethodDelete, srv.URL+"/jobs/job-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", resp.StatusCode)
	}
	if _, ok := registry.Job("job-1"); ok {
		t.Fatalf("job record should be gone after clear")
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/history")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
