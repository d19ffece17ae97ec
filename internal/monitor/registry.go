// Package monitor supervises the long-lived status connections of in-flight
// generation jobs. A Registry owns at most one transport per job id, drives
// each job through its lifecycle state machine, and guarantees exactly one
// terminal notification per job with the connection closed on every exit path.
package monitor

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"genwatch/internal/backend"
	"genwatch/internal/infra"

	"github.com/rs/zerolog"
)

const defaultStreamTimeout = 600 * time.Second

// Terminal failure messages reported through OnError.
const (
	msgConnectionLost = "connection lost"
	msgTimedOut       = "timed out"
	msgGenericFailure = "generation failed"
)

// Callbacks are the caller-supplied lifecycle hooks. The registry always
// dispatches to the most recently supplied set (see SetCallbacks), so callers
// may replace them at any time without restarting streams.
type Callbacks struct {
	// OnComplete fires once when a job completes; resultURL is empty when the
	// payload carried no recognizable artifact reference.
	OnComplete func(jobID, resultURL string)
	// OnError fires once for every terminal failure: backend-reported errors,
	// transport loss, and watch timeouts.
	OnError func(jobID, message string)
	// OnMessage observes every raw inbound frame before parsing, including
	// frames that later fail to parse.
	OnMessage func(jobID string, raw []byte)
}

// Options configures a Registry.
type Options struct {
	// Identity is the caller identity sent with every stream request.
	Identity string
	// EndpointBase is the generation service base URL.
	EndpointBase string
	// StreamTimeout bounds how long a job may stay non-terminal. It is
	// measured from connection open, not from the last message. Defaults to
	// 600 seconds.
	StreamTimeout time.Duration
	// PollInterval applies when UsePolling is set.
	PollInterval time.Duration
	// UsePolling selects the fixed-interval snapshot transport instead of SSE.
	UsePolling bool

	HTTPClient *http.Client
	Logger     *infra.Logger

	// NewObserver overrides the transport; when nil one is built from
	// Identity/EndpointBase.
	NewObserver ObserverFactory
}

// Registry tracks every monitored job and exclusively owns the map of job id
// to transport.
type Registry struct {
	identity    string
	timeout     time.Duration
	newObserver ObserverFactory
	logger      zerolog.Logger

	mu       sync.Mutex
	cb       Callbacks
	watchers map[string]*watcher
	jobs     map[string]Job
}

// watcher is the per-job controller handle. The goroutine behind it is the
// only writer of the job's record until the job terminates.
type watcher struct {
	jobID    string
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *watcher) shutdown() {
	w.stopOnce.Do(func() {
		w.cancel()
		close(w.stop)
	})
}

// NewRegistry constructs a registry. Identity and endpoint base are explicit
// configuration, not ambient state.
func NewRegistry(opts Options) (*Registry, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	timeout := opts.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}

	factory := opts.NewObserver
	if factory == nil {
		client, err := backend.NewClient(backend.Options{
			BaseURL:    opts.EndpointBase,
			Identity:   opts.Identity,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if opts.UsePolling {
			factory = NewPollObserverFactory(client, opts.PollInterval)
		} else {
			factory = NewPushObserverFactory(client)
		}
	}

	return &Registry{
		identity:    opts.Identity,
		timeout:     timeout,
		newObserver: factory,
		logger:      logger,
		watchers:    make(map[string]*watcher),
		jobs:        make(map[string]Job),
	}, nil
}

// SetCallbacks replaces the lifecycle hooks. In-flight watchers pick up the
// new set on their next dispatch.
func (r *Registry) SetCallbacks(cb Callbacks) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

func (r *Registry) callbacks() Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cb
}

// StartMonitoring opens a status connection for jobID and tracks the job with
// initial state processing. It returns immediately; starting a job that is
// already monitored is a no-op, as is starting with a missing job id or
// identity.
func (r *Registry) StartMonitoring(jobID string) {
	if jobID == "" || r.identity == "" {
		r.logger.Warn().Str("job_id", jobID).Msg("monitoring not started: job id and identity are required")
		return
	}

	r.mu.Lock()
	if _, ok := r.watchers[jobID]; ok {
		r.mu.Unlock()
		r.logger.Info().Str("job_id", jobID).Msg("job already monitored, ignoring duplicate start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{jobID: jobID, cancel: cancel, stop: make(chan struct{})}
	r.watchers[jobID] = w
	r.jobs[jobID] = Job{ID: jobID, State: StateProcessing, UpdatedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Debug().Str("job_id", jobID).Msg("monitoring started")
	go r.run(ctx, w)
}

// StopMonitoring closes the job's connection and removes its record. Safe to
// call for unknown jobs and after the job already terminated. No callbacks
// fire for an explicit stop.
func (r *Registry) StopMonitoring(jobID string) {
	r.mu.Lock()
	w, ok := r.watchers[jobID]
	delete(r.watchers, jobID)
	delete(r.jobs, jobID)
	r.mu.Unlock()

	if ok {
		w.shutdown()
		r.logger.Debug().Str("job_id", jobID).Msg("monitoring stopped")
	}
}

// StopAll closes every live connection and clears all job records. Intended
// for teardown; idempotent and safe mid-flight.
func (r *Registry) StopAll() {
	r.mu.Lock()
	stopped := make([]*watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		stopped = append(stopped, w)
	}
	r.watchers = make(map[string]*watcher)
	r.jobs = make(map[string]Job)
	r.mu.Unlock()

	for _, w := range stopped {
		w.shutdown()
	}
	if len(stopped) > 0 {
		r.logger.Info().Int("jobs", len(stopped)).Msg("stopped all job monitors")
	}
}

// ClearJob removes a job record from the visible state without closing an
// active connection. Clearing a job that is still live is flagged but allowed.
func (r *Registry) ClearJob(jobID string) {
	r.mu.Lock()
	_, live := r.watchers[jobID]
	delete(r.jobs, jobID)
	r.mu.Unlock()

	if live {
		r.logger.Warn().Str("job_id", jobID).Msg("cleared job that still has a live connection")
	}
}

// ActiveJobs returns a snapshot of every tracked job record.
func (r *Registry) ActiveJobs() map[string]Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Job, len(r.jobs))
	for id, job := range r.jobs {
		out[id] = job
	}
	return out
}

// Job returns the record for one job id.
func (r *Registry) Job(jobID string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	return job, ok
}

// ProcessingJobs lists the jobs still in flight, ordered by id.
func (r *Registry) ProcessingJobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, job := range r.jobs {
		if job.State == StateProcessing {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsProcessing reports whether any tracked job is still in flight.
func (r *Registry) IsProcessing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.State == StateProcessing {
			return true
		}
	}
	return false
}
