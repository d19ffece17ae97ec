// Package httpapi exposes the registry's job view to UI consumers over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"genwatch/internal/history"
	"genwatch/internal/infra"
	"genwatch/internal/monitor"
)

// App bundles the handler dependencies.
type App struct {
	registry *monitor.Registry
	history  *history.RecorderPG // nil when no database is configured
	logger   infra.Logger
}

// NewApp creates the handler container.
func NewApp(registry *monitor.Registry, recorder *history.RecorderPG, logger infra.Logger) *App {
	return &App{registry: registry, history: recorder, logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobListResponse struct {
	Jobs         []monitor.Job `json:"jobs"`
	Processing   int           `json:"processing"`
	IsProcessing bool          `json:"is_processing"`
}

// ListJobs returns a snapshot of every tracked job.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	snapshot := a.registry.ActiveJobs()
	jobs := make([]monitor.Job, 0, len(snapshot))
	for _, job := range snapshot {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	a.json(w, http.StatusOK, jobListResponse{
		Jobs:         jobs,
		Processing:   len(a.registry.ProcessingJobs()),
		IsProcessing: a.registry.IsProcessing(),
	})
}

// GetJob returns one job's record, falling back to persisted history for jobs
// that already left the live view.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if job, ok := a.registry.Job(jobID); ok {
		a.json(w, http.StatusOK, job)
		return
	}

	if a.history != nil {
		rec, err := a.history.Get(r.Context(), jobID)
		if err != nil {
			a.logger.Error().Err(err).Str("job_id", jobID).Msg("history lookup failed")
			a.jsonError(w, http.StatusInternalServerError, "history lookup failed")
			return
		}
		if rec != nil {
			a.json(w, http.StatusOK, rec)
			return
		}
	}

	a.jsonError(w, http.StatusNotFound, "unknown job")
}

// WatchJob starts monitoring a job. Duplicate watches are no-ops, so the
// endpoint is safe to retry.
func (a *App) WatchJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	a.registry.StartMonitoring(jobID)

	job, ok := a.registry.Job(jobID)
	if !ok {
		a.jsonError(w, http.StatusBadRequest, "monitoring did not start")
		return
	}
	a.json(w, http.StatusAccepted, job)
}

// StopJob closes the job's connection and drops its record.
func (a *App) StopJob(w http.ResponseWriter, r *http.Request) {
	a.registry.StopMonitoring(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ClearJob dismisses a job from the visible list without touching a live
// connection.
func (a *App) ClearJob(w http.ResponseWriter, r *http.Request) {
	a.registry.ClearJob(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// History lists recently finished jobs from the persistent store.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.jsonError(w, http.StatusNotFound, "job history is not configured")
		return
	}
	records, err := a.history.Recent(r.Context(), 50)
	if err != nil {
		a.logger.Error().Err(err).Msg("history listing failed")
		a.jsonError(w, http.StatusInternalServerError, "history listing failed")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": records})
}
