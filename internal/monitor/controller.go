package monitor

import (
	"context"
	"time"

	"genwatch/internal/statusmsg"
)

// run drives one job's connection from open to teardown. It is the only
// goroutine consuming the job's observer, so frames are processed strictly in
// arrival order and the first terminal event always wins.
func (r *Registry) run(ctx context.Context, w *watcher) {
	// The timeout clock starts at open and is never reset by inbound
	// messages, including "listening" frames.
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	obs, err := r.newObserver(ctx, w.jobID)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", w.jobID).Msg("status connection failed to open")
		r.finish(w, StateError, "", msgConnectionLost)
		return
	}
	defer obs.Close()

	for {
		select {
		case raw, ok := <-obs.Frames():
			if !ok {
				// Stream ended without a terminal status.
				r.finish(w, StateError, "", msgConnectionLost)
				return
			}
			if r.handleFrame(w, raw) {
				return
			}

		case err := <-obs.Err():
			if err != nil {
				r.logger.Warn().Err(err).Str("job_id", w.jobID).Msg("status connection lost")
			}
			r.finish(w, StateError, "", msgConnectionLost)
			return

		case <-timer.C:
			r.finish(w, StateError, "", msgTimedOut)
			return

		case <-w.stop:
			return
		}
	}
}

// handleFrame processes one inbound payload and reports whether the job
// reached a terminal state.
func (r *Registry) handleFrame(w *watcher, raw []byte) bool {
	if cb := r.callbacks(); cb.OnMessage != nil {
		cb.OnMessage(w.jobID, raw)
	}

	msg, err := statusmsg.Parse(raw)
	if err != nil {
		// A single malformed frame is tolerated; the raw observer above has
		// already seen the bytes.
		r.logger.Warn().Err(err).Str("job_id", w.jobID).Msg("unparseable status frame")
		return false
	}

	switch msg.Status {
	case statusmsg.StatusCompleted:
		url, _ := statusmsg.ResultURL(msg, raw)
		return r.finish(w, StateCompleted, url, "")

	case statusmsg.StatusError, statusmsg.StatusFailed, statusmsg.StatusTimeout:
		message := msg.Message
		if message == "" {
			message = msgGenericFailure
		}
		return r.finish(w, StateError, "", message)

	case statusmsg.StatusProcessing:
		r.touch(w.jobID, StateProcessing)
		return false

	default:
		// "listening" and unrecognized statuses only refresh the last-seen
		// timestamp.
		r.touch(w.jobID, "")
		return false
	}
}

// touch refreshes a live job's record. State is updated only when non-empty.
func (r *Registry) touch(jobID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	if state != "" {
		job.State = state
	}
	job.UpdatedAt = time.Now()
	r.jobs[jobID] = job
}

// finish records the terminal outcome for w's job and fires the matching
// callback. Registration in the watcher map is the exactly-once guard: the
// first terminal path deregisters the watcher, so later paths (timeout racing
// a terminal message, stop racing a failure) become no-ops.
func (r *Registry) finish(w *watcher, state State, resultURL, message string) bool {
	r.mu.Lock()
	cur, ok := r.watchers[w.jobID]
	if !ok || cur != w {
		r.mu.Unlock()
		return false
	}
	delete(r.watchers, w.jobID)

	if job, present := r.jobs[w.jobID]; present {
		job.State = state
		job.ResultURL = resultURL
		job.Message = message
		job.UpdatedAt = time.Now()
		r.jobs[w.jobID] = job
	}
	cb := r.cb
	r.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the registry.
	switch state {
	case StateCompleted:
		r.logger.Info().Str("job_id", w.jobID).Str("result_url", resultURL).Msg("job completed")
		if cb.OnComplete != nil {
			cb.OnComplete(w.jobID, resultURL)
		}
	default:
		r.logger.Info().Str("job_id", w.jobID).Str("reason", message).Msg("job failed")
		if cb.OnError != nil {
			cb.OnError(w.jobID, message)
		}
	}
	return true
}
