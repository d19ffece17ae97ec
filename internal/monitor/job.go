package monitor

import "time"

// State is the client-facing lifecycle state of a tracked job. It is a
// simplification of the richer wire status: every terminal failure class
// ("error", "failed", wire "timeout", transport loss, watch timeout) lands on
// StateError.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateFailed     State = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateFailed
}

// Job is the tracked record for one generation request.
type Job struct {
	ID        string    `json:"job_id"`
	State     State     `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
