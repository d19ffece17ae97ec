package statusmsg

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Status is the normalized wire status of a generation job.
type Status string

const (
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether no further transitions are permitted after s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// StatusMessage is the canonical form of one status event for a job.
type StatusMessage struct {
	JobID     string         `json:"job_id"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// rawMessage mirrors the wire shapes the backend has been observed emitting.
// Some deployments report the status under "state" and the job id under "id".
type rawMessage struct {
	JobID     string         `json:"job_id"`
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	State     string         `json:"state"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Parse decodes a raw payload into a canonical StatusMessage. A payload that is
// not valid JSON is a parse failure; the caller still holds the raw bytes for
// diagnostics.
func Parse(raw []byte) (*StatusMessage, error) {
	var rm rawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, fmt.Errorf("statusmsg: parse payload: %w", err)
	}

	status := rm.Status
	if status == "" {
		status = rm.State
	}
	jobID := rm.JobID
	if jobID == "" {
		jobID = rm.ID
	}

	return &StatusMessage{
		JobID:     jobID,
		Status:    Status(strings.ToLower(strings.TrimSpace(status))),
		Message:   rm.Message,
		Data:      rm.Data,
		Timestamp: rm.Timestamp,
	}, nil
}

// resultURLFields is the priority order for artifact references in the data
// payload. Different backend versions use different names for the same thing.
var resultURLFields = []string{
	"image_path",
	"imageUrl",
	"image_url",
	"resultUrl",
	"result_url",
	"url",
}

var imageURLPattern = regexp.MustCompile(`https?://[^\s"'\\]+\.(?:png|jpg|jpeg|webp|gif)`)

// ResultURL extracts the artifact reference from a completed message. It checks
// the known data fields in priority order, then falls back to scanning the raw
// payload for the first image URL. Returns ok=false when nothing matches.
func ResultURL(msg *StatusMessage, raw []byte) (string, bool) {
	if msg != nil {
		for _, field := range resultURLFields {
			if v, ok := msg.Data[field]; ok {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
	}
	if m := imageURLPattern.Find(raw); m != nil {
		return string(m), true
	}
	return "", false
}
