package domain

import (
	"encoding/json"
	"fmt"
)

// JobStatus is the lifecycle state reported by the backend for a job
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusReady      JobStatus = "ready"
	StatusError      JobStatus = "error"
)

// Job is the latest known state of one submitted video-processing task
type Job struct {
	ID     string    `json:"job_id,omitempty"`
	Status JobStatus `json:"status"`
	Steps  []Step    `json:"steps"`
	Error  string    `json:"error,omitempty"`
}

// NewJob returns the seed record for a freshly created job
func NewJob(id string) Job {
	return Job{
		ID:     id,
		Status: StatusQueued,
		Steps:  []Step{},
	}
}

// IsTerminal returns true if the job is in a terminal state
func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsTerminal returns true for ready and error
func (s JobStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusError
}

// Valid reports whether s is one of the known job states
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusReady, StatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows moving from s to next.
// Repeated observations of the same non-terminal state are allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next.Valid()
	case StatusProcessing:
		return next == StatusProcessing || next.IsTerminal()
	default:
		return false
	}
}

// Clone returns a deep copy so callers can't mutate registry-owned slices
func (j Job) Clone() Job {
	out := j
	out.Steps = make([]Step, len(j.Steps))
	for i, s := range j.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

// Step is one named phase of backend processing.
// The backend names the phase under "step"; some entries carry only
// detail fields (language, confidence), which are kept in Extra.
type Step struct {
	Name     string
	Status   string
	Progress *int
	Extra    map[string]any
}

// HasProgress reports whether the step carries a granular percentage
func (s Step) HasProgress() bool {
	return s.Progress != nil
}

func (s Step) clone() Step {
	out := s
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// UnmarshalJSON accepts both "step" and "name" as the phase key.
// When both are present "step" names the phase and "name" stays in Extra.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse step: %w", err)
	}

	nameKey := "name"
	if _, ok := raw["step"]; ok {
		nameKey = "step"
	}

	*s = Step{}
	for k, v := range raw {
		switch k {
		case nameKey:
			if name, ok := v.(string); ok {
				s.Name = name
			}
		case "status":
			if status, ok := v.(string); ok {
				s.Status = status
			}
		case "progress":
			if f, ok := v.(float64); ok {
				p := int(f)
				s.Progress = &p
			}
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes the step in the backend's wire shape
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.Name != "" {
		out["step"] = s.Name
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	if s.Progress != nil {
		out["progress"] = *s.Progress
	}
	return json.Marshal(out)
}

// IntPtr is a helper for optional integer fields
func IntPtr(v int) *int {
	return &v
}
