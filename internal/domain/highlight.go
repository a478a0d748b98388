package domain

import (
	"errors"
	"fmt"
)

const (
	// DefaultResolution is the fixed output height for render requests
	DefaultResolution = 720
	// DefaultFormat is the fixed output container for render requests
	DefaultFormat = "mp4"
)

var ErrInvalidSegment = errors.New("invalid highlight segment")

// Highlight is one candidate clip within a ready job's source video
type Highlight struct {
	ID    string   `json:"id"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Score *float64 `json:"score,omitempty"`
}

// Duration returns the segment length in seconds
func (h Highlight) Duration() float64 {
	return h.End - h.Start
}

// Validate enforces 0 <= start < end and a non-empty id
func (h Highlight) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSegment)
	}
	if h.Start < 0 || h.Start >= h.End {
		return fmt.Errorf("%w: %s has bounds %.2f-%.2f", ErrInvalidSegment, h.ID, h.Start, h.End)
	}
	return nil
}

// RenderRequest asks the backend to render the selected segments.
// Segments is never nil so an empty selection serializes as [].
type RenderRequest struct {
	Segments   []Highlight `json:"segments"`
	Resolution int         `json:"resolution"`
	Format     string      `json:"format"`
}

// RenderAck is the backend acknowledgement of a render request
type RenderAck struct {
	Result string `json:"result"`
}

// RenderOutputs lists the files produced for a job
type RenderOutputs struct {
	Outputs []string `json:"outputs"`
}

// Meta is generated descriptive text for one segment
type Meta struct {
	Titles   []string `json:"titles"`
	Hooks    []string `json:"hooks"`
	Hashtags []string `json:"hashtags"`
}

// MetaResult carries the outcome of a single meta generation request
type MetaResult struct {
	JobID     string
	SegmentID string
	Meta      Meta
	Err       error
}
