// Package validators rejects malformed source links before any network call.
package validators

// SourceType identifies the platform a link belongs to
type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceUnknown SourceType = "unknown"
)

// Result contains the outcome of link validation
type Result struct {
	Valid      bool       `json:"valid"`
	SourceType SourceType `json:"source_type"`
	VideoID    string     `json:"video_id,omitempty"`
	Kind       string     `json:"kind,omitempty"` // video, short, live, playlist, channel
	URL        string     `json:"url"`
	Canonical  string     `json:"canonical_url,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Validator checks links for one source platform
type Validator interface {
	SourceType() SourceType

	// CanHandle reports whether the link belongs to this platform at all
	CanHandle(link string) bool

	Validate(link string) Result
}
