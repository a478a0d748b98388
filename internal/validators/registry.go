package validators

import (
	"sync"

	apperrors "github.com/localclipper/clipper/internal/errors"
)

// Registry manages link validators
type Registry struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewRegistry creates an empty validator registry
func NewRegistry() *Registry {
	return &Registry{
		validators: make([]Validator, 0),
	}
}

// Register adds a validator to the registry
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, v)
}

// Validate finds the validator for the link and runs it
func (r *Registry) Validate(link string) Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.validators {
		if v.CanHandle(link) {
			return v.Validate(link)
		}
	}

	return Result{
		Valid:      false,
		SourceType: SourceUnknown,
		URL:        link,
		Error:      "unsupported link",
	}
}

// Check validates the link and returns an InvalidLink error when it is rejected
func (r *Registry) Check(link string) (Result, error) {
	result := r.Validate(link)
	if !result.Valid {
		return result, apperrors.InvalidLink(result.Error).WithDetails(map[string]any{
			"url":         link,
			"source_type": string(result.SourceType),
		})
	}
	return result, nil
}

// SupportedSources returns all source types registered in the registry
func (r *Registry) SupportedSources() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]SourceType, 0, len(r.validators))
	for _, v := range r.validators {
		sources = append(sources, v.SourceType())
	}
	return sources
}

// DefaultRegistry creates a registry with the platforms the backend can download
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewYouTubeValidator())
	return r
}
