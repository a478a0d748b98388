// Package aggregator merges configuration fragments from independent inputs
// into the single Configuration snapshot used for job submissions.
package aggregator

import (
	"context"
	"sync"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/logger"
)

// Listener is called with the previous and current snapshot after each change
type Listener func(prev, cur domain.Configuration)

// Aggregator holds the latest fragment per kind and the derived snapshot
type Aggregator struct {
	mu        sync.RWMutex
	base      domain.Configuration
	fragments map[Kind]Fragment
	snapshot  domain.Configuration

	listenersMu sync.RWMutex
	listeners   []Listener

	// held from the snapshot swap until every listener returned, so
	// listeners see changes in the order the snapshots were taken
	notifyMu sync.Mutex

	log *logger.Logger
}

// New creates an aggregator whose snapshot starts at base
func New(base domain.Configuration) *Aggregator {
	return &Aggregator{
		base:      base,
		fragments: make(map[Kind]Fragment),
		snapshot:  base,
		log:       logger.Default().WithComponent("aggregator"),
	}
}

// OnChange registers a listener for snapshot changes. Listeners run one
// change at a time and must not call Apply or ApplyPreset.
func (a *Aggregator) OnChange(l Listener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Snapshot returns a copy of the current configuration
func (a *Aggregator) Snapshot() domain.Configuration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Apply records one fragment and re-derives the snapshot
func (a *Aggregator) Apply(f Fragment) error {
	return a.applyAll([]Fragment{f})
}

// ApplyPreset replaces every fragment with the preset's values in one derivation.
// The stored secret token is not part of a preset and is kept.
func (a *Aggregator) ApplyPreset(p domain.Preset) error {
	frags := FragmentsOf(p.Config)
	out := frags[:0]
	for _, f := range frags {
		if f.Kind() != KindToken {
			out = append(out, f)
		}
	}
	if err := a.applyAll(out); err != nil {
		return err
	}
	a.log.Info(context.Background(), "preset applied", map[string]interface{}{"preset": p.Name})
	return nil
}

func (a *Aggregator) applyAll(frags []Fragment) error {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()

	next := make(map[Kind]Fragment, len(a.fragments)+len(frags))
	for k, f := range a.fragments {
		next[k] = f
	}
	for _, f := range frags {
		next[f.Kind()] = f
	}

	derived := derive(a.base, next)
	if err := derived.Validate(); err != nil {
		a.mu.Unlock()
		return apperrors.ValidationError(err.Error()).WithCause(err)
	}
	lang, err := domain.NormalizeLang(derived.Lang)
	if err != nil {
		a.mu.Unlock()
		return apperrors.ValidationError(err.Error()).WithCause(err)
	}
	derived.Lang = lang

	prev := a.snapshot
	a.fragments = next
	a.snapshot = derived
	a.mu.Unlock()

	a.notify(prev, derived)
	return nil
}

func derive(base domain.Configuration, fragments map[Kind]Fragment) domain.Configuration {
	cfg := base
	for _, k := range kinds {
		if f, ok := fragments[k]; ok {
			f.apply(&cfg)
		}
	}
	return cfg
}

func (a *Aggregator) notify(prev, cur domain.Configuration) {
	a.listenersMu.RLock()
	listeners := make([]Listener, len(a.listeners))
	copy(listeners, a.listeners)
	a.listenersMu.RUnlock()

	for _, l := range listeners {
		l(prev, cur)
	}
}
