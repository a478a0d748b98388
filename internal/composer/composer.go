// Package composer tracks which highlights of the displayed job are selected
// and turns that selection into render and meta requests.
package composer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/logger"
)

var ErrNoHighlights = errors.New("no highlights loaded")

// Backend is the subset of the processing API the composer needs
type Backend interface {
	Highlights(ctx context.Context, jobID string) ([]domain.Highlight, error)
	Meta(ctx context.Context, jobID, segmentID string) (domain.Meta, error)
	Render(ctx context.Context, jobID string, req domain.RenderRequest) (domain.RenderAck, error)
	Result(ctx context.Context, jobID string) (domain.RenderOutputs, error)
}

// DisplayFunc is notified whenever a new highlight batch is displayed
type DisplayFunc func(jobID string, highlights []domain.Highlight)

// Composer holds the displayed job's highlights and the selection over them
type Composer struct {
	backend Backend
	log     *logger.Logger

	mu         sync.RWMutex
	jobID      string
	highlights []domain.Highlight
	selected   map[string]bool
	loaded     bool
	generation uint64
	onDisplay  []DisplayFunc

	wg sync.WaitGroup
}

func New(backend Backend) *Composer {
	return &Composer{
		backend:  backend,
		selected: make(map[string]bool),
		log:      logger.Default().WithComponent("composer"),
	}
}

// OnDisplay registers fn for newly displayed batches
func (c *Composer) OnDisplay(fn DisplayFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisplay = append(c.onDisplay, fn)
}

// Load fetches the highlights of jobID and displays them. Calling it again
// re-fetches and resets the selection. If another job is displayed while the
// fetch is in flight, the stale result is discarded.
func (c *Composer) Load(ctx context.Context, jobID string) ([]domain.Highlight, error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	hs, err := c.backend.Highlights(apperrors.WithJobID(ctx, jobID), jobID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.log.Debug(apperrors.WithJobID(ctx, jobID), "discarding stale highlights")
		return cloneHighlights(hs), nil
	}
	c.mu.Unlock()

	if err := c.Show(jobID, hs); err != nil {
		return nil, err
	}
	return cloneHighlights(hs), nil
}

// Show displays a highlight batch for jobID with every segment selected.
// A batch containing an invalid or duplicate segment is refused.
func (c *Composer) Show(jobID string, highlights []domain.Highlight) error {
	seen := make(map[string]bool, len(highlights))
	for _, h := range highlights {
		if err := h.Validate(); err != nil {
			return apperrors.ValidationError(err.Error()).WithCause(err)
		}
		if seen[h.ID] {
			return apperrors.ValidationError(fmt.Sprintf("duplicate segment %s", h.ID))
		}
		seen[h.ID] = true
	}

	c.mu.Lock()
	c.generation++
	c.jobID = jobID
	c.highlights = cloneHighlights(highlights)
	c.selected = make(map[string]bool, len(highlights))
	for _, h := range highlights {
		c.selected[h.ID] = true
	}
	c.loaded = true
	listeners := append([]DisplayFunc(nil), c.onDisplay...)
	shown := cloneHighlights(highlights)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(jobID, shown)
	}
	return nil
}

// Displayed returns the displayed job id and its highlights
func (c *Composer) Displayed() (string, []domain.Highlight) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobID, cloneHighlights(c.highlights)
}

// Toggle flips the inclusion of one segment
func (c *Composer) Toggle(segmentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.selected[segmentID]; !ok {
		return apperrors.SegmentNotFound(segmentID)
	}
	c.selected[segmentID] = !c.selected[segmentID]
	return nil
}

// Selected reports whether a segment is included in the next render
func (c *Composer) Selected(segmentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected[segmentID]
}

// BuildRenderRequest returns the selected segments in their original order
func (c *Composer) BuildRenderRequest() (domain.RenderRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildLocked()
}

func (c *Composer) buildLocked() (domain.RenderRequest, error) {
	if !c.loaded || len(c.highlights) == 0 {
		return domain.RenderRequest{}, apperrors.NoHighlights(c.jobID).WithCause(ErrNoHighlights)
	}

	segments := make([]domain.Highlight, 0, len(c.highlights))
	for _, h := range c.highlights {
		if c.selected[h.ID] {
			segments = append(segments, h)
		}
	}
	return domain.RenderRequest{
		Segments:   segments,
		Resolution: domain.DefaultResolution,
		Format:     domain.DefaultFormat,
	}, nil
}

// Render posts the current selection for the displayed job
func (c *Composer) Render(ctx context.Context) (domain.RenderAck, error) {
	c.mu.RLock()
	jobID := c.jobID
	req, err := c.buildLocked()
	c.mu.RUnlock()
	if err != nil {
		return domain.RenderAck{}, err
	}

	ctx = apperrors.WithJobID(ctx, jobID)
	c.log.Info(ctx, "render requested", map[string]interface{}{"segments": len(req.Segments)})
	return c.backend.Render(ctx, jobID, req)
}

// Outputs lists the rendered files of the displayed job
func (c *Composer) Outputs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	jobID, loaded := c.jobID, c.loaded
	c.mu.RUnlock()
	if !loaded {
		return nil, apperrors.NoHighlights("").WithCause(ErrNoHighlights)
	}

	out, err := c.backend.Result(apperrors.WithJobID(ctx, jobID), jobID)
	if err != nil {
		return nil, err
	}
	return out.Outputs, nil
}

// RequestMeta generates titles, hooks and hashtags for one segment in the
// background. The selection is not affected. The channel receives exactly
// one result and is then closed.
func (c *Composer) RequestMeta(ctx context.Context, segmentID string) <-chan domain.MetaResult {
	out := make(chan domain.MetaResult, 1)

	c.mu.RLock()
	jobID := c.jobID
	_, known := c.selected[segmentID]
	c.mu.RUnlock()

	if !known {
		out <- domain.MetaResult{JobID: jobID, SegmentID: segmentID, Err: apperrors.SegmentNotFound(segmentID)}
		close(out)
		return out
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)

		ctx := apperrors.WithJobID(ctx, jobID)
		meta, err := c.backend.Meta(ctx, jobID, segmentID)
		if err != nil {
			c.log.Warn(ctx, "meta generation failed", err, map[string]interface{}{"segment": segmentID})
		}
		out <- domain.MetaResult{JobID: jobID, SegmentID: segmentID, Meta: meta, Err: err}
	}()
	return out
}

// Wait blocks until in-flight meta requests have finished
func (c *Composer) Wait() {
	c.wg.Wait()
}

func cloneHighlights(hs []domain.Highlight) []domain.Highlight {
	out := make([]domain.Highlight, len(hs))
	for i, h := range hs {
		out[i] = h
		if h.Score != nil {
			s := *h.Score
			out[i].Score = &s
		}
	}
	return out
}
