package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/registry"
)

const barWidth = 20

// jobsView prints one line per registry change, the console form of the
// jobs list
type jobsView struct {
	mu  sync.Mutex
	out io.Writer
}

func newJobsView(out io.Writer) *jobsView {
	return &jobsView{out: out}
}

// Attach subscribes the view to reg
func (v *jobsView) Attach(reg *registry.Registry) (detach func()) {
	return reg.Subscribe(v.onChange)
}

func (v *jobsView) onChange(c registry.Change) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, renderJob(c.Job))
}

func renderJob(job domain.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", job.ID, job.Status)

	for _, s := range job.Steps {
		if s.Name == "" {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(s.Name)
		if s.Status != "" {
			sb.WriteString(":")
			sb.WriteString(s.Status)
		}
		if s.Name == "download" && s.HasProgress() {
			sb.WriteString(" ")
			sb.WriteString(progressBar(*s.Progress))
		}
	}

	if job.Status == domain.StatusError && job.Error != "" {
		sb.WriteString("  error: ")
		sb.WriteString(job.Error)
	}
	return sb.String()
}

func progressBar(pct int) string {
	pct = max(0, min(100, pct))
	filled := pct * barWidth / 100
	return fmt.Sprintf("[%s%s] %d%%", strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), pct)
}

func renderHighlights(jobID string, hs []domain.Highlight) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "highlights for %s:\n", jobID)
	if len(hs) == 0 {
		sb.WriteString("  (none)\n")
	}
	for i, h := range hs {
		fmt.Fprintf(&sb, "  %2d. %s  %.1fs-%.1fs", i+1, h.ID, h.Start, h.End)
		if h.Score != nil {
			fmt.Fprintf(&sb, "  score %.2f", *h.Score)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
