package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/registry"
)

func TestRenderJob(t *testing.T) {
	tests := []struct {
		name string
		job  domain.Job
		want string
	}{
		{
			name: "queued",
			job:  domain.NewJob("j1"),
			want: "[j1] queued",
		},
		{
			name: "download progress",
			job: domain.Job{ID: "j1", Status: domain.StatusProcessing, Steps: []domain.Step{
				{Name: "download", Status: "running", Progress: domain.IntPtr(50)},
			}},
			want: "[j1] processing  download:running [##########----------] 50%",
		},
		{
			name: "detail entries skipped",
			job: domain.Job{ID: "j1", Status: domain.StatusProcessing, Steps: []domain.Step{
				{Name: "transcript", Status: "started"},
				{Extra: map[string]any{"lang": "en"}},
			}},
			want: "[j1] processing  transcript:started",
		},
		{
			name: "error",
			job:  domain.Job{ID: "j1", Status: domain.StatusError, Error: "download failed"},
			want: "[j1] error  error: download failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderJob(tt.job); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestProgressBar_Clamps(t *testing.T) {
	if got := progressBar(150); !strings.HasSuffix(got, "100%") || strings.Contains(got, "-") {
		t.Errorf("expected full bar, got %s", got)
	}
	if got := progressBar(-5); !strings.HasSuffix(got, " 0%") || strings.Contains(got, "#") {
		t.Errorf("expected empty bar, got %s", got)
	}
}

func TestJobsView_PrintsEveryChange(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	detach := newJobsView(&buf).Attach(reg)
	defer detach()

	reg.Create("j1")
	reg.Update("j1", domain.Job{Status: domain.StatusProcessing})
	reg.Update("j1", domain.Job{Status: domain.StatusReady})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[2] != "[j1] ready" {
		t.Errorf("expected [j1] ready, got %q", lines[2])
	}
}

func TestRenderHighlights(t *testing.T) {
	score := 0.9
	out := renderHighlights("j1", []domain.Highlight{{ID: "a", Start: 0, End: 12, Score: &score}})
	if !strings.Contains(out, "a  0.0s-12.0s  score 0.90") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(renderHighlights("j1", nil), "(none)") {
		t.Error("expected (none) for an empty batch")
	}
}
