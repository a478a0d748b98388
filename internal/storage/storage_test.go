package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
)

func TestParseObjectURL(t *testing.T) {
	tests := []struct {
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://videos/talks/keynote.mp4", "videos", "talks/keynote.mp4", false},
		{"s3://videos/a.mp4", "videos", "a.mp4", false},
		{"s3://videos/", "", "", true},
		{"s3:///a.mp4", "", "", true},
		{"https://videos/a.mp4", "", "", true},
	}

	for _, tt := range tests {
		bucket, key, err := ParseObjectURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseObjectURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseObjectURL(%q) = %s, %s", tt.raw, bucket, key)
		}
	}

	if !IsObjectURL("s3://b/k") || IsObjectURL("/tmp/video.mp4") {
		t.Error("IsObjectURL misclassified input")
	}
}

func TestWithScheme(t *testing.T) {
	if got := withScheme("localhost:9000", "http://"); got != "http://localhost:9000" {
		t.Errorf("expected scheme added, got %s", got)
	}
	if got := withScheme("https://s3.example.com", "http://"); got != "https://s3.example.com" {
		t.Errorf("expected existing scheme kept, got %s", got)
	}
}

// fakeS3 is a minimal path-style object server
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Write(data)
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) get(path string) ([]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path], len(f.objects)
}

func newTestArchiver(t *testing.T) (*S3Archiver, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	a := NewS3Archiver(&Config{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
	}, "archive")
	a.retry = &apperrors.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a, fake
}

func TestS3Archiver_ArchiveAndLoad(t *testing.T) {
	a, fake := newTestArchiver(t)
	ctx := context.Background()

	job := domain.Job{ID: "j1", Status: domain.StatusReady, Steps: []domain.Step{{Name: "render", Status: "done"}}}
	if err := a.Archive(ctx, job); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	data, _ := fake.get("/archive/jobs/j1.json")
	stored := string(data)
	if !strings.Contains(stored, `"status":"ready"`) || !strings.Contains(stored, "2026-01-02T03:04:05Z") {
		t.Errorf("unexpected stored document: %s", stored)
	}

	archived, err := a.Load(ctx, "j1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if archived.Job.Status != domain.StatusReady || archived.Job.Steps[0].Name != "render" {
		t.Errorf("unexpected archived job: %+v", archived.Job)
	}
}

func TestS3Archiver_LoadMissing(t *testing.T) {
	a, _ := newTestArchiver(t)

	_, err := a.Load(context.Background(), "nope")
	if appErr, ok := apperrors.As(err); !ok || appErr.Code != apperrors.CodeJobNotFound {
		t.Errorf("expected job not found, got %v", err)
	}
}

func TestS3Archiver_RefusesNonTerminal(t *testing.T) {
	a, fake := newTestArchiver(t)

	err := a.Archive(context.Background(), domain.Job{ID: "j1", Status: domain.StatusProcessing})
	if !apperrors.IsClientError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, n := fake.get(""); n != 0 {
		t.Error("nothing should be written for a running job")
	}
}

func TestS3Archiver_Ping(t *testing.T) {
	a, _ := newTestArchiver(t)
	if err := a.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
