package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localclipper/clipper/internal/domain"
)

// Metrics holds poll-cycle and live-view counters
type Metrics struct {
	mu sync.RWMutex

	// Poll metrics
	polls         uint64
	pollFailures  map[string]*uint64 // error code -> count
	pollDuration  *Histogram
	activeTasks   int64
	jobsSubmitted map[string]*uint64 // source kind -> count
	jobsFinished  map[domain.JobStatus]*uint64

	// Live-view metrics
	requestCount        map[string]*uint64 // endpoint:method -> count
	activeWSConnections int64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a histogram with buckets from 10ms to 30s
func NewHistogram() *Histogram {
	buckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// Count returns the number of observations
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func New() *Metrics {
	return &Metrics{
		pollFailures:  make(map[string]*uint64),
		pollDuration:  NewHistogram(),
		jobsSubmitted: make(map[string]*uint64),
		jobsFinished:  make(map[domain.JobStatus]*uint64),
		requestCount:  make(map[string]*uint64),
		startTime:     time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the process-wide metrics instance
func Default() *Metrics {
	return defaultMetrics
}

func counter[K comparable](mu *sync.RWMutex, m map[K]*uint64, key K) *uint64 {
	mu.RLock()
	c := m[key]
	mu.RUnlock()
	if c != nil {
		return c
	}

	mu.Lock()
	defer mu.Unlock()
	if m[key] == nil {
		var zero uint64
		m[key] = &zero
	}
	return m[key]
}

// RecordPoll records one status observation and its outcome
func (m *Metrics) RecordPoll(duration time.Duration, failureCode string) {
	atomic.AddUint64(&m.polls, 1)
	m.pollDuration.Observe(duration.Seconds())
	if failureCode != "" {
		atomic.AddUint64(counter(&m.mu, m.pollFailures, failureCode), 1)
	}
}

// RecordSubmit counts a successful job creation by source kind
func (m *Metrics) RecordSubmit(kind string) {
	atomic.AddUint64(counter(&m.mu, m.jobsSubmitted, kind), 1)
}

// RecordFinished counts a job reaching a terminal state
func (m *Metrics) RecordFinished(status domain.JobStatus) {
	atomic.AddUint64(counter(&m.mu, m.jobsFinished, status), 1)
}

func (m *Metrics) IncActiveTasks() {
	atomic.AddInt64(&m.activeTasks, 1)
}

func (m *Metrics) DecActiveTasks() {
	atomic.AddInt64(&m.activeTasks, -1)
}

// ActiveTasks returns the number of running poll cycles
func (m *Metrics) ActiveTasks() int64 {
	return atomic.LoadInt64(&m.activeTasks)
}

// Polls returns the total number of status observations
func (m *Metrics) Polls() uint64 {
	return atomic.LoadUint64(&m.polls)
}

// PollFailures returns the failure count for one error code
func (m *Metrics) PollFailures(code string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.pollFailures[code]; c != nil {
		return atomic.LoadUint64(c)
	}
	return 0
}

func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// RecordRequest counts one live-view HTTP request
func (m *Metrics) RecordRequest(method, path string) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)
	atomic.AddUint64(counter(&m.mu, m.requestCount, key), 1)
}

// normalizeEndpoint replaces job ids in a path with a placeholder
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if i > 0 && parts[i-1] == "jobs" && part != "" {
			parts[i] = "{id}"
		} else if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// Handler returns an HTTP handler serving the Prometheus text format
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		sb.WriteString("# HELP clipper_uptime_seconds Time since the process started\n")
		sb.WriteString("# TYPE clipper_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "clipper_uptime_seconds %f\n\n", time.Since(m.startTime).Seconds())

		sb.WriteString("# HELP clipper_poll_tasks_active Running poll cycles\n")
		sb.WriteString("# TYPE clipper_poll_tasks_active gauge\n")
		fmt.Fprintf(&sb, "clipper_poll_tasks_active %d\n\n", m.ActiveTasks())

		sb.WriteString("# HELP clipper_websocket_connections_active Active live-view connections\n")
		sb.WriteString("# TYPE clipper_websocket_connections_active gauge\n")
		fmt.Fprintf(&sb, "clipper_websocket_connections_active %d\n\n", atomic.LoadInt64(&m.activeWSConnections))

		sb.WriteString("# HELP clipper_polls_total Job status observations\n")
		sb.WriteString("# TYPE clipper_polls_total counter\n")
		fmt.Fprintf(&sb, "clipper_polls_total %d\n\n", m.Polls())

		h := m.pollDuration
		h.mu.Lock()
		sb.WriteString("# HELP clipper_poll_duration_seconds Status request latency\n")
		sb.WriteString("# TYPE clipper_poll_duration_seconds histogram\n")
		for i, bucket := range h.buckets {
			fmt.Fprintf(&sb, "clipper_poll_duration_seconds_bucket{le=\"%g\"} %d\n", bucket, h.bucketVals[i])
		}
		fmt.Fprintf(&sb, "clipper_poll_duration_seconds_bucket{le=\"+Inf\"} %d\n", h.count)
		fmt.Fprintf(&sb, "clipper_poll_duration_seconds_sum %f\n", h.sum)
		fmt.Fprintf(&sb, "clipper_poll_duration_seconds_count %d\n\n", h.count)
		h.mu.Unlock()

		m.mu.RLock()
		writeCounters(&sb, "clipper_poll_failures_total", "Failed status observations by error code", "code", m.pollFailures)
		writeCounters(&sb, "clipper_jobs_submitted_total", "Jobs created by source kind", "source", m.jobsSubmitted)
		finished := make(map[string]*uint64, len(m.jobsFinished))
		for k, v := range m.jobsFinished {
			finished[string(k)] = v
		}
		writeCounters(&sb, "clipper_jobs_finished_total", "Jobs that reached a terminal state", "status", finished)

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP clipper_http_requests_total Live-view HTTP requests\n")
			sb.WriteString("# TYPE clipper_http_requests_total counter\n")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					fmt.Fprintf(&sb, "clipper_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
				}
			}
			sb.WriteString("\n")
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}

func writeCounters(sb *strings.Builder, name, help, label string, values map[string]*uint64) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s counter\n", name)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=\"%s\"} %d\n", name, label, k, atomic.LoadUint64(values[k]))
	}
	sb.WriteString("\n")
}

func sortedKeys(m map[string]*uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Middleware records request counts for the live-view server
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			m.RecordRequest(r.Method, r.URL.Path)
		})
	}
}
