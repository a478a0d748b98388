// Package backend is the HTTP client for the remote video-processing API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/logger"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"
	requestTimeout = 30 * time.Second
	userAgent      = "clipper/1.0"
	maxErrorBody   = 4 << 10
)

// Client provides access to the processing backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *apperrors.RetryConfig
	log        *logger.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for idempotent reads
func WithRetry(cfg *apperrors.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a backend client rooted at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		retry:      apperrors.BackendRetryConfig(),
		log:        logger.Default().WithComponent("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

type createResponse struct {
	JobID string `json:"job_id"`
}

type linkRequest struct {
	URL string `json:"url"`
	domain.Configuration
}

// CreateFromLink submits a remote video link for processing
func (c *Client) CreateFromLink(ctx context.Context, link string, cfg domain.Configuration) (string, error) {
	body, err := json.Marshal(linkRequest{URL: link, Configuration: cfg})
	if err != nil {
		return "", apperrors.InternalError("failed to encode job request").WithCause(err)
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/job/from_url", "application/json", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", apperrors.BackendError("backend returned no job id")
	}
	return resp.JobID, nil
}

// CreateFromFile uploads a local video as multipart form data.
// The body is streamed so large files are never held in memory.
func (c *Client) CreateFromFile(ctx context.Context, name string, r io.Reader, cfg domain.Configuration) (string, error) {
	fields, err := cfg.FormFields()
	if err != nil {
		return "", apperrors.InternalError("failed to encode configuration").WithCause(err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, name, r, fields))
	}()

	var resp createResponse
	err = c.do(ctx, http.MethodPost, "/job/from_file", mw.FormDataContentType(), pr, &resp)
	pr.Close()
	if err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", apperrors.BackendError("backend returned no job id")
	}
	return resp.JobID, nil
}

func writeMultipart(mw *multipart.Writer, name string, r io.Reader, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to stream upload: %w", err)
	}
	return mw.Close()
}

// Status fetches the current state of a job. It is not retried here;
// the poll loop's next tick is the retry.
func (c *Client) Status(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID), "", nil, &job); err != nil {
		if apperrors.IsNotFound(err) {
			return domain.Job{}, apperrors.JobNotFound(jobID).WithCause(err)
		}
		return domain.Job{}, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	if job.Steps == nil {
		job.Steps = []domain.Step{}
	}
	if !job.Status.Valid() {
		return domain.Job{}, apperrors.BackendError(fmt.Sprintf("unknown job status %q", job.Status))
	}
	return job, nil
}

// Highlights fetches the detected segments of a ready job
func (c *Client) Highlights(ctx context.Context, jobID string) ([]domain.Highlight, error) {
	return apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) ([]domain.Highlight, error) {
		var hs []domain.Highlight
		if err := c.do(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID)+"/highlights", "", nil, &hs); err != nil {
			return nil, err
		}
		if hs == nil {
			hs = []domain.Highlight{}
		}
		return hs, nil
	})
}

// Meta asks the backend to generate titles, hooks and hashtags for a segment
func (c *Client) Meta(ctx context.Context, jobID, segmentID string) (domain.Meta, error) {
	var meta domain.Meta
	path := fmt.Sprintf("/job/%s/meta/%s", url.PathEscape(jobID), url.PathEscape(segmentID))
	if err := c.do(ctx, http.MethodPost, path, "", nil, &meta); err != nil {
		return domain.Meta{}, err
	}
	return meta, nil
}

// Render requests a render of the given segments
func (c *Client) Render(ctx context.Context, jobID string, req domain.RenderRequest) (domain.RenderAck, error) {
	if req.Segments == nil {
		req.Segments = []domain.Highlight{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.RenderAck{}, apperrors.InternalError("failed to encode render request").WithCause(err)
	}

	var ack domain.RenderAck
	path := "/job/" + url.PathEscape(jobID) + "/render"
	if err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), &ack); err != nil {
		return domain.RenderAck{}, err
	}
	return ack, nil
}

// Result lists the rendered output files of a job
func (c *Client) Result(ctx context.Context, jobID string) (domain.RenderOutputs, error) {
	return apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (domain.RenderOutputs, error) {
		var out domain.RenderOutputs
		if err := c.do(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID)+"/result", "", nil, &out); err != nil {
			return domain.RenderOutputs{}, err
		}
		if out.Outputs == nil {
			out.Outputs = []string{}
		}
		return out, nil
	})
}

// Presets fetches the named example configurations, sorted by name.
// Fields a preset omits keep their default values.
func (c *Client) Presets(ctx context.Context) ([]domain.Preset, error) {
	raw, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (map[string]json.RawMessage, error) {
		var m map[string]json.RawMessage
		if err := c.do(ctx, http.MethodGet, "/presets", "", nil, &m); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	presets := make([]domain.Preset, 0, len(raw))
	for name, data := range raw {
		cfg := domain.DefaultConfiguration()
		if err := json.Unmarshal(data, &cfg); err != nil {
			c.log.Warn(ctx, "skipping malformed preset", err, map[string]interface{}{"preset": name})
			continue
		}
		presets = append(presets, domain.Preset{Name: name, Config: cfg})
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// Ping checks that the backend answers at all
func (c *Client) Ping(ctx context.Context) error {
	var m map[string]json.RawMessage
	return c.do(ctx, http.MethodGet, "/presets", "", nil, &m)
}

// do performs one request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return apperrors.InternalError("failed to create request").WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := apperrors.GetCorrelationID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.BackendUnavailable(fmt.Sprintf("%s %s failed", method, path)).WithCause(err)
	}
	defer resp.Body.Close()

	c.log.Debug(ctx, "backend request", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.FromStatus(resp.StatusCode, errorMessage(detail, resp.StatusCode)).
			WithDetails(map[string]any{"method": method, "path": path})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.BackendError("failed to parse response").WithCause(err)
	}
	return nil
}

// errorMessage extracts FastAPI's {"detail": ...} or {"error": ...} text
func errorMessage(body []byte, status int) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
