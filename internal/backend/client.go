package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"github.com/sourceplane/prestoflow/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the session backend over HTTP
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	retry          RetryPolicy
	logger         hclog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout bounds every call except Run and Download
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithRetryPolicy sets the retry policy for idempotent reads
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		requestTimeout: 30 * time.Second,
		retry:          DefaultRetryPolicy(),
		logger:         hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload is a file sent in a multipart form
type Upload struct {
	Filename string
	Content  io.Reader
}

// AuxUpload is the answer to an auxiliary upload
type AuxUpload struct {
	StoredAs string `json:"stored_as"`
	Role     string `json:"role"`
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	timeout     time.Duration
}

// StartSession creates a new backend session and returns its id
func (c *Client) StartSession(ctx context.Context) (string, error) {
	data, err := c.send(ctx, request{
		op:      "start session",
		method:  http.MethodPost,
		path:    "/session/start",
		timeout: c.requestTimeout,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("start session: failed to decode response: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("start session: backend returned no session id")
	}
	return resp.SessionID, nil
}

// ListUnits returns the registered units, optionally restricted to a group
func (c *Client) ListUnits(ctx context.Context, sessionID string, group model.Group) ([]model.Unit, error) {
	path := c.sessionPath(sessionID, "units")
	if group != "" {
		path += "?group=" + url.QueryEscape(string(group))
	}

	data, err := c.get(ctx, "list units", path)
	if err != nil {
		return nil, err
	}

	var units []model.Unit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("list units: failed to decode response: %w", err)
	}
	return units, nil
}

// UploadReads sends the primary read files. r2 may be nil for single-end data.
func (c *Client) UploadReads(ctx context.Context, sessionID string, r1 Upload, r2 *Upload) error {
	parts := map[string]Upload{"r1": r1}
	if r2 != nil {
		parts["r2"] = *r2
	}
	body, contentType := multipartBody(parts, nil)

	_, err := c.send(ctx, request{
		op:          "upload reads",
		method:      http.MethodPost,
		path:        c.sessionPath(sessionID, "upload"),
		body:        body,
		contentType: contentType,
	})
	return err
}

// UploadAux sends an auxiliary file such as a primer reference. name overrides
// the stored file name when not empty.
func (c *Client) UploadAux(ctx context.Context, sessionID string, file Upload, name string) (*AuxUpload, error) {
	fields := map[string]string{}
	if name != "" {
		fields["name"] = name
	}
	body, contentType := multipartBody(map[string]Upload{"file": file}, fields)

	data, err := c.send(ctx, request{
		op:          "upload aux",
		method:      http.MethodPost,
		path:        c.sessionPath(sessionID, "upload-aux"),
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	var resp AuxUpload
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("upload aux: failed to decode response: %w", err)
	}
	return &resp, nil
}

// Run executes one unit against the session. The call is bounded only by ctx.
func (c *Client) Run(ctx context.Context, sessionID, unitID string, params map[string]string) (*model.RunResult, error) {
	if params == nil {
		params = map[string]string{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"unit_id": unitID,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: failed to encode request: %w", unitID, err)
	}

	data, err := c.send(ctx, request{
		op:          "run " + unitID,
		method:      http.MethodPost,
		path:        c.sessionPath(sessionID, "run"),
		body:        bytes.NewReader(payload),
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var result model.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("run %s: failed to decode response: %w", unitID, err)
	}
	return &result, nil
}

// State fetches the session state
func (c *Client) State(ctx context.Context, sessionID string) (model.SessionState, error) {
	data, err := c.get(ctx, "fetch state", c.sessionPath(sessionID, "state"))
	if err != nil {
		return model.SessionState{}, err
	}

	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.SessionState{}, fmt.Errorf("fetch state: failed to decode response: %w", err)
	}
	return state, nil
}

// Log fetches the plain-text log of a step
func (c *Client) Log(ctx context.Context, sessionID string, stepIndex int) (string, error) {
	data, err := c.get(ctx, "fetch log", c.sessionPath(sessionID, "log", strconv.Itoa(stepIndex)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Download streams an artifact into w and returns the number of bytes written
func (c *Client) Download(ctx context.Context, sessionID, name string, w io.Writer) (int64, error) {
	op := "download " + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.sessionPath(sessionID, "download", name), nil)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return 0, remoteError(op, resp.StatusCode, data)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, transportError(ctx, op, err)
	}
	return n, nil
}

func (c *Client) sessionPath(sessionID string, parts ...string) string {
	segments := []string{"/session", url.PathEscape(sessionID)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/")
}

// get performs an idempotent read with bounded retries
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	var lastErr error
	attempts := c.retry.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.retry.Backoff(attempt - 1)
			c.logger.Debug("retrying backend read", "op", op, "attempt", attempt, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return nil, transportError(ctx, op, err)
			}
		}

		data, err := c.send(ctx, request{
			op:      op,
			method:  http.MethodGet,
			path:    path,
			timeout: c.requestTimeout,
		})
		if err == nil {
			return data, nil
		}
		lastErr = err

		be, ok := AsError(err)
		if !ok || !be.Retryable() || be.Kind == KindCanceled || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "op", r.op, "error", err)
		return nil, transportError(ctx, r.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, r.op, err)
	}

	c.logger.Debug("backend request", "op", r.op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, remoteError(r.op, resp.StatusCode, data)
	}
	return data, nil
}

// multipartBody streams the files and fields as a multipart form
func multipartBody(files map[string]Upload, fields map[string]string) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeParts(mw, files, fields)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeParts(mw *multipart.Writer, files map[string]Upload, fields map[string]string) error {
	for field, value := range fields {
		if err := mw.WriteField(field, value); err != nil {
			return err
		}
	}
	for field, up := range files {
		part, err := mw.CreateFormFile(field, up.Filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, up.Content); err != nil {
			return fmt.Errorf("failed to stream %s: %w", up.Filename, err)
		}
	}
	return nil
}
