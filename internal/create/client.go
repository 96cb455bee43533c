package create

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the production sketch store API.
	DefaultBaseURL = "https://api2.arduino.cc/create"

	defaultUserAgent      = "sketchd/0.1"
	defaultWriteAttempts  = 20
	defaultPollInterval   = 250 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	defaultUploadWorkers  = 4
)

// Client talks to the remote sketch store API.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	tokens        TokenSource
	logger        *log.Logger
	userAgent     string
	writeAttempts int
	pollInterval  time.Duration
	uploadWorkers int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWriteAttempts bounds how many times WriteFile posts and re-lists before
// giving up.
func WithWriteAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.writeAttempts = n
		}
	}
}

// WithPollInterval sets the pause between WriteFile confirmation attempts.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.pollInterval = d
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithUploadWorkers limits concurrent file uploads in AddSketch.
func WithUploadWorkers(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.uploadWorkers = n
		}
	}
}

// NewClient builds a Client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL:       base,
		http:          &http.Client{Timeout: defaultRequestTimeout},
		tokens:        tokens,
		logger:        log.New(os.Stderr, "[create] ", log.LstdFlags),
		userAgent:     defaultUserAgent,
		writeAttempts: defaultWriteAttempts,
		pollInterval:  defaultPollInterval,
		uploadWorkers: defaultUploadWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetSketches lists the user's remote sketches.
func (c *Client) GetSketches(ctx context.Context) ([]Sketch, error) {
	rel := &url.URL{Path: "/v2/sketches", RawQuery: url.Values{"user_id": {"me"}}.Encode()}
	var payload sketchesResponse
	if err := c.doURL(ctx, http.MethodGet, rel, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Sketches, nil
}

// GetSketchByPath fetches a sketch by its remote path. A rejected lookup,
// e.g. a 404 for a deleted sketch, is returned as a Conflict, not an error.
func (c *Client) GetSketchByPath(ctx context.Context, sketchPath string) (SketchResult, error) {
	return c.sketchRequest(ctx, http.MethodGet, &url.URL{Path: "/v2/sketches/byPath/" + trimSlash(sketchPath)}, nil)
}

// ListFiles lists the files in a remote sketch directory.
func (c *Client) ListFiles(ctx context.Context, dir string) ([]File, error) {
	var files []File
	if err := c.doURL(ctx, http.MethodGet, &url.URL{Path: "/v2/files/d/" + trimSlash(dir)}, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ReadFile downloads a remote file. Content that cannot be decoded is passed
// through as-is and a warning is logged.
func (c *Client) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	var payload filePayload
	if err := c.doURL(ctx, http.MethodGet, &url.URL{Path: "/v2/files/f/" + trimSlash(filePath)}, nil, &payload); err != nil {
		return nil, err
	}
	data, ok := DecodeContent(payload.Data)
	if !ok {
		c.logger.Printf("Warning: content of %s is not base64, using it verbatim", filePath)
	}
	return data, nil
}

// WriteFile uploads a file and waits until the remote listing confirms it.
//
// The POST response alone does not mean the write landed, so the directory
// is listed before the first attempt and after each one. The write is
// confirmed when the file newly appears or its modified_at changed. After
// the configured number of attempts ErrSyncRetryExhausted is returned.
func (c *Client) WriteFile(ctx context.Context, filePath string, data []byte) error {
	dir, name := path.Split(trimSlash(filePath))
	dir = strings.TrimSuffix(dir, "/")

	before, err := c.ListFiles(ctx, dir)
	if err != nil {
		return fmt.Errorf("list before write: %w", err)
	}
	previous, existed := findFile(before, name)

	body := filePayload{Data: EncodeContent(data)}
	rel := &url.URL{Path: "/v2/files/f/" + trimSlash(filePath)}
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := c.doURL(ctx, http.MethodPost, rel, body, nil); err != nil {
			return err
		}
		after, err := c.ListFiles(ctx, dir)
		if err != nil {
			return fmt.Errorf("list after write: %w", err)
		}
		if current, ok := findFile(after, name); ok {
			if !existed || current.ModifiedAt != previous.ModifiedAt {
				c.logger.Printf("Wrote %s in %v (%d attempt(s))", filePath, time.Since(start).Round(time.Millisecond), attempt)
				return nil
			}
		}
		if attempt >= c.writeAttempts {
			return fmt.Errorf("%w: %s after %d attempts", ErrSyncRetryExhausted, filePath, attempt)
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// DeleteFile deletes a remote file.
func (c *Client) DeleteFile(ctx context.Context, filePath string) error {
	return c.doURL(ctx, http.MethodDelete, &url.URL{Path: "/v2/files/f/" + trimSlash(filePath)}, nil, nil)
}

// AddSketch creates a remote sketch and uploads files into it. A rejected
// creation (e.g. a name collision) is returned as a Conflict and no files are
// uploaded.
func (c *Client) AddSketch(ctx context.Context, sketch NewSketch, files []UploadFile) (SketchResult, error) {
	payload := newSketchPayload{UserID: "me", Path: sketch.Path, Ino: EncodeContent(sketch.Ino)}
	result, err := c.sketchRequest(ctx, http.MethodPut, &url.URL{Path: "/v2/sketches"}, payload)
	if err != nil || result.Sketch == nil {
		return result, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.uploadWorkers)
	for _, file := range files {
		g.Go(func() error {
			return c.WriteFile(gctx, path.Join(result.Sketch.Path, file.Name), file.Data)
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("upload files of %s: %w", result.Sketch.Name, err)
	}
	return result, nil
}

func (c *Client) sketchRequest(ctx context.Context, method string, rel *url.URL, body any) (SketchResult, error) {
	var sketch Sketch
	err := c.doURL(ctx, method, rel, body, &sketch)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return SketchResult{Conflict: &ConflictResponse{
			Code:   apiErr.Code,
			Detail: apiErr.Detail,
			Status: apiErr.Status,
		}}, nil
	}
	if err != nil {
		return SketchResult{}, err
	}
	return SketchResult{Sketch: &sketch}, nil
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	reqURL := *c.baseURL
	reqURL.Path = strings.TrimSuffix(c.baseURL.Path, "/") + rel.Path
	reqURL.RawQuery = rel.RawQuery

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: api %s %s returned status 401", ErrNotAuthorized, method, rel.Path)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: rel.Path, Status: resp.StatusCode}
		var conflict ConflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err == nil {
			apiErr.Code, apiErr.Detail = conflict.Code, conflict.Detail
		}
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(baseURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url %q: %w", baseURL, err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func findFile(files []File, name string) (File, bool) {
	for _, f := range files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

func trimSlash(p string) string {
	return strings.TrimPrefix(p, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
