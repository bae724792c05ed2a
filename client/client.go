package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds configuration for the API client.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// DefaultConfig returns default configuration. The base URL comes from
// NEXUS_API_URL when set.
func DefaultConfig() Config {
	baseURL := os.Getenv("NEXUS_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 30 * time.Second,
	}
}

// Client wraps the Nexus /v2 REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg = DefaultConfig()
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// CreateSession creates a new session in the uploading state.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v2/sessions", nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches a session status snapshot.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v2/sessions/"+url.PathEscape(sessionID), nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UploadFile uploads one activity-data file to a session.
func (c *Client) UploadFile(ctx context.Context, sessionID, filename string, data io.Reader) (*UploadedFile, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	var file UploadedFile
	path := "/v2/sessions/" + url.PathEscape(sessionID) + "/files"
	if err := c.do(ctx, http.MethodPost, path, &body, writer.FormDataContentType(), &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// StartProcessing starts the processing pipeline for a session.
func (c *Client) StartProcessing(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/v2/sessions/" + url.PathEscape(sessionID) + "/start"
	if err := c.do(ctx, http.MethodPost, path, nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetResults fetches the computed results for a session.
func (c *Client) GetResults(ctx context.Context, sessionID string) (*Results, error) {
	var results Results
	path := "/v2/sessions/" + url.PathEscape(sessionID) + "/results"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// ListExports lists the export artifacts available for a session.
func (c *Client) ListExports(ctx context.Context, sessionID string) ([]Export, error) {
	var payload struct {
		Exports []Export `json:"exports"`
	}
	path := "/v2/sessions/" + url.PathEscape(sessionID) + "/exports"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Exports, nil
}

// ExportURL returns the download URL for one export artifact.
func (c *Client) ExportURL(sessionID, name string) string {
	return c.baseURL + "/v2/sessions/" + url.PathEscape(sessionID) + "/exports/" + url.PathEscape(name)
}

// DownloadExport streams one export artifact into w.
func (c *Client) DownloadExport(ctx context.Context, sessionID, name string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ExportURL(sessionID, name), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download export: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export body: %w", err)
	}
	return nil
}

// SubmitFeedback records a feedback entry for a session.
func (c *Client) SubmitFeedback(ctx context.Context, sessionID, feedbackType, content string) (*Feedback, error) {
	payload, err := json.Marshal(map[string]string{
		"type":    feedbackType,
		"content": content,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal feedback: %w", err)
	}

	var fb Feedback
	path := "/v2/sessions/" + url.PathEscape(sessionID) + "/feedback"
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// ListAgents fetches the static agent network description.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var payload struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/agents", nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Agents, nil
}

// do issues one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
