// Package notion talks to the Notion REST API. It provides a storage
// backend that keeps templates, steps and instances as database pages, and
// a keyword page source for clustering.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2022-06-28"

	defaultTimeout = 30 * time.Second

	// Notion allows an average of three requests per second per integration.
	defaultRateLimit = 3.0
	defaultBurst     = 3

	maxResponseBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	Token     string `json:"-"`
	BaseURL   string
	Version   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is a minimal Notion API client. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. The token is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion token required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		version:    version,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
	}, nil
}

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion API error (%d %s): %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether the request may succeed if repeated later.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsNotFound reports whether err is a Notion 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do sends one request and decodes a 200 response into out, which may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Message != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type parent struct {
	DatabaseID string `json:"database_id"`
}

type createPageRequest struct {
	Parent     parent                 `json:"parent"`
	Properties map[string]interface{} `json:"properties"`
}

type updatePageRequest struct {
	Archived   *bool                  `json:"archived,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// page is the subset of a Notion page object the client reads.
type page struct {
	ID         string                     `json:"id"`
	Archived   bool                       `json:"archived"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// CreatePage creates a page in databaseID and returns its id.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]interface{}) (string, error) {
	var created page
	req := createPageRequest{Parent: parent{DatabaseID: databaseID}, Properties: properties}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", req, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("notion returned a page without id")
	}
	return created.ID, nil
}

// ArchivePage moves a page to the trash.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	archived := true
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, updatePageRequest{Archived: &archived}, nil)
}

// UpdatePageProperties overwrites the given properties of a page.
func (c *Client) UpdatePageProperties(ctx context.Context, pageID string, properties map[string]interface{}) error {
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, updatePageRequest{Properties: properties}, nil)
}

type queryRequest struct {
	Filter      interface{} `json:"filter,omitempty"`
	StartCursor string      `json:"start_cursor,omitempty"`
	PageSize    int         `json:"page_size,omitempty"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// queryDatabase returns the pages of databaseID matching filter, following
// pagination up to maxBatches requests.
func (c *Client) queryDatabase(ctx context.Context, databaseID string, filter interface{}, maxBatches int) ([]page, error) {
	var (
		pages  []page
		cursor string
	)
	for i := 0; i < maxBatches; i++ {
		var resp queryResponse
		req := queryRequest{Filter: filter, StartCursor: cursor, PageSize: 100}
		if err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", req, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}
