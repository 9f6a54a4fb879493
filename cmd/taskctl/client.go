package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
)

// Response bodies mirror internal/http/types.go.
type (
	healthResponse struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}

	errorResponse struct {
		Message string             `json:"message"`
		Fields  []tasks.FieldError `json:"fields"`
	}

	createTaskResponse struct {
		TemplateID     string   `json:"templateId,omitempty"`
		StepIDs        []string `json:"stepIds,omitempty"`
		InstanceID     string   `json:"instanceId,omitempty"`
		Kind           string   `json:"kind,omitempty"`
		Message        string   `json:"message,omitempty"`
		CleanupIDs     []string `json:"cleanupIds"`
		PartialCleanup bool     `json:"partialCleanup"`
	}

	stepResponse struct {
		ID   string `json:"id"`
		Done bool   `json:"done"`
	}
)

// apiClient talks to the taskflow daemon.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// statusError is returned for responses outside the accepted codes.
type statusError struct {
	Status  int
	Message string
	Fields  []tasks.FieldError
}

func (e *statusError) Error() string {
	msg := fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
	for _, f := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", f.Field, f.Message)
	}
	return msg
}

// do sends body as JSON and decodes the response into out when the status
// is one of accept.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}, accept ...int) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	for _, code := range accept {
		if resp.StatusCode == code {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}

	var er errorResponse
	if json.Unmarshal(data, &er) != nil || er.Message == "" {
		er.Message = strings.TrimSpace(string(data))
	}
	return &statusError{Status: resp.StatusCode, Message: er.Message, Fields: er.Fields}
}

func (c *apiClient) health(ctx context.Context) (*healthResponse, error) {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// createTask returns the response for both 201 and 502 so callers can see
// the cleanup report of a rolled back transaction.
func (c *apiClient) createTask(ctx context.Context, in tasks.CreateTaskInput) (*createTaskResponse, error) {
	var out createTaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", in, &out, http.StatusCreated, http.StatusBadGateway); err != nil {
		return nil, err
	}
	if out.Kind != "" {
		return &out, fmt.Errorf("%s (cleaned up %d records, partial: %t)", out.Message, len(out.CleanupIDs), out.PartialCleanup)
	}
	return &out, nil
}

func (c *apiClient) cluster(ctx context.Context, query, locale string) (*keywords.ClusterResult, error) {
	var out keywords.ClusterResult
	body := map[string]string{"query": query}
	if locale != "" {
		body["locale"] = locale
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/keywords/cluster", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) setStepDone(ctx context.Context, id string, done bool) (*stepResponse, error) {
	var out stepResponse
	path := "/api/v1/steps/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, map[string]bool{"done": done}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
