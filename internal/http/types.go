package http

import (
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string             `json:"message"`
	Fields  []tasks.FieldError `json:"fields,omitempty"`
}

// CreateTaskRequest is the request body for POST /api/v1/tasks.
type CreateTaskRequest = tasks.CreateTaskInput

// CreateTaskResponse is the 201 body for POST /api/v1/tasks.
type CreateTaskResponse struct {
	TemplateID     string   `json:"templateId"`
	StepIDs        []string `json:"stepIds"`
	InstanceID     string   `json:"instanceId"`
	CleanupIDs     []string `json:"cleanupIds"`
	PartialCleanup bool     `json:"partialCleanup"`
}

// TaskFailureResponse is the 502 body for POST /api/v1/tasks.
type TaskFailureResponse struct {
	Kind           string   `json:"kind"`
	Message        string   `json:"message"`
	CleanupIDs     []string `json:"cleanupIds"`
	PartialCleanup bool     `json:"partialCleanup"`
}

// ClusterRequest is the request body for POST /api/v1/keywords/cluster.
type ClusterRequest struct {
	Query  string `json:"query"`
	Locale string `json:"locale,omitempty"`
}

// SetStepDoneRequest is the request body for PATCH /api/v1/steps/:id.
type SetStepDoneRequest struct {
	Done *bool `json:"done"`
}

// StepResponse is the response body for PATCH /api/v1/steps/:id.
type StepResponse struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
}
