package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/clustering"
	"github.com/fyrsmithlabs/taskflow/internal/events"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/steps"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.deps.Version})
}

// handleCreateTask validates the input and runs the creation transaction.
func (s *Server) handleCreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create task request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		var verr *tasks.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid input", Fields: verr.Fields})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := logging.WithOperation(c.Request().Context(), "create_task")
	res := s.deps.Tasks.CreateTaskWithTemplate(ctx, req, s.deps.Databases)
	s.publish(c, res)

	switch r := res.(type) {
	case *transaction.Success:
		return c.JSON(http.StatusCreated, CreateTaskResponse{
			TemplateID:     r.TemplateID,
			StepIDs:        r.StepIDs,
			InstanceID:     r.InstanceID,
			CleanupIDs:     r.CleanupIDs,
			PartialCleanup: r.PartialCleanup,
		})
	case *transaction.Failure:
		return c.JSON(http.StatusBadGateway, TaskFailureResponse{
			Kind:           string(r.Kind),
			Message:        r.Message,
			CleanupIDs:     r.CleanupIDs,
			PartialCleanup: r.PartialCleanup,
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected transaction result")
	}
}

// publish reports the transaction outcome. Failures are only logged.
func (s *Server) publish(c echo.Context, res transaction.Result) {
	ctx := c.Request().Context()
	ev := events.FromResult(res, logging.RequestIDFromContext(ctx), s.now())
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish task event",
			append(logging.ContextFields(ctx), zap.String("type", ev.Type), zap.Error(err))...)
	}
}

// handleCluster clusters the keyword pages matching the query.
func (s *Server) handleCluster(c echo.Context) error {
	var req ClusterRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid cluster request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	locale := req.Locale
	if locale == "" {
		locale = acceptLanguage(c.Request().Header.Get("Accept-Language"))
	}

	ctx := logging.WithOperation(c.Request().Context(), "cluster_keywords")
	result, err := s.deps.Clusterer.Cluster(ctx, req.Query)
	if err != nil {
		msg := s.deps.Messages.UserMessage(err, locale)

		var cfgErr *clustering.ConfigError
		if errors.As(err, &cfgErr) {
			s.logger.Error("clustering misconfigured", append(logging.ContextFields(ctx), zap.Error(err))...)
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: msg})
		}

		s.logger.Warn("clustering failed", append(logging.ContextFields(ctx), zap.Error(err))...)
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: msg})
	}

	return c.JSON(http.StatusOK, result)
}

// handleSetStepDone sets the Done flag of a flow step.
func (s *Server) handleSetStepDone(c echo.Context) error {
	id := c.Param("id")

	var req SetStepDoneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Done == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "done field is required")
	}

	ctx := logging.WithOperation(c.Request().Context(), "set_step_done")
	if err := s.deps.Steps.SetDone(ctx, id, *req.Done); err != nil {
		switch {
		case errors.Is(err, steps.ErrEmptyStepID):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "step not found")
		}
		s.logger.Warn("failed to update step", append(logging.ContextFields(ctx), zap.Error(err))...)
		locale := acceptLanguage(c.Request().Header.Get("Accept-Language"))
		return echo.NewHTTPError(http.StatusBadGateway, s.deps.Messages.GenericMessage(locale))
	}

	return c.JSON(http.StatusOK, StepResponse{ID: id, Done: *req.Done})
}

// acceptLanguage returns the primary tag of the first language in header.
func acceptLanguage(header string) string {
	first := strings.TrimSpace(strings.Split(header, ",")[0])
	if i := strings.Index(first, ";"); i >= 0 {
		first = first[:i]
	}
	return strings.TrimSpace(first)
}
