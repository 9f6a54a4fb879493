// Package http provides the HTTP API for taskflow.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/events"
	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/safemsg"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

// TaskCreator runs the task creation transaction.
type TaskCreator interface {
	CreateTaskWithTemplate(ctx context.Context, input tasks.CreateTaskInput, dbs storage.DatabaseIDs) transaction.Result
}

// KeywordClusterer clusters the keyword pages matching a query.
type KeywordClusterer interface {
	Cluster(ctx context.Context, query string) (keywords.ClusterResult, error)
}

// StepUpdater marks flow steps done.
type StepUpdater interface {
	SetDone(ctx context.Context, stepID string, done bool) error
}

// Deps are the services behind the API. Publisher and Registry are
// optional.
type Deps struct {
	Tasks     TaskCreator
	Clusterer KeywordClusterer
	Steps     StepUpdater
	Publisher events.Publisher
	Messages  *safemsg.Policy
	Databases storage.DatabaseIDs
	Registry  *prometheus.Registry
	Version   string
}

// Server provides HTTP endpoints for taskflow.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
	now     func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if deps.Tasks == nil || deps.Clusterer == nil || deps.Steps == nil {
		return nil, fmt.Errorf("task, clustering and step services are required")
	}
	if deps.Messages == nil {
		return nil, fmt.Errorf("message policy is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}

	metrics, err := NewHTTPMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return nil
		}
	})

	s := &Server{
		echo:    e,
		deps:    deps,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		now:     time.Now,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.POST("/keywords/cluster", s.handleCluster)
	v1.PATCH("/steps/:id", s.handleSetStepDone)
}

// requestContext copies the request id into the request context so
// services can log it.
func requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	}
}

// errorHandler renders every error as ErrorResponse.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error("unhandled error",
				append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		}

		if err := c.JSON(code, ErrorResponse{Message: msg}); err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted in tests and other muxes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
