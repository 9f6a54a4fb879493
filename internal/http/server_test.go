package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/taskflow/internal/clustering"
	"github.com/fyrsmithlabs/taskflow/internal/config"
	"github.com/fyrsmithlabs/taskflow/internal/events"
	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/safemsg"
	"github.com/fyrsmithlabs/taskflow/internal/steps"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

type MockTaskCreator struct {
	mock.Mock
}

func (m *MockTaskCreator) CreateTaskWithTemplate(ctx context.Context, input tasks.CreateTaskInput, dbs storage.DatabaseIDs) transaction.Result {
	args := m.Called(ctx, input, dbs)
	return args.Get(0).(transaction.Result)
}

type MockClusterer struct {
	mock.Mock
}

func (m *MockClusterer) Cluster(ctx context.Context, query string) (keywords.ClusterResult, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(keywords.ClusterResult), args.Error(1)
}

type MockStepUpdater struct {
	mock.Mock
}

func (m *MockStepUpdater) SetDone(ctx context.Context, stepID string, done bool) error {
	args := m.Called(ctx, stepID, done)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev events.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockPublisher) Close() error { return nil }

type testServer struct {
	*Server
	tasks     *MockTaskCreator
	clusterer *MockClusterer
	steps     *MockStepUpdater
	publisher *MockPublisher
	logs      *logging.TestLogger
}

var testDatabases = storage.DatabaseIDs{Templates: "db-templates", Steps: "db-steps", Instances: "db-instances"}

// setupTestServer creates a test server backed by mocks.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		tasks:     &MockTaskCreator{},
		clusterer: &MockClusterer{},
		steps:     &MockStepUpdater{},
		publisher: &MockPublisher{},
		logs:      logging.NewTestLogger(),
	}

	server, err := NewServer(Deps{
		Tasks:     ts.tasks,
		Clusterer: ts.clusterer,
		Steps:     ts.steps,
		Publisher: ts.publisher,
		Messages:  safemsg.FromConfig(config.Default().Messages),
		Databases: testDatabases,
		Version:   "test",
	}, ts.logs.Underlying(), &Config{Host: "localhost", Port: 9190})
	require.NoError(t, err)
	server.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	ts.Server = server
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func validInput() tasks.CreateTaskInput {
	return tasks.CreateTaskInput{
		Name:  "Laundry",
		Steps: []tasks.StepInput{{Name: "Wash"}, {Name: "Dry"}},
		Date:  "2024-05-01",
	}
}

func TestNewServer(t *testing.T) {
	deps := Deps{
		Tasks:     &MockTaskCreator{},
		Clusterer: &MockClusterer{},
		Steps:     &MockStepUpdater{},
		Messages:  safemsg.FromConfig(config.Default().Messages),
	}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(deps, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9190, server.config.Port)
		assert.IsType(t, events.NopPublisher{}, server.deps.Publisher)
		assert.NotNil(t, server.deps.Registry)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		d := deps
		d.Steps = nil
		_, err := NewServer(d, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("returns error when message policy is missing", func(t *testing.T) {
		d := deps
		d.Messages = nil
		_, err := NewServer(d, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleCreateTask(t *testing.T) {
	t.Run("success returns 201 and publishes task.created", func(t *testing.T) {
		ts := setupTestServer(t)
		in := validInput()
		ts.tasks.On("CreateTaskWithTemplate", mock.Anything, in, testDatabases).Return(&transaction.Success{
			TemplateID: "tpl",
			StepIDs:    []string{"s1", "s2"},
			InstanceID: "inst",
			CleanupIDs: []string{},
		})
		ts.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(ev events.Event) bool {
			return ev.Type == events.TypeTaskCreated && ev.InstanceID == "inst" && ev.RequestID != ""
		})).Return(nil)

		rec := ts.do(http.MethodPost, "/api/v1/tasks", in)

		assert.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[CreateTaskResponse](t, rec)
		assert.Equal(t, "tpl", resp.TemplateID)
		assert.Equal(t, []string{"s1", "s2"}, resp.StepIDs)
		assert.Equal(t, "inst", resp.InstanceID)
		assert.Empty(t, resp.CleanupIDs)
		assert.False(t, resp.PartialCleanup)
		ts.tasks.AssertExpectations(t)
		ts.publisher.AssertExpectations(t)
	})

	t.Run("failure returns 502 with cleanup report", func(t *testing.T) {
		ts := setupTestServer(t)
		in := validInput()
		ts.tasks.On("CreateTaskWithTemplate", mock.Anything, in, testDatabases).Return(&transaction.Failure{
			Kind:           transaction.StepCreationFailed,
			Message:        transaction.StepCreationFailed.Message(),
			CleanupIDs:     []string{"tpl", "s1"},
			PartialCleanup: true,
			Cause:          errors.New("notion: 500 internal"),
		})
		ts.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(ev events.Event) bool {
			return ev.Type == events.TypeTaskRolledBack
		})).Return(nil)

		rec := ts.do(http.MethodPost, "/api/v1/tasks", in)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decode[TaskFailureResponse](t, rec)
		assert.Equal(t, "step_creation_failed", resp.Kind)
		assert.Equal(t, "Failed to create flow steps", resp.Message)
		assert.Equal(t, []string{"tpl", "s1"}, resp.CleanupIDs)
		assert.True(t, resp.PartialCleanup)
		assert.NotContains(t, rec.Body.String(), "notion: 500")
	})

	t.Run("publish error does not change the response", func(t *testing.T) {
		ts := setupTestServer(t)
		in := validInput()
		ts.tasks.On("CreateTaskWithTemplate", mock.Anything, in, testDatabases).Return(&transaction.Success{
			TemplateID: "tpl", InstanceID: "inst", CleanupIDs: []string{},
		})
		ts.publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))

		rec := ts.do(http.MethodPost, "/api/v1/tasks", in)

		assert.Equal(t, http.StatusCreated, rec.Code)
		ts.logs.AssertLogged(t, zapcore.WarnLevel, "failed to publish task event")
	})

	t.Run("invalid input returns 400 without calling the coordinator", func(t *testing.T) {
		ts := setupTestServer(t)
		in := validInput()
		in.Name = ""
		in.Date = "05/01/2024"

		rec := ts.do(http.MethodPost, "/api/v1/tasks", in)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "invalid input", resp.Message)
		assert.NotEmpty(t, resp.Fields)
		ts.tasks.AssertNotCalled(t, "CreateTaskWithTemplate", mock.Anything, mock.Anything, mock.Anything)
		ts.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewBufferString("{not json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		ts.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid request body", decode[ErrorResponse](t, rec).Message)
	})
}

func TestHandleCluster(t *testing.T) {
	t.Run("returns the cluster result", func(t *testing.T) {
		ts := setupTestServer(t)
		want := keywords.ClusterResult{
			Meta:        keywords.Meta{TotalPages: 1, ClustersFound: 1},
			Clusters:    []keywords.Cluster{{Name: "Go", Keywords: []string{"go"}, Pages: []keywords.PageRef{{PageID: "p1", Title: "Go notes"}}}},
			TopKeywords: []keywords.KeywordCount{{Keyword: "go", Count: 1}},
		}
		ts.clusterer.On("Cluster", mock.Anything, "go").Return(want, nil)

		rec := ts.do(http.MethodPost, "/api/v1/keywords/cluster", ClusterRequest{Query: "go"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, decode[keywords.ClusterResult](t, rec))
	})

	t.Run("safe errors are shown verbatim", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.clusterer.On("Cluster", mock.Anything, "zzz").Return(keywords.ClusterResult{}, keywords.ErrNoMatchingPage)

		rec := ts.do(http.MethodPost, "/api/v1/keywords/cluster", ClusterRequest{Query: "zzz"})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "no matching page found", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("other errors use the localized generic message", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.clusterer.On("Cluster", mock.Anything, "go").
			Return(keywords.ClusterResult{}, fmt.Errorf("query database: %w", errors.New("connection reset by 10.0.0.3")))

		rec := ts.do(http.MethodPost, "/api/v1/keywords/cluster", ClusterRequest{Query: "go"}, "Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "처리에 실패했습니다. 다시 시도해 주세요.", decode[ErrorResponse](t, rec).Message)
		assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	})

	t.Run("body locale wins over Accept-Language", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.clusterer.On("Cluster", mock.Anything, "go").Return(keywords.ClusterResult{}, errors.New("boom"))

		rec := ts.do(http.MethodPost, "/api/v1/keywords/cluster", ClusterRequest{Query: "go", Locale: "en"}, "Accept-Language", "ko")

		assert.Equal(t, "Processing failed, please try again.", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("configuration errors return 500", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.clusterer.On("Cluster", mock.Anything, "go").
			Return(keywords.ClusterResult{}, &clustering.ConfigError{Message: "clustering API key is not configured"})

		rec := ts.do(http.MethodPost, "/api/v1/keywords/cluster", ClusterRequest{Query: "go"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "clustering API key is not configured", decode[ErrorResponse](t, rec).Message)
		ts.logs.AssertLogged(t, zapcore.ErrorLevel, "clustering misconfigured")
	})
}

func TestHandleSetStepDone(t *testing.T) {
	t.Run("updates the step", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.steps.On("SetDone", mock.Anything, "step-1", true).Return(nil)

		rec := ts.do(http.MethodPatch, "/api/v1/steps/step-1", map[string]bool{"done": true})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, StepResponse{ID: "step-1", Done: true}, decode[StepResponse](t, rec))
	})

	t.Run("missing done field returns 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPatch, "/api/v1/steps/step-1", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		ts.steps.AssertNotCalled(t, "SetDone", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown step returns 404", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.steps.On("SetDone", mock.Anything, "nope", false).
			Return(fmt.Errorf("set step nope done=false: %w", storage.ErrNotFound))

		rec := ts.do(http.MethodPatch, "/api/v1/steps/nope", map[string]bool{"done": false})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("blank step id returns 400", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.steps.On("SetDone", mock.Anything, " ", true).Return(steps.ErrEmptyStepID)

		rec := ts.do(http.MethodPatch, "/api/v1/steps/%20", map[string]bool{"done": true})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("backend errors return the generic message", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.steps.On("SetDone", mock.Anything, "step-1", true).Return(errors.New("redis: connection refused"))

		rec := ts.do(http.MethodPatch, "/api/v1/steps/step-1", map[string]bool{"done": true})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "Processing failed, please try again.", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("backend errors honor Accept-Language", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.steps.On("SetDone", mock.Anything, "step-1", true).Return(errors.New("redis: connection refused"))

		rec := ts.do(http.MethodPatch, "/api/v1/steps/step-1", map[string]bool{"done": true}, "Accept-Language", "ko")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "처리에 실패했습니다. 다시 시도해 주세요.", decode[ErrorResponse](t, rec).Message)
		assert.NotContains(t, rec.Body.String(), "redis")
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		server, err := NewServer(Deps{
			Tasks:     &MockTaskCreator{},
			Clusterer: &MockClusterer{},
			Steps:     &MockStepUpdater{},
			Messages:  safemsg.FromConfig(config.Default().Messages),
		}, zap.NewNop(), &Config{Host: "localhost", Port: 0})
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, server.Shutdown(ctx))

		select {
		case err := <-errChan:
			assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response and context", func(t *testing.T) {
		ts := setupTestServer(t)
		var seen string
		ts.echo.GET("/probe", func(c echo.Context) error {
			seen = logging.RequestIDFromContext(c.Request().Context())
			return c.NoContent(http.StatusNoContent)
		})

		rec := ts.do(http.MethodGet, "/probe", nil)

		id := rec.Header().Get(echo.HeaderXRequestID)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, seen)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = ts.do(http.MethodGet, "/panic", nil)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("logs each request", func(t *testing.T) {
		ts := setupTestServer(t)

		ts.do(http.MethodGet, "/health", nil)

		ts.logs.AssertLogged(t, zapcore.InfoLevel, "http request")
	})
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"ko", "ko"},
		{"ko-KR,ko;q=0.9", "ko-KR"},
		{" en;q=0.8 , ko", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, acceptLanguage(tt.header))
		})
	}
}
