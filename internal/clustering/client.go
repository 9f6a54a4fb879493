// Package clustering groups keyword pages into topical clusters with a
// generative model, retrying once and degrading to a frequency ranking.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
	defaultTimeout   = 60 * time.Second

	maxLoggedOutput = 512
)

// Client asks a Model to cluster pages and validates its answer. It is
// safe for concurrent use.
type Client struct {
	model   Model
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.New(logger)
		}
	}
}

// NewClient returns a client for model. A nil model makes every call fail
// with a *ConfigError.
func NewClient(model Model, opts ...ClientOption) *Client {
	c := &Client{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		timeout: defaultTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClusterKeywords asks the model to cluster pages. The result is validated
// against pages; schema failures wrap ErrSchemaViolation.
func (c *Client) ClusterKeywords(ctx context.Context, pages []keywords.Page) (keywords.ClusterResult, error) {
	if c.model == nil {
		return keywords.ClusterResult{}, errMissingAPIKey
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return keywords.ClusterResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.model.Generate(callCtx, buildPrompt(pages))
	if err != nil {
		return keywords.ClusterResult{}, fmt.Errorf("generate clusters: %w", err)
	}

	result, err := keywords.ParseClusterResult(raw, pages)
	if err != nil {
		if errors.Is(err, ErrSchemaViolation) {
			c.logger.Debug(ctx, "model output rejected", zap.Error(err))
			c.logger.Trace(ctx, "rejected model output", zap.String("output", truncate(raw, maxLoggedOutput)))
		}
		return keywords.ClusterResult{}, err
	}
	return result, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
