package clustering

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/taskflow/internal/clustering"

// maxAttempts is the number of clustering calls made before falling back.
const maxAttempts = 2

// PageSource fetches the keyword pages matching a query.
type PageSource interface {
	FetchPages(ctx context.Context, query string) ([]keywords.Page, error)
}

// Clusterer clusters pages. *Client implements it.
type Clusterer interface {
	ClusterKeywords(ctx context.Context, pages []keywords.Page) (keywords.ClusterResult, error)
}

var _ Clusterer = (*Client)(nil)

// Orchestrator turns a query into a ClusterResult. Model failures are
// retried once and then replaced by the frequency fallback; configuration
// errors are returned immediately.
type Orchestrator struct {
	source    PageSource
	clusterer Clusterer
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	attemptCounter  metric.Int64Counter
	fallbackCounter metric.Int64Counter
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithTracerProvider(tp trace.TracerProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.meterProvider = mp }
}

func NewOrchestrator(source PageSource, clusterer Clusterer, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		source:         source,
		clusterer:      clusterer,
		logger:         logger,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracer = o.tracerProvider.Tracer(instrumentationName)
	o.meter = o.meterProvider.Meter(instrumentationName)
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.attemptCounter, err = o.meter.Int64Counter(
		"taskflow.clustering.attempts_total",
		metric.WithDescription("Total number of clustering model calls"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		o.logger.Warn("failed to create attempt counter", zap.Error(err))
	}

	o.fallbackCounter, err = o.meter.Int64Counter(
		"taskflow.clustering.fallbacks_total",
		metric.WithDescription("Total number of frequency fallback results"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		o.logger.Warn("failed to create fallback counter", zap.Error(err))
	}
}

// Cluster fetches the pages for query and clusters them. Page source errors
// are returned unchanged. When no page matches, the fallback result is
// returned without calling the model.
func (o *Orchestrator) Cluster(ctx context.Context, query string) (keywords.ClusterResult, error) {
	ctx, span := o.tracer.Start(ctx, "clustering.cluster")
	defer span.End()

	pages, err := o.source.FetchPages(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return keywords.ClusterResult{}, err
	}
	span.SetAttributes(attribute.Int("page_count", len(pages)))

	if len(pages) == 0 {
		o.logger.Debug("no keyword pages matched", logging.ContextFields(ctx)...)
		return keywords.BuildFallbackResult(nil), nil
	}
	return o.ClusterPages(ctx, pages)
}

// ClusterPages clusters pages with at most maxAttempts model calls.
func (o *Orchestrator) ClusterPages(ctx context.Context, pages []keywords.Page) (keywords.ClusterResult, error) {
	ctx, span := o.tracer.Start(ctx, "clustering.cluster_pages")
	defer span.End()
	span.SetAttributes(attribute.Int("page_count", len(pages)))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		o.attemptCounter.Add(ctx, 1)

		result, err := o.clusterer.ClusterKeywords(ctx, pages)
		if err == nil {
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.Bool("fallback", false),
				attribute.Int("clusters_found", result.Meta.ClustersFound),
			)
			return result, nil
		}

		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return keywords.ClusterResult{}, err
		}

		fields := append(logging.ContextFields(ctx),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Bool("schema_violation", errors.Is(err, ErrSchemaViolation)),
			zap.Error(err),
		)
		o.logger.Warn("clustering attempt failed", fields...)
	}

	o.fallbackCounter.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int("attempts", maxAttempts),
		attribute.Bool("fallback", true),
	)
	o.logger.Warn("clustering unavailable, using keyword frequency fallback",
		append(logging.ContextFields(ctx), zap.Int("pages", len(pages)))...)
	return keywords.BuildFallbackResult(pages), nil
}
