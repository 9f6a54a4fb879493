package transaction

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
)

const instrumentationName = "github.com/fyrsmithlabs/taskflow/internal/transaction"

// Coordinator runs the template, steps, instance sequence.
type Coordinator struct {
	templates *TemplateCreator
	steps     *StepCreator
	instances *InstanceCreator
	ledger    *Ledger
	logger    *zap.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	clock          storage.Clock

	tracer          trace.Tracer
	resultCounter   metric.Int64Counter
	archiveFailures metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) { c.meterProvider = mp }
}

// WithClock sets the clock used for instance creation timestamps.
func WithClock(clock storage.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator returns a coordinator writing through backend.
func NewCoordinator(backend storage.Backend, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:         logger,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	c.initMetrics(c.meterProvider.Meter(instrumentationName))

	c.templates = NewTemplateCreator(backend)
	c.steps = NewStepCreator(backend)
	c.instances = NewInstanceCreator(backend, c.clock)
	c.ledger = newLedger(backend, logger, c.archiveFailures)
	return c
}

func (c *Coordinator) initMetrics(meter metric.Meter) {
	var err error

	c.resultCounter, err = meter.Int64Counter(
		"taskflow.transaction.results_total",
		metric.WithDescription("Total number of task creation transactions by outcome"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		c.logger.Warn("failed to create result counter", zap.Error(err))
	}

	c.archiveFailures, err = meter.Int64Counter(
		"taskflow.transaction.archive_failures_total",
		metric.WithDescription("Total number of rollback archive calls that failed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		c.logger.Warn("failed to create archive failure counter", zap.Error(err))
	}
}

// CreateTaskWithTemplate creates the template, then each step in input
// order, then the instance. Creation stops at the first failure and every
// record created so far is archived. Cancelling ctx does not interrupt a
// transaction that has started.
func (c *Coordinator) CreateTaskWithTemplate(ctx context.Context, input tasks.CreateTaskInput, dbs storage.DatabaseIDs) Result {
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "transaction.create_task")
	defer span.End()
	span.SetAttributes(attribute.Int("step_count", len(input.Steps)))

	templateID, err := c.templates.Create(ctx, dbs.Templates, input)
	if err != nil {
		return c.abort(ctx, span, TemplateCreationFailed, err, nil)
	}

	stepIDs := make([]string, 0, len(input.Steps))
	for _, step := range tasks.AssignStepOrders(input.Steps) {
		id, err := c.steps.Create(ctx, dbs.Steps, templateID, step)
		if err != nil {
			span.SetAttributes(attribute.Int("failed_step", step.Order))
			cleanup := append([]string{templateID}, stepIDs...)
			return c.abort(ctx, span, StepCreationFailed, err, cleanup)
		}
		stepIDs = append(stepIDs, id)
	}

	instanceID, err := c.instances.Create(ctx, dbs.Instances, InstanceInput{
		TemplateID:   templateID,
		TemplateName: input.Name,
		StepIDs:      stepIDs,
		Date:         input.Date,
	})
	if err != nil {
		cleanup := append([]string{templateID}, stepIDs...)
		return c.abort(ctx, span, InstanceCreationFailed, err, cleanup)
	}

	c.resultCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	span.SetAttributes(attribute.String("outcome", "success"), attribute.String("template_id", templateID))
	c.logger.Info("task created",
		append(logging.ContextFields(ctx),
			zap.String("template_id", templateID),
			zap.Int("steps", len(stepIDs)),
			zap.String("instance_id", instanceID),
		)...)

	return &Success{
		TemplateID: templateID,
		StepIDs:    stepIDs,
		InstanceID: instanceID,
		CleanupIDs: []string{},
	}
}

func (c *Coordinator) abort(ctx context.Context, span trace.Span, kind FailureKind, cause error, cleanup []string) *Failure {
	span.RecordError(cause)
	span.SetStatus(codes.Error, kind.Message())

	report := c.ledger.ArchivePages(ctx, cleanup)

	span.SetAttributes(
		attribute.String("outcome", string(kind)),
		attribute.Int("cleanup_count", len(report.ArchivedIDs)),
		attribute.Bool("partial_cleanup", report.PartialCleanup),
	)
	c.resultCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(kind))))
	c.logger.Error("task creation rolled back",
		append(logging.ContextFields(ctx),
			zap.String("kind", string(kind)),
			zap.Strings("cleanup_ids", report.ArchivedIDs),
			zap.Strings("failed_archive_ids", report.FailedIDs),
			zap.Bool("partial_cleanup", report.PartialCleanup),
			zap.Error(cause),
		)...)

	return &Failure{
		Kind:           kind,
		Message:        kind.Message(),
		CleanupIDs:     report.ArchivedIDs,
		PartialCleanup: report.PartialCleanup,
		Cause:          cause,
	}
}
