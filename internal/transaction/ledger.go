package transaction

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
)

// ArchiveReport is the outcome of a compensation pass.
type ArchiveReport struct {
	// ArchivedIDs lists every id an archive was attempted for, whether or
	// not it succeeded.
	ArchivedIDs    []string
	FailedIDs      []string
	PartialCleanup bool
}

// Ledger archives records created by an aborted transaction.
type Ledger struct {
	backend  storage.Backend
	logger   *zap.Logger
	failures metric.Int64Counter
}

func newLedger(backend storage.Backend, logger *zap.Logger, failures metric.Int64Counter) *Ledger {
	return &Ledger{backend: backend, logger: logger, failures: failures}
}

// ArchivePages archives ids one at a time in order. Failures are logged and
// reported through PartialCleanup, never returned.
func (l *Ledger) ArchivePages(ctx context.Context, ids []string) ArchiveReport {
	report := ArchiveReport{ArchivedIDs: make([]string, 0, len(ids))}

	for _, id := range ids {
		report.ArchivedIDs = append(report.ArchivedIDs, id)
		if err := l.backend.ArchiveRecord(ctx, id); err != nil {
			report.FailedIDs = append(report.FailedIDs, id)
			report.PartialCleanup = true
			if l.failures != nil {
				l.failures.Add(ctx, 1)
			}
			l.logger.Warn("failed to archive record during rollback",
				append(logging.ContextFields(ctx), zap.String("record_id", id), zap.Error(err))...)
		}
	}
	return report
}
