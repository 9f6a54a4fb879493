// Package steps updates flow step progress.
package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
)

// ErrEmptyStepID is returned when SetDone is called without a step id.
var ErrEmptyStepID = errors.New("step id is required")

// Service marks flow steps done or not done.
type Service struct {
	backend storage.Backend
	logger  *zap.Logger
}

func NewService(backend storage.Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, logger: logger}
}

// SetDone writes the Done checkbox of step stepID.
func (s *Service) SetDone(ctx context.Context, stepID string, done bool) error {
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return ErrEmptyStepID
	}

	if err := s.backend.UpdateRecord(ctx, stepID, storage.Fields{"Done": storage.Checkbox(done)}); err != nil {
		return fmt.Errorf("set step %s done=%t: %w", stepID, done, err)
	}

	s.logger.Debug("step updated",
		append(logging.ContextFields(ctx), zap.String("step_id", stepID), zap.Bool("done", done))...)
	return nil
}
