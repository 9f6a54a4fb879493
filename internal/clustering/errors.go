package clustering

import "github.com/fyrsmithlabs/taskflow/internal/keywords"

// ConfigError reports missing or unusable clustering configuration. It is
// never retried and never replaced by a fallback result. Message is shown
// to callers as-is.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// ErrSchemaViolation is wrapped by errors for model output that fails
// validation. Such failures are retryable.
var ErrSchemaViolation = keywords.ErrSchemaViolation

var errMissingAPIKey = &ConfigError{Message: "clustering API key is not configured"}
