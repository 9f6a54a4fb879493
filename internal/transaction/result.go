// Package transaction creates a task template, its flow steps and a first
// instance as one unit across collections that have no multi-record
// transactions. A failed unit is compensated by archiving what was created.
package transaction

import "fmt"

// Result is either *Success or *Failure.
type Result interface {
	isResult()
}

// Success lists the ids of every record created. CleanupIDs is always empty.
type Success struct {
	TemplateID     string   `json:"templateId"`
	StepIDs        []string `json:"stepIds"`
	InstanceID     string   `json:"instanceId"`
	CleanupIDs     []string `json:"cleanupIds"`
	PartialCleanup bool     `json:"partialCleanup"`
}

func (*Success) isResult() {}

// FailureKind names the stage that failed.
type FailureKind string

const (
	TemplateCreationFailed FailureKind = "template_creation_failed"
	StepCreationFailed     FailureKind = "step_creation_failed"
	InstanceCreationFailed FailureKind = "instance_creation_failed"
)

// Message is the user-facing message for k.
func (k FailureKind) Message() string {
	switch k {
	case TemplateCreationFailed:
		return "Failed to create task template"
	case StepCreationFailed:
		return "Failed to create flow steps"
	case InstanceCreationFailed:
		return "Failed to create task instance"
	default:
		return "Failed to create task"
	}
}

// Failure describes an aborted transaction. CleanupIDs lists every id an
// archive was attempted for, in creation order. PartialCleanup is set when
// at least one of those archives failed.
type Failure struct {
	Kind           FailureKind `json:"kind"`
	Message        string      `json:"message"`
	CleanupIDs     []string    `json:"cleanupIds"`
	PartialCleanup bool        `json:"partialCleanup"`
	Cause          error       `json:"-"`
}

func (*Failure) isResult() {}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return f.Message
	}
	return fmt.Sprintf("%s: %v", f.Message, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}
