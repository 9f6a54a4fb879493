package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
)

// Property names shared by the collections.
const (
	propName             = "Name"
	propIcon             = "Icon"
	propColor            = "Color"
	propIsRepeating      = "IsRepeating"
	propDefaultFrequency = "DefaultFrequency"
	propRepeatFrequency  = "RepeatFrequency"
	propRepeatWeekdays   = "RepeatWeekdays"
	propRepeatEndDate    = "RepeatEndDate"
	propRepeatCount      = "RepeatCount"
	propActive           = "Active"
	propOrder            = "Order"
	propTemplate         = "Template"
	propDone             = "Done"
	propDate             = "Date"
	propStatus           = "Status"
	propCurrentStep      = "CurrentStep"
	propCompletedSteps   = "CompletedSteps"
	propCreatedAt        = "CreatedAt"
)

// TemplateCreator writes task templates.
type TemplateCreator struct {
	backend storage.Backend
}

func NewTemplateCreator(backend storage.Backend) *TemplateCreator {
	return &TemplateCreator{backend: backend}
}

// Create writes the template record for in and returns its id.
func (c *TemplateCreator) Create(ctx context.Context, db string, in tasks.CreateTaskInput) (string, error) {
	id, err := c.backend.CreateRecord(ctx, db, TemplateFields(in))
	if err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}
	return id, nil
}

// TemplateFields maps in to template properties. Unset repeat options are
// absent.
func TemplateFields(in tasks.CreateTaskInput) storage.Fields {
	f := storage.Fields{
		propName:             storage.Title(strings.TrimSpace(in.Name)),
		propIcon:             storage.Text(in.IconOrDefault()),
		propColor:            storage.Select(string(in.ColorOrDefault())),
		propIsRepeating:      storage.Checkbox(in.IsRepeating),
		propDefaultFrequency: storage.Select(string(in.FrequencyOrDefault())),
		propActive:           storage.Checkbox(true),
	}

	if in.IsRepeating {
		freq := in.FrequencyOrDefault()
		if in.Repeat != nil && in.Repeat.Frequency != "" {
			freq = in.Repeat.Frequency
		}
		f[propRepeatFrequency] = storage.Select(string(freq))
	}

	if r := in.Repeat; r != nil {
		if len(r.Weekdays) > 0 {
			days := make([]string, len(r.Weekdays))
			for i, d := range r.Weekdays {
				days[i] = string(d)
			}
			f[propRepeatWeekdays] = storage.MultiSelect(days...)
		}
		if r.EndDate != "" {
			f[propRepeatEndDate] = storage.Date(r.EndDate)
		}
		if r.Count > 0 {
			f[propRepeatCount] = storage.Number(float64(r.Count))
		}
	}
	return f
}

// StepCreator writes flow steps.
type StepCreator struct {
	backend storage.Backend
}

func NewStepCreator(backend storage.Backend) *StepCreator {
	return &StepCreator{backend: backend}
}

// Create writes one step owned by templateID and returns its id.
func (c *StepCreator) Create(ctx context.Context, db, templateID string, step tasks.OrderedStep) (string, error) {
	id, err := c.backend.CreateRecord(ctx, db, StepFields(templateID, step))
	if err != nil {
		return "", fmt.Errorf("create step %d: %w", step.Order, err)
	}
	return id, nil
}

func StepFields(templateID string, step tasks.OrderedStep) storage.Fields {
	return storage.Fields{
		propName:     storage.Title(strings.TrimSpace(step.Name)),
		propOrder:    storage.Number(float64(step.Order)),
		propTemplate: storage.Relation(templateID),
		propDone:     storage.Checkbox(false),
	}
}

// InstanceCreator writes task instances.
type InstanceCreator struct {
	backend storage.Backend
	now     storage.Clock
}

func NewInstanceCreator(backend storage.Backend, now storage.Clock) *InstanceCreator {
	if now == nil {
		now = time.Now
	}
	return &InstanceCreator{backend: backend, now: now}
}

// InstanceInput identifies the template an instance belongs to.
type InstanceInput struct {
	TemplateID   string
	TemplateName string
	StepIDs      []string
	Date         string // local YYYY-MM-DD
}

// Create normalizes the date and writes a todo instance, returning its id.
func (c *InstanceCreator) Create(ctx context.Context, db string, in InstanceInput) (string, error) {
	fields, err := InstanceFields(in, c.now())
	if err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	id, err := c.backend.CreateRecord(ctx, db, fields)
	if err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	return id, nil
}

// InstanceFields maps in to instance properties. The first step, when
// present, becomes the current step.
func InstanceFields(in InstanceInput, createdAt time.Time) (storage.Fields, error) {
	date, err := tasks.NormalizeDate(in.Date)
	if err != nil {
		return nil, err
	}

	f := storage.Fields{
		propName:           storage.Title(strings.TrimSpace(in.TemplateName) + " " + in.Date),
		propTemplate:       storage.Relation(in.TemplateID),
		propDate:           storage.Date(date),
		propStatus:         storage.Select(string(tasks.StatusTodo)),
		propCompletedSteps: storage.Relation(),
		propCreatedAt:      storage.Date(tasks.FormatInstant(createdAt)),
	}
	if len(in.StepIDs) > 0 {
		f[propCurrentStep] = storage.Relation(in.StepIDs[0])
	}
	return f, nil
}
