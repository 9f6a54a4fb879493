package tasks

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLen  = 200
	maxSteps    = 100
	dateLayout  = "2006-01-02"
	maxIconRune = 16
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when caller input is malformed. It is
// detected before any remote call is made.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the input and returns a *ValidationError listing every
// problem, or nil.
func (in CreateTaskInput) Validate() error {
	verr := &ValidationError{}

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		verr.add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLen:
		verr.add("name", "must be at most %d characters", maxNameLen)
	}

	if utf8.RuneCountInString(in.Icon) > maxIconRune {
		verr.add("icon", "must be at most %d characters", maxIconRune)
	}
	if in.Color != "" && !in.Color.Valid() {
		verr.add("color", "unknown color %q", in.Color)
	}
	if in.DefaultFrequency != "" && !in.DefaultFrequency.Valid() {
		verr.add("defaultFrequency", "must be daily, weekly or custom")
	}

	if in.Repeat != nil {
		validateRepeat(verr, in.Repeat)
	}

	if len(in.Steps) > maxSteps {
		verr.add("steps", "at most %d steps are allowed", maxSteps)
	}
	for i, s := range in.Steps {
		if strings.TrimSpace(s.Name) == "" {
			verr.add(fmt.Sprintf("steps[%d].name", i), "is required")
		}
	}

	if in.Date == "" {
		verr.add("date", "is required")
	} else if !isDate(in.Date) {
		verr.add("date", "must be YYYY-MM-DD")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateRepeat(verr *ValidationError, r *RepeatOptions) {
	if r.Frequency != "" && !r.Frequency.Valid() {
		verr.add("repeat.frequency", "must be daily, weekly or custom")
	}
	seen := make(map[Weekday]bool, len(r.Weekdays))
	for _, d := range r.Weekdays {
		if !d.Valid() {
			verr.add("repeat.weekdays", "unknown weekday %q", d)
			continue
		}
		if seen[d] {
			verr.add("repeat.weekdays", "duplicate weekday %q", d)
		}
		seen[d] = true
	}
	if r.EndDate != "" && !isDate(r.EndDate) {
		verr.add("repeat.endDate", "must be YYYY-MM-DD")
	}
	if r.Count != 0 && (r.Count < 1 || r.Count > MaxRepeatCount) {
		verr.add("repeat.count", "must be between 1 and %d", MaxRepeatCount)
	}
}

func isDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
