package tasks

import (
	"fmt"
	"time"
)

// InstantLayout is the storage representation of dates and timestamps.
const InstantLayout = "2006-01-02T15:04:05.000Z"

// AssignStepOrders numbers steps 1..N in input order. Orders are never
// taken from the caller.
func AssignStepOrders(steps []StepInput) []OrderedStep {
	out := make([]OrderedStep, len(steps))
	for i, s := range steps {
		out[i] = OrderedStep{Name: s.Name, Order: i + 1}
	}
	return out
}

// NormalizeDate turns a local YYYY-MM-DD date into the UTC-midnight instant
// "YYYY-MM-DDT00:00:00.000Z".
func NormalizeDate(date string) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.UTC().Format(InstantLayout), nil
}

// FormatInstant renders t in UTC with millisecond precision.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}
