// Package tasks defines the routine planner's domain types: task templates,
// their ordered flow steps and dated task instances.
package tasks

// Color is a template color from the fixed palette.
type Color string

const (
	ColorDefault Color = "default"
	ColorGray    Color = "gray"
	ColorBrown   Color = "brown"
	ColorOrange  Color = "orange"
	ColorYellow  Color = "yellow"
	ColorGreen   Color = "green"
	ColorBlue    Color = "blue"
	ColorPurple  Color = "purple"
	ColorPink    Color = "pink"
	ColorRed     Color = "red"
)

// Palette lists every valid Color.
var Palette = []Color{
	ColorDefault, ColorGray, ColorBrown, ColorOrange, ColorYellow,
	ColorGreen, ColorBlue, ColorPurple, ColorPink, ColorRed,
}

// Valid reports whether c is in the palette.
func (c Color) Valid() bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// Frequency is how often a template repeats.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyCustom
}

// Weekday is a lowercase three letter day name.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

func (w Weekday) Valid() bool {
	switch w {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// Status is the progress of a task instance.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// Defaults applied when the caller leaves a field empty.
const (
	DefaultIcon      = "📋"
	DefaultColor     = ColorBlue
	DefaultFrequency = FrequencyDaily

	// MaxRepeatCount bounds RepeatOptions.Count.
	MaxRepeatCount = 365
)

// RepeatOptions describes how a repeating template recurs. Zero values mean
// "not set" and are omitted from storage.
type RepeatOptions struct {
	Frequency Frequency `json:"frequency"`
	Weekdays  []Weekday `json:"weekdays,omitempty"`
	EndDate   string    `json:"endDate,omitempty"` // YYYY-MM-DD
	Count     int       `json:"count,omitempty"`
}

// StepInput is a flow step as supplied by the caller, without an order.
type StepInput struct {
	Name string `json:"name"`
}

// OrderedStep is a StepInput with its 1-based position assigned.
type OrderedStep struct {
	Name  string
	Order int
}

// CreateTaskInput is everything needed to create a template, its steps and
// the first instance.
type CreateTaskInput struct {
	Name             string         `json:"name"`
	Icon             string         `json:"icon,omitempty"`
	Color            Color          `json:"color,omitempty"`
	IsRepeating      bool           `json:"isRepeating"`
	DefaultFrequency Frequency      `json:"defaultFrequency,omitempty"`
	Repeat           *RepeatOptions `json:"repeat,omitempty"`
	Steps            []StepInput    `json:"steps,omitempty"`
	Date             string         `json:"date"` // local YYYY-MM-DD
}

// IconOrDefault returns the icon, or DefaultIcon when empty.
func (in CreateTaskInput) IconOrDefault() string {
	if in.Icon == "" {
		return DefaultIcon
	}
	return in.Icon
}

// ColorOrDefault returns the color, or DefaultColor when empty.
func (in CreateTaskInput) ColorOrDefault() Color {
	if in.Color == "" {
		return DefaultColor
	}
	return in.Color
}

// FrequencyOrDefault returns the default frequency, or daily when empty.
func (in CreateTaskInput) FrequencyOrDefault() Frequency {
	if in.DefaultFrequency == "" {
		return DefaultFrequency
	}
	return in.DefaultFrequency
}
