package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is one step of the treatment pipeline list view.
type Stage int

const (
	StageReception Stage = iota
	StageNurse
	StageDoctor
	StageTreatment

	stageCount
)

// ErrUnknownStage is returned when a stage identifier from outside the
// process does not name a stage.
var ErrUnknownStage = errors.New("unknown pipeline stage")

const displayLayout = "02/01/2006 15:04"

type stageDef struct {
	id            string
	title         string
	discriminator string
	temporal      TemporalFields
	columns       []Column
}

var stages = [stageCount]stageDef{
	StageReception: {
		id:            "reception",
		title:         "Reception",
		discriminator: "checked_in",
		temporal: TemporalFields{
			Absolute:     "checkin_at",
			DateKeys:     []string{"checkin_date", "created_at"},
			TimeOfDay:    "checkin_time",
			Preformatted: "checkin_label",
		},
		columns: []Column{
			field("customer_name", "Customer"),
			field("customer_phone", "Phone"),
			when("checkin", "Check-in"),
			field("lead_source", "Lead source"),
			field("note", "Note"),
		},
	},
	StageNurse: {
		id:            "nurse",
		title:         "Nurse",
		discriminator: "vitals",
		temporal: TemporalFields{
			DateKeys:  []string{"visit_date", "created_at"},
			TimeOfDay: "visit_time",
		},
		columns: []Column{
			field("customer_name", "Customer"),
			field("nurse_name", "Nurse"),
			when("visit", "Visit"),
			field("note", "Note"),
		},
	},
	StageDoctor: {
		id:            "doctor",
		title:         "Doctor",
		discriminator: "consultation",
		temporal: TemporalFields{
			Absolute:     "consulted_at",
			DateKeys:     []string{"appointment_date", "created_at"},
			TimeOfDay:    "appointment_time",
			Preformatted: "appointment_label",
		},
		columns: []Column{
			field("customer_name", "Customer"),
			field("doctor_name", "Doctor"),
			when("appointment", "Appointment"),
			field("note", "Note"),
		},
	},
	StageTreatment: {
		id:            "treatment",
		title:         "Treatment",
		discriminator: "in_treatment",
		temporal: TemporalFields{
			DateKeys:     []string{"session_date", "plan_date", "created_at"},
			TimeOfDay:    "session_time",
			Preformatted: "schedule_label",
		},
		columns: []Column{
			field("customer_name", "Customer"),
			field("doctor_name", "Doctor"),
			field("plan_type", "Plan"),
			field("plan_status", "Status"),
			when("session", "Session"),
			field("note", "Note"),
		},
	},
}

func field(key, title string) Column {
	return Column{Key: key, Title: title, value: func(row NormalizedRow, _ *time.Location) string {
		return row.Record.String(key)
	}}
}

// when renders the row's time for humans. The upstream preformatted string
// wins when present; it never affects ordering.
func when(key, title string) Column {
	return Column{Key: key, Title: title, value: displayTime}
}

func displayTime(row NormalizedRow, loc *time.Location) string {
	if row.Temporal.Preformatted != "" {
		return row.Temporal.Preformatted
	}
	if row.Instant == nil {
		return ""
	}
	if loc == nil {
		return row.Instant.Format(displayLayout)
	}
	return row.Instant.In(loc).Format(displayLayout)
}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, stageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// ParseStage resolves a stage identifier such as "nurse".
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := range stages {
		if stages[i].id == s {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

func (s Stage) def() *stageDef {
	if s < 0 || s >= stageCount {
		panic(fmt.Sprintf("pipeline: stage %d out of range", int(s)))
	}
	return &stages[s]
}

// String returns the stage identifier.
func (s Stage) String() string { return s.def().id }

// Title returns the human label of the stage.
func (s Stage) Title() string { return s.def().title }

// Discriminator is the value sent upstream to select this stage's records.
func (s Stage) Discriminator() string { return s.def().discriminator }

// Columns returns the stage's projection in display order.
func (s Stage) Columns() []Column {
	cols := s.def().columns
	out := make([]Column, len(cols))
	copy(out, cols)
	return out
}

// Project shapes a normalized row for display with this stage's columns.
func (s Stage) Project(row NormalizedRow, loc *time.Location) ProjectedRow {
	return s.project(s.def(), row, loc)
}

func (s Stage) project(def *stageDef, row NormalizedRow, loc *time.Location) ProjectedRow {
	cells := make([]string, len(def.columns))
	for i, c := range def.columns {
		cells[i] = c.value(row, loc)
	}
	return ProjectedRow{Key: RowKey(row.Record), Cells: cells}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// RowKey derives a stable row key. Some feeds omit the id, in which case the
// customer name and phone stand in.
func RowKey(r Record) string {
	if id := r.String("id"); id != "" {
		return id
	}
	return r.String("customer_name") + "|" + r.String("customer_phone")
}
