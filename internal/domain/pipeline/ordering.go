package pipeline

import (
	"slices"
	"time"
)

// IsSameCalendarDay reports whether instant falls on now's calendar day, in
// now's location.
func IsSameCalendarDay(instant *time.Time, now time.Time) bool {
	if instant == nil {
		return false
	}
	y1, m1, d1 := instant.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Normalize derives the sort key of a record for the given stage.
func Normalize(stage Stage, r Record, now time.Time, loc *time.Location) NormalizedRow {
	t := stage.def().temporal.Extract(r)
	instant := DeriveInstant(t, loc)
	return NormalizedRow{
		Record:   r,
		Temporal: t,
		Instant:  instant,
		IsToday:  IsSameCalendarDay(instant, now),
	}
}

// CompareRows orders today's rows first, then most recent first. Rows without
// an instant sort last within their group.
func CompareRows(a, b NormalizedRow) int {
	if a.IsToday != b.IsToday {
		if a.IsToday {
			return -1
		}
		return 1
	}
	switch {
	case a.Instant == nil && b.Instant == nil:
		return 0
	case a.Instant == nil:
		return 1
	case b.Instant == nil:
		return -1
	}
	return b.Instant.Compare(*a.Instant)
}

// SortRows sorts rows in place. Rows with equal keys keep their input order.
func SortRows(rows []NormalizedRow) {
	slices.SortStableFunc(rows, CompareRows)
}

// BuildTable normalizes, orders and projects records for a stage. The live
// view and the export both go through here.
func BuildTable(stage Stage, records []Record, now time.Time, loc *time.Location) Table {
	def := stage.def()
	if loc == nil {
		loc = now.Location()
	}

	rows := make([]NormalizedRow, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		rows = append(rows, Normalize(stage, r, now, loc))
	}
	SortRows(rows)

	projected := make([]ProjectedRow, len(rows))
	for i, row := range rows {
		projected[i] = stage.project(def, row, loc)
	}
	return Table{
		Stage:   stage,
		Columns: slices.Clone(def.columns),
		Rows:    projected,
	}
}
