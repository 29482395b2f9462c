package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one loosely-structured workflow record as received from the
// upstream feed. Field names differ per stage; see TemporalFields.
type Record map[string]any

// String returns the value at key rendered as a trimmed string. Absent keys,
// nil values and nested objects yield "".
func (r Record) String(key string) string {
	if r == nil || key == "" {
		return ""
	}
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Temporal is the time-related view of a Record for one stage.
type Temporal struct {
	Absolute       string
	DateCandidates []string
	TimeOfDay      string
	Preformatted   string
}

// TemporalFields names the payload keys a stage's upstream resource uses for
// its time information.
type TemporalFields struct {
	Absolute     string
	DateKeys     []string
	TimeOfDay    string
	Preformatted string
}

// Extract pulls the Temporal view out of a record.
func (f TemporalFields) Extract(r Record) Temporal {
	t := Temporal{
		Absolute:     r.String(f.Absolute),
		TimeOfDay:    r.String(f.TimeOfDay),
		Preformatted: r.String(f.Preformatted),
	}
	if len(f.DateKeys) > 0 {
		t.DateCandidates = make([]string, 0, len(f.DateKeys))
		for _, k := range f.DateKeys {
			t.DateCandidates = append(t.DateCandidates, r.String(k))
		}
	}
	return t
}

// NormalizedRow is a record paired with its derived sort key. It depends on
// "now" and must be rebuilt whenever now changes.
type NormalizedRow struct {
	Record   Record
	Temporal Temporal
	Instant  *time.Time
	IsToday  bool
}

// Column is one projected, displayable field of a stage.
type Column struct {
	Key   string `json:"key"`
	Title string `json:"title"`

	value func(row NormalizedRow, loc *time.Location) string
}

// ProjectedRow is a row shaped for the table renderer or the export encoder.
// Cells are ordered exactly like the stage's columns.
type ProjectedRow struct {
	Key   string   `json:"key"`
	Cells []string `json:"cells"`
}

// Table is the ordered, projected result for one stage.
type Table struct {
	Stage   Stage          `json:"stage"`
	Columns []Column       `json:"columns"`
	Rows    []ProjectedRow `json:"rows"`
}

// Header returns the column titles in projection order.
func (t Table) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Title
	}
	return h
}

// Query is what the view asks of the feed.
type Query struct {
	Page          int
	PageSize      int
	Discriminator string
	Search        string
}

// Offset returns the zero-based offset of the query's page.
func (q Query) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}

// Page is one page of upstream results.
type Page struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
}
