package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateToken = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Layouts accepted for an absolute instant. Zone-less layouts are read in the
// clinic location.
var (
	zonedLayouts = []string{time.RFC3339Nano, time.RFC3339}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

const composedLayout = "2006-01-02T15:04:05"

// DeriveInstant computes the canonical point in time of a record. It returns
// nil when no usable time information exists; it never panics.
func DeriveInstant(t Temporal, loc *time.Location) *time.Time {
	if loc == nil {
		loc = time.Local
	}

	if ts, ok := parseAbsolute(t.Absolute, loc); ok {
		return &ts
	}

	datePart := ""
	for _, c := range t.DateCandidates {
		if tok := dateToken.FindString(c); tok != "" {
			datePart = tok
			break
		}
	}
	if datePart == "" {
		return nil
	}

	ts, err := time.ParseInLocation(composedLayout, datePart+"T"+normalizeTimeOfDay(t.TimeOfDay)+":00", loc)
	if err != nil {
		return nil
	}
	return &ts
}

func parseAbsolute(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// normalizeTimeOfDay reduces a free-form time to HH:MM. Fewer than two
// components, or components that are not a clock time, yield "00:00".
func normalizeTimeOfDay(s string) string {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return "00:00"
	}
	h, okH := clockComponent(parts[0], 23)
	m, okM := clockComponent(parts[1], 59)
	if !okH || !okM {
		return "00:00"
	}
	return twoDigits(h) + ":" + twoDigits(m)
}

func clockComponent(s string, limit int) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n <= limit
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
