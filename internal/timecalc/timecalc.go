package timecalc

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const (
	// DateLayout is the calendar date format used in CSV files and the Tempo API.
	DateLayout = "2006-01-02"
	// ClockLayout is the wall-clock format used in CSV files and the Tempo API.
	ClockLayout = "15:04:05"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
)

// FormatError reports a date or clock value that does not match the strict layout.
type FormatError struct {
	Field string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// RangeError reports an interval whose end is not after its start.
type RangeError struct {
	Start time.Time
	End   time.Time
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("end %s is not after start %s", e.End.Format(ClockLayout), e.Start.Format(ClockLayout))
}

// ParseDate parses a strict YYYY-MM-DD date at UTC midnight.
func ParseDate(date string) (time.Time, error) {
	if !datePattern.MatchString(date) {
		return time.Time{}, &FormatError{Field: "date", Value: date}
	}
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Field: "date", Value: date}
	}
	return t, nil
}

// ParseInstant combines a YYYY-MM-DD date and an HH:mm:ss clock into one instant.
// Both parts are interpreted as UTC wall time, so instants on the same date
// compare by clock alone.
func ParseInstant(date, clock string) (time.Time, error) {
	day, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	if !clockPattern.MatchString(clock) {
		return time.Time{}, &FormatError{Field: "time", Value: clock}
	}
	c, err := time.ParseInLocation(ClockLayout, clock, time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Field: "time", Value: clock}
	}
	return day.Add(time.Duration(c.Hour())*time.Hour +
		time.Duration(c.Minute())*time.Minute +
		time.Duration(c.Second())*time.Second), nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DurationHours returns end-start in hours rounded to the nearest quarter hour.
// A range that is empty, inverted, or rounds down to zero is a RangeError.
func DurationHours(start, end time.Time) (float64, error) {
	if !end.After(start) {
		return 0, &RangeError{Start: start, End: end}
	}
	h := RoundQuarter(end.Sub(start).Hours())
	if h <= 0 {
		return 0, &RangeError{Start: start, End: end}
	}
	return h, nil
}

// RoundQuarter rounds h to the nearest 0.25.
func RoundQuarter(h float64) float64 {
	return math.Round(h*4) / 4
}

// HoursToSeconds converts a (quarter-rounded) hour value to whole seconds.
func HoursToSeconds(h float64) int64 {
	return int64(math.Round(h * 3600))
}

// FormatDuration formats seconds as a human-readable string like "1h 40m" or "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// WeekRange returns the Monday and Sunday of the ISO week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // treat Sunday as 7 (ISO)
	}
	monday := StartOfDay(t.AddDate(0, 0, -(wd - 1)))
	sunday := EndOfDay(monday.AddDate(0, 0, 6))
	return monday, sunday
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfPreviousYear returns January 1st of the year before now, at UTC midnight.
func StartOfPreviousYear(now time.Time) time.Time {
	return time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// ParseDateExpr parses either a strict YYYY-MM-DD date or a natural-language
// expression such as "yesterday" or "last monday" relative to now. The result
// is the calendar day at UTC midnight.
func ParseDateExpr(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if datePattern.MatchString(expr) {
		return ParseDate(expr)
	}
	switch strings.ToLower(expr) {
	case "today", "now":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, &FormatError{Field: "date", Value: expr}
	}
	return time.Date(r.Time.Year(), r.Time.Month(), r.Time.Day(), 0, 0, 0, 0, time.UTC), nil
}
