package model

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Day keeps the calendar date of t (in t's own location) at UTC midnight
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// MustDay is ParseDay for literals
func MustDay(s string) time.Time {
	t, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// DateRange is inclusive on both ends, a zero bound is open
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: Day(from), To: Day(to)}
}

// AllDates is the unbounded range
func AllDates() DateRange {
	return DateRange{}
}

// Since is the range from day onwards
func Since(day time.Time) DateRange {
	return DateRange{From: Day(day)}
}

func (r DateRange) Valid() bool {
	return r.From.IsZero() || r.To.IsZero() || !r.To.Before(r.From)
}

func (r DateRange) Contains(day time.Time) bool {
	if !r.From.IsZero() && day.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && day.After(r.To) {
		return false
	}
	return true
}

// Overlaps reports whether [start, end) shares a day with the range
func (r DateRange) Overlaps(start, end time.Time) bool {
	if !r.From.IsZero() && !end.After(r.From) {
		return false
	}
	if !r.To.IsZero() && start.After(r.To) {
		return false
	}
	return true
}

// Covers reports whether every day of [start, end) is inside the range
func (r DateRange) Covers(start, end time.Time) bool {
	if !r.From.IsZero() && start.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && end.After(r.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	from, to := "-inf", "+inf"
	if !r.From.IsZero() {
		from = r.From.Format(DayLayout)
	}
	if !r.To.IsZero() {
		to = r.To.Format(DayLayout)
	}
	return "[" + from + ", " + to + "]"
}

// TimeRange is an inclusive range of instants, a zero bound is open
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r TimeRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ts.After(r.To) {
		return false
	}
	return true
}

// Overlaps reports whether [min, max] shares an instant with the range
func (r TimeRange) Overlaps(min, max time.Time) bool {
	if !r.From.IsZero() && max.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && min.After(r.To) {
		return false
	}
	return true
}
