// Package scheduler implements the cron evaluator and task scheduler:
// six-field cron expressions pre-parsed into bitmaps with a
// carry-propagating next-fire search, and a single dispatch loop with
// cooperative cancellation that never overlaps runs of the same task.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	kerrors "katalyst/internal/errors"
)

// yearSearchCap bounds how far ahead Next() will search before raising
// CronNoFutureMatchError.
const yearSearchCap = 8

// Schedule is a parsed, six-field cron expression: sec, min, hour,
// day-of-month, month, day-of-week, pre-parsed into sorted bitmaps of
// legal values.
type Schedule struct {
	second  [60]bool
	minute  [60]bool
	hour    [24]bool
	dom     [32]bool // index 1..31
	month   [13]bool // index 1..12
	dow     [7]bool  // 0=Sunday..6=Saturday
	domWild bool     // dom field was "?"
	dowWild bool     // dow field was "?"
	Expr    string
}

// Parse compiles a six-field cron expression ("sec min hour dom month
// dow"). Day-of-month and day-of-week may each use `?` to mean "don't
// care"; both may not be `?`.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return nil, kerrors.NewConfigurationError(
			fmt.Sprintf("cron expression %q must have exactly 6 fields, got %d", expr, len(fields)), nil)
	}

	s := &Schedule{Expr: expr}
	var err error

	if err = parseStandardField(fields[0], 0, 59, s.second[:]); err != nil {
		return nil, wrapFieldErr(expr, "second", err)
	}
	if err = parseStandardField(fields[1], 0, 59, s.minute[:]); err != nil {
		return nil, wrapFieldErr(expr, "minute", err)
	}
	if err = parseStandardField(fields[2], 0, 23, s.hour[:]); err != nil {
		return nil, wrapFieldErr(expr, "hour", err)
	}

	domTok, dowTok := fields[3], fields[5]
	if domTok == "?" {
		s.domWild = true
	} else if err = parseStandardField(domTok, 1, 31, s.dom[:]); err != nil {
		return nil, wrapFieldErr(expr, "day-of-month", err)
	}
	if err = parseStandardField(fields[4], 1, 12, s.month[:]); err != nil {
		return nil, wrapFieldErr(expr, "month", err)
	}
	if dowTok == "?" {
		s.dowWild = true
	} else if err = parseStandardField(dowTok, 0, 6, s.dow[:]); err != nil {
		return nil, wrapFieldErr(expr, "day-of-week", err)
	}

	if s.domWild && s.dowWild {
		return nil, kerrors.NewConfigurationError(
			fmt.Sprintf("cron expression %q: day-of-month and day-of-week cannot both be '?'", expr), nil)
	}
	if s.domWild {
		for d := 1; d <= 31; d++ {
			s.dom[d] = true
		}
	}
	if s.dowWild {
		for d := 0; d <= 6; d++ {
			s.dow[d] = true
		}
	}

	return s, nil
}

func wrapFieldErr(expr, field string, cause error) error {
	return kerrors.NewConfigurationError(fmt.Sprintf("cron expression %q: invalid %s field", expr, field), cause)
}

// parseStandardField parses a comma-separated list of wildcard/list/
// range/step tokens into bitmap, whose valid index range is [min, max].
func parseStandardField(token string, min, max int, bitmap []bool) error {
	for _, part := range strings.Split(token, ",") {
		if err := parseFieldPart(part, min, max, bitmap); err != nil {
			return err
		}
	}
	return nil
}

func parseFieldPart(part string, min, max int, bitmap []bool) error {
	rangeSpec, step, err := splitStep(part)
	if err != nil {
		return err
	}

	var lo, hi int
	switch {
	case rangeSpec == "*":
		lo, hi = min, max
	case strings.Contains(rangeSpec, "-"):
		bounds := strings.SplitN(rangeSpec, "-", 2)
		lo, err = strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid range start %q: %w", bounds[0], err)
		}
		hi, err = strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("invalid range end %q: %w", bounds[1], err)
		}
	default:
		v, err := strconv.Atoi(rangeSpec)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", rangeSpec, err)
		}
		lo, hi = v, v
		if step > 1 {
			hi = max
		}
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value %d-%d out of range [%d,%d]", lo, hi, min, max)
	}
	for v := lo; v <= hi; v += step {
		bitmap[v] = true
	}
	return nil
}

func splitStep(part string) (rangeSpec string, step int, err error) {
	if !strings.Contains(part, "/") {
		return part, 1, nil
	}
	pieces := strings.SplitN(part, "/", 2)
	step, err = strconv.Atoi(pieces[1])
	if err != nil || step <= 0 {
		return "", 0, fmt.Errorf("invalid step %q", pieces[1])
	}
	return pieces[0], step, nil
}

// dayMatches reports whether t's calendar day satisfies both the
// day-of-month and day-of-week fields, combined with AND.
func (s *Schedule) dayMatches(t time.Time) bool {
	return s.dom[t.Day()] && s.dow[int(t.Weekday())]
}

// Next returns the smallest instant strictly after t (in loc's local
// civil time) admitted by all six fields. It raises
// CronNoFutureMatchError if no match exists within yearSearchCap years.
func (s *Schedule) Next(t time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc).Truncate(time.Second).Add(time.Second)
	limit := t.AddDate(yearSearchCap, 0, 0)

	for t.Before(limit) {
		if !s.month[int(t.Month())] {
			t = firstOfNextMonth(t, loc)
			continue
		}
		if !s.dayMatches(t) {
			t = startOfNextDay(t, loc)
			continue
		}
		if !s.hour[t.Hour()] {
			t = startOfNextHour(t, loc)
			continue
		}
		if !s.minute[t.Minute()] {
			t = startOfNextMinute(t, loc)
			continue
		}
		if !s.second[t.Second()] {
			t = t.Add(time.Second)
			continue
		}
		return t, nil
	}
	return time.Time{}, kerrors.NewCronNoFutureMatch(s.Expr)
}

func firstOfNextMonth(t time.Time, loc *time.Location) time.Time {
	y, m, _ := t.Date()
	if m == time.December {
		return time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	}
	return time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
}

func startOfNextDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func startOfNextHour(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour()+1, 0, 0, 0, loc)
}

func startOfNextMinute(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute()+1, 0, 0, loc)
}
