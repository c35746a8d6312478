// Package schedule validates refresh schedules and renders them for people.
//
// A schedule is stored as a free-form JSON object so clients get back
// exactly what they sent:
//
//	{"interval": 3600, "time": "10:00", "day_of_week": "Monday", "until": "2026-01-31"}
//
// interval is a number of seconds (a number or a numeric string); a missing
// or null interval means the query is never refreshed automatically.
package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Never   = "Never"
	Minutes = "minute(s)"
	Hours   = "hour(s)"
	Days    = "day(s)"
	Weeks   = "week(s)"
)

var weekdays = map[string]bool{
	"Sunday": true, "Monday": true, "Tuesday": true, "Wednesday": true,
	"Thursday": true, "Friday": true, "Saturday": true,
}

// Validate checks the known keys of a schedule, with or without an
// interval. Unknown keys are kept as-is.
func Validate(s map[string]any) error {
	if len(s) == 0 {
		return nil
	}

	if _, _, err := Interval(s); err != nil {
		return err
	}

	if v, ok := s["time"]; ok && v != nil {
		str, isString := v.(string)
		if !isString {
			return fmt.Errorf("schedule time must be a string, got %T", v)
		}
		if _, err := time.Parse("15:04", str); err != nil {
			return fmt.Errorf("schedule time %q must be HH:MM", str)
		}
	}

	if v, ok := s["day_of_week"]; ok && v != nil {
		str, isString := v.(string)
		if !isString || !weekdays[str] {
			return fmt.Errorf("schedule day_of_week %v is not a weekday name", v)
		}
	}

	if v, ok := s["until"]; ok && v != nil {
		str, isString := v.(string)
		if !isString {
			return fmt.Errorf("schedule until must be a string, got %T", v)
		}
		if _, err := time.Parse(time.DateOnly, str); err != nil {
			return fmt.Errorf("schedule until %q must be YYYY-MM-DD", str)
		}
	}

	return nil
}

// Interval extracts the refresh interval in seconds. ok is false when the
// schedule has no interval.
func Interval(s map[string]any) (seconds int64, ok bool, err error) {
	v, present := s["interval"]
	if !present || v == nil {
		return 0, false, nil
	}

	switch iv := v.(type) {
	case float64:
		if iv != math.Trunc(iv) {
			return 0, false, fmt.Errorf("schedule interval must be a whole number of seconds, got %v", iv)
		}
		seconds = int64(iv)
	case int:
		seconds = int64(iv)
	case int64:
		seconds = iv
	case string:
		if strings.TrimSpace(iv) == "" {
			return 0, false, nil
		}
		n, perr := strconv.ParseInt(strings.TrimSpace(iv), 10, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("schedule interval %q is not a number", iv)
		}
		seconds = n
	default:
		return 0, false, fmt.Errorf("schedule interval has unsupported type %T", v)
	}

	if seconds <= 0 {
		return 0, false, fmt.Errorf("schedule interval must be positive, got %d", seconds)
	}
	return seconds, true, nil
}

// SecondsToInterval expresses seconds in the largest unit that keeps the
// count at or above one.
func SecondsToInterval(seconds float64) (count float64, unit string) {
	unit = Minutes
	count = seconds / 60
	if count >= 60 {
		count /= 60
		unit = Hours
	}
	if count >= 24 && unit == Hours {
		count /= 24
		unit = Days
	}
	if count >= 7 && unit == Days {
		count /= 7
		unit = Weeks
	}
	return count, unit
}

// Humanize describes a schedule, e.g. "Every 1 day(s) at 10:00 on Monday"
func Humanize(s map[string]any) string {
	seconds, ok, err := Interval(s)
	if err != nil || !ok {
		return Never
	}

	count, unit := SecondsToInterval(float64(seconds))
	parts := []string{"Every", strconv.FormatFloat(count, 'f', -1, 64), unit}

	if t, _ := s["time"].(string); t != "" {
		parts = append(parts, "at", t)
	}
	if d, _ := s["day_of_week"].(string); d != "" {
		parts = append(parts, "on", d)
	}
	return strings.Join(parts, " ")
}

// DurationHumanize renders a runtime in seconds; nil renders as "-"
func DurationHumanize(duration *float64) string {
	if duration == nil {
		return "-"
	}
	d := *duration
	switch {
	case d < 60:
		return fmt.Sprintf("%d seconds", int64(math.Round(d)))
	case d > 3600*24:
		return fmt.Sprintf("%d days", int64(math.Round(d/60/60/24)))
	case d == 3600:
		return "1 hour"
	case d >= 3600:
		return fmt.Sprintf("%d hours", int64(math.Round(d/60/60)))
	case d == 60:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", int64(math.Round(d/60)))
	}
}
