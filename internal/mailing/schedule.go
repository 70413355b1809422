package mailing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule restricts on which days a receiver gets periodic mail. Two
// forms are accepted:
//
//   - a plain day of month, "1".."31";
//   - a cron-like expression "day month weekday", optionally prefixed
//     with the conventional "minute hour" fields which are ignored
//     ("* * day month weekday").
//
// Unlike cron, day and weekday are matched together (all fields must be
// in range), and a day that exceeds the length of the current month
// carries forward to its last day, so "31" fires on Feb 28.
type Schedule struct {
	plainDay int
	days     fieldSet
	months   fieldSet
	weekdays fieldSet
}

// fieldSet is a bitmask of allowed values for one schedule field.
type fieldSet uint64

func (f fieldSet) has(n int) bool { return f&(1<<uint(n)) != 0 }

func (f fieldSet) max() int {
	for n := 63; n >= 0; n-- {
		if f.has(n) {
			return n
		}
	}
	return -1
}

// ParseSchedule parses a schedule expression.
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule: empty expression")
	}

	if n, err := strconv.Atoi(expr); err == nil {
		if n < 1 || n > 31 {
			return nil, fmt.Errorf("schedule: day of month %d out of range", n)
		}
		return &Schedule{plainDay: n}, nil
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		// Minute and hour are accepted for cron familiarity but carry
		// no meaning at daily granularity.
		fields = fields[2:]
	case 3:
	default:
		return nil, fmt.Errorf("schedule: expected 3 or 5 fields, got %d", len(fields))
	}

	days, err := parseField(fields[0], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("schedule: day field %q: %w", fields[0], err)
	}
	months, err := parseField(fields[1], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("schedule: month field %q: %w", fields[1], err)
	}
	weekdays, err := parseField(fields[2], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("schedule: weekday field %q: %w", fields[2], err)
	}
	// Both 0 and 7 mean Sunday.
	if weekdays.has(7) {
		weekdays |= 1 // bit 0
	}

	return &Schedule{days: days, months: months, weekdays: weekdays}, nil
}

// ValidateSchedule reports whether the expression parses. The empty
// string is valid and means "no schedule".
func ValidateSchedule(expr string) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	_, err := ParseSchedule(expr)
	return err == nil
}

// Matches reports whether the schedule fires on the given date.
func (s *Schedule) Matches(t time.Time) bool {
	day := t.Day()
	lastDay := daysInMonth(t)

	if s.plainDay > 0 {
		return s.plainDay == day || (day == lastDay && s.plainDay > lastDay)
	}

	if !s.months.has(int(t.Month())) || !s.weekdays.has(int(t.Weekday())) {
		return false
	}
	if s.days.has(day) {
		return true
	}
	// Carry "send on the 31st" forward to the last day of short months.
	return day == lastDay && s.days.max() > lastDay
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1
		rangePart := part

		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			rangePart = part[:idx]
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("bad step %q", part)
			}
			step = n
		}

		switch {
		case rangePart == "*":
			// Full range.
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return 0, fmt.Errorf("bad range %q", part)
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			lo, hi = n, n
		}

		if lo < min || hi > max {
			return 0, fmt.Errorf("value out of range %d-%d", min, max)
		}
		for n := lo; n <= hi; n += step {
			set |= 1 << uint(n)
		}
	}
	return set, nil
}
