package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// RuleKind distinguishes calendar rules from fixed intervals.
type RuleKind string

const (
	RuleCalendar RuleKind = "calendar"
	RuleInterval RuleKind = "interval"
)

// Rule is one firing rule. Calendar rules fire at Hour:Minute on the listed
// weekdays (every day when Weekdays is empty). Interval rules fire every
// Every, counted from the scheduler anchor.
type Rule struct {
	Kind     RuleKind
	Weekdays []time.Weekday
	Hour     int
	Minute   int
	Every    time.Duration
	Source   string
}

// ErrInvalidRule is wrapped by every parse failure.
var ErrInvalidRule = errors.New("invalid schedule rule")

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseRule accepts:
//
//	"HH:MM" or "daily HH:MM"
//	"mon,wed,fri HH:MM", "mon-fri HH:MM", "weekdays HH:MM", "weekends HH:MM"
//	"every 6h", "every 90m"
//	"M H * * DOW" (five-field cron with fixed minute and hour)
func ParseRule(value string) (Rule, error) {
	src := strings.TrimSpace(value)
	fields := strings.Fields(strings.ToLower(src))
	switch len(fields) {
	case 0:
		return Rule{}, fmt.Errorf("%w: empty", ErrInvalidRule)
	case 1:
		r, err := parseCalendar("", fields[0])
		return withSource(r, src, err)
	case 2:
		if fields[0] == "every" {
			r, err := parseInterval(fields[1])
			return withSource(r, src, err)
		}
		r, err := parseCalendar(fields[0], fields[1])
		return withSource(r, src, err)
	case 5:
		r, err := parseCron(fields)
		return withSource(r, src, err)
	default:
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, src)
	}
}

// MustParseRule panics on invalid input. Intended for tests and literals.
func MustParseRule(value string) Rule {
	r, err := ParseRule(value)
	if err != nil {
		panic(err)
	}
	return r
}

func withSource(r Rule, src string, err error) (Rule, error) {
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidRule, src, err)
	}
	r.Source = src
	return r, nil
}

func parseInterval(value string) (Rule, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return Rule{}, err
	}
	if d <= 0 {
		return Rule{}, errors.New("interval must be positive")
	}
	return Rule{Kind: RuleInterval, Every: d}, nil
}

func parseCalendar(days, clock string) (Rule, error) {
	hour, minute, err := parseClock(clock)
	if err != nil {
		return Rule{}, err
	}
	weekdays, err := parseDays(days)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: RuleCalendar, Weekdays: weekdays, Hour: hour, Minute: minute}, nil
}

func parseClock(value string) (int, int, error) {
	h, m, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", value)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %q out of range", h)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %q out of range", m)
	}
	return hour, minute, nil
}

func parseDays(value string) ([]time.Weekday, error) {
	switch value {
	case "", "daily", "everyday", "*":
		return nil, nil
	case "weekdays":
		return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, nil
	case "weekends":
		return []time.Weekday{time.Sunday, time.Saturday}, nil
	}
	var out []time.Weekday
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, okStart := weekdayNames[from]
			end, okEnd := weekdayNames[to]
			if !okStart || !okEnd {
				return nil, fmt.Errorf("unknown weekday range %q", part)
			}
			for d := start; ; d = (d + 1) % 7 {
				out = appendDay(out, d)
				if d == end {
					break
				}
			}
			continue
		}
		d, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		out = appendDay(out, d)
	}
	return out, nil
}

func parseCron(fields []string) (Rule, error) {
	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("cron minute %q must be a number 0-59", fields[0])
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return Rule{}, fmt.Errorf("cron hour %q must be a number 0-23", fields[1])
	}
	if fields[2] != "*" || fields[3] != "*" {
		return Rule{}, errors.New("cron day-of-month and month must be *")
	}
	var weekdays []time.Weekday
	if fields[4] != "*" {
		for _, part := range strings.Split(fields[4], ",") {
			lo, hi := part, part
			if a, b, ok := strings.Cut(part, "-"); ok {
				lo, hi = a, b
			}
			start, err1 := cronDay(lo)
			end, err2 := cronDay(hi)
			if err := errors.Join(err1, err2); err != nil {
				return Rule{}, err
			}
			if end < start {
				return Rule{}, fmt.Errorf("cron weekday range %q is reversed", part)
			}
			for d := start; d <= end; d++ {
				weekdays = appendDay(weekdays, time.Weekday(d%7))
			}
		}
	}
	return Rule{Kind: RuleCalendar, Weekdays: weekdays, Hour: hour, Minute: minute}, nil
}

func cronDay(value string) (int, error) {
	if d, ok := weekdayNames[value]; ok {
		return int(d), nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > 7 {
		return 0, fmt.Errorf("cron weekday %q must be 0-7", value)
	}
	return n, nil
}

func appendDay(days []time.Weekday, d time.Weekday) []time.Weekday {
	if slices.Contains(days, d) {
		return days
	}
	days = append(days, d)
	slices.Sort(days)
	return days
}

func (r Rule) String() string {
	if r.Source != "" {
		return r.Source
	}
	if r.Kind == RuleInterval {
		return "every " + r.Every.String()
	}
	if len(r.Weekdays) == 0 {
		return fmt.Sprintf("daily %02d:%02d", r.Hour, r.Minute)
	}
	names := make([]string, 0, len(r.Weekdays))
	for _, d := range r.Weekdays {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return fmt.Sprintf("%s %02d:%02d", strings.Join(names, ","), r.Hour, r.Minute)
}

func (r Rule) matchesDay(d time.Weekday) bool {
	return len(r.Weekdays) == 0 || slices.Contains(r.Weekdays, d)
}

// Next returns the first occurrence strictly after t. Calendar rules are
// evaluated in loc; interval rules count from anchor.
func (r Rule) Next(t, anchor time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if r.Kind == RuleInterval {
		if r.Every <= 0 {
			return time.Time{}
		}
		if t.Before(anchor) {
			return anchor.Add(r.Every)
		}
		n := t.Sub(anchor)/r.Every + 1
		return anchor.Add(n * r.Every)
	}
	local := t.In(loc)
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), r.Hour, r.Minute, 0, 0, loc)
		if candidate.After(t) && r.matchesDay(candidate.Weekday()) {
			return candidate
		}
	}
	return time.Time{}
}
