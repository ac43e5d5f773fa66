// Package recurrence evaluates the textual recurrence rules attached to schedule and
// power items. A rule yields calendar dates: every occurrence is local midnight.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Undated rules that were never given a start are evaluated from this date.
var undated = date{2000, time.January, 3}

type date struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) date {
	y, m, d := t.Date()
	return date{y, m, d}
}

func (d date) in(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// Rule is a parsed recurrence. The zero value has no occurrences.
type Rule struct {
	text    string
	dtstart *date
	rules   []rrule.ROption
	rdates  []date
	exdates []date
}

// Parse reads the rule text line by line. Accepted lines are DTSTART, RRULE, RDATE
// and EXDATE in their iCalendar form, a bare "FREQ=..." line is read as RRULE.
func Parse(text string) (*Rule, error) {
	r := &Rule{text: text}
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		name, value := splitLine(line)
		switch name {
		case "DTSTART":
			d, err := parseDate(value)
			if err != nil {
				return nil, err
			}
			r.dtstart = &d
		case "RRULE":
			opt, err := rrule.StrToROptionInLocation(value, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
			}
			r.rules = append(r.rules, *opt)
		case "RDATE", "EXDATE":
			for _, v := range strings.Split(value, ",") {
				d, err := parseDate(v)
				if err != nil {
					return nil, err
				}
				if name == "RDATE" {
					r.rdates = append(r.rdates, d)
				} else {
					r.exdates = append(r.exdates, d)
				}
			}
		default:
			return nil, fmt.Errorf("%w: unsupported line %q", ErrInvalidRule, line)
		}
	}
	if _, err := r.set(time.UTC); err != nil {
		return nil, err
	}
	return r, nil
}

func splitLine(line string) (string, string) {
	if strings.HasPrefix(strings.ToUpper(line), "FREQ=") {
		return "RRULE", line
	}
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return strings.ToUpper(line), ""
	}
	name := line[:i]
	if j := strings.Index(name, ";"); j >= 0 {
		name = name[:j]
	}
	return strings.ToUpper(name), line[i+1:]
}

func parseDate(v string) (date, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return dateOf(t), nil
		}
	}
	return date{}, fmt.Errorf("%w: bad date %q", ErrInvalidRule, v)
}

// String returns the text the rule was parsed from.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.text
}

func (r *Rule) Empty() bool {
	return r == nil || (len(r.rules) == 0 && len(r.rdates) == 0)
}

// Dated reports whether the rule carries its own DTSTART. Rules made only of RDATE
// lines count as dated since nothing in them depends on a start.
func (r *Rule) Dated() bool {
	return r == nil || r.dtstart != nil || len(r.rules) == 0
}

// StartingOn returns the rule with its start set to the calendar date of day in loc,
// unless it already has a DTSTART. The receiver is not modified.
func (r *Rule) StartingOn(day time.Time, loc *time.Location) *Rule {
	if r.Dated() {
		return r
	}
	d := dateOf(day.In(loc))
	cp := *r
	cp.dtstart = &d
	return &cp
}

// set materialises the rule in loc.
func (r *Rule) set(loc *time.Location) (*rrule.Set, error) {
	start := undated.in(loc)
	if r.dtstart != nil {
		start = r.dtstart.in(loc)
	}
	s := &rrule.Set{}
	for _, opt := range r.rules {
		opt.Dtstart = start
		rr, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		s.RRule(rr)
	}
	for _, d := range r.rdates {
		s.RDate(d.in(loc))
	}
	for _, d := range r.exdates {
		s.ExDate(d.in(loc))
	}
	return s, nil
}

// OccursOn reports whether the calendar date of day (in loc) is an occurrence.
func (r *Rule) OccursOn(day time.Time, loc *time.Location) bool {
	if r.Empty() {
		return false
	}
	midnight := dateOf(day.In(loc)).in(loc)
	return len(r.Between(midnight, midnight, loc)) > 0
}

// Between lists the occurrence dates d with from <= d <= to, compared by calendar date.
func (r *Rule) Between(from, to time.Time, loc *time.Location) []time.Time {
	if r.Empty() {
		return nil
	}
	lo := dateOf(from.In(loc)).in(loc)
	hi := dateOf(to.In(loc)).in(loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	if hi.Before(lo) {
		return nil
	}
	s, err := r.set(loc)
	if err != nil {
		return nil
	}
	return normalize(s.Between(lo, hi, true), loc)
}

// After returns the first occurrence at or after the calendar date of after (strictly
// after it when inc is false). Occurrences past until are ignored, a nil until means
// no bound.
func (r *Rule) After(after time.Time, inc bool, until *time.Time, loc *time.Location) (time.Time, bool) {
	if r.Empty() {
		return time.Time{}, false
	}
	midnight := dateOf(after.In(loc)).in(loc)
	s, err := r.set(loc)
	if err != nil {
		return time.Time{}, false
	}
	from := midnight
	if !inc {
		from = midnight.AddDate(0, 0, 1)
	}
	next := s.After(from, true)
	if next.IsZero() {
		return time.Time{}, false
	}
	next = dateOf(next.In(loc)).in(loc)
	if until != nil && next.After(*until) {
		return time.Time{}, false
	}
	return next, true
}

func normalize(ts []time.Time, loc *time.Location) []time.Time {
	seen := make(map[date]bool, len(ts))
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		d := dateOf(t.In(loc))
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d.in(loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Stamp prepends a DTSTART for the calendar date of day to text when the rule has
// RRULE lines but no start of its own. Dated and invalid text is returned unchanged.
func Stamp(text string, day time.Time, loc *time.Location) string {
	r, err := Lookup(text)
	if err != nil || r.Dated() {
		return text
	}
	return "DTSTART:" + day.In(loc).Format("20060102") + "\n" + text
}

// LookupFrom is Lookup with undated rules started on the calendar date of start.
func LookupFrom(text string, start time.Time, loc *time.Location) (*Rule, error) {
	r, err := Lookup(text)
	if err != nil {
		return nil, err
	}
	return r.StartingOn(start, loc), nil
}

var cache sync.Map

// Lookup parses text once and memoises the result. Invalid text yields the error
// on every call.
func Lookup(text string) (*Rule, error) {
	if v, ok := cache.Load(text); ok {
		return v.(*Rule), nil
	}
	r, err := Parse(text)
	if err != nil {
		return nil, err
	}
	cache.Store(text, r)
	return r, nil
}
