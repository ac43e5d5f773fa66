// Package validation checks schedule and power items before they are stored.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/recurrence"
)

var (
	ErrInvalidWindow = errors.New("invalid time window")
	ErrOverlap       = errors.New("overlapping schedule items")
	ErrUndated       = errors.New("recurrence needs a DTSTART")
)

// Unbounded ranges are compared over this horizon.
const horizon = 4 // years

var validate = validator.New(validator.WithRequiredStructEnabled())

// OverlapError names the two items that would be active at the same time.
type OverlapError struct {
	A, B model.ScheduleItem
	Date time.Time
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s overlaps %s on %s", e.A, e.B, e.Date.Format(time.DateOnly))
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

func window(v any, start, stop model.TimeOfDay) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	if !start.Valid() || !stop.Valid() {
		return fmt.Errorf("%w: times must lie within one day", ErrInvalidWindow)
	}
	return nil
}

// ScheduleItems validates changed against each other and against the items already
// stored for the same schedule. Existing items sharing an ID with a changed item are
// treated as replaced.
func ScheduleItems(existing, changed []model.ScheduleItem, loc *time.Location) error {
	replaced := make(map[int]bool, len(changed))
	for _, item := range changed {
		if err := window(item, item.Start, item.Stop); err != nil {
			return err
		}
		if item.RangeEnd != nil && !item.RangeEnd.After(item.RangeStart) {
			return fmt.Errorf("%w: range ends before it starts", ErrInvalidWindow)
		}
		if _, err := recurrence.Lookup(item.Recurrences); err != nil {
			return err
		}
		if item.ID != 0 {
			replaced[item.ID] = true
		}
	}

	for i, a := range changed {
		for _, b := range changed[i+1:] {
			if err := overlap(a, b, loc); err != nil {
				return err
			}
		}
		for _, b := range existing {
			if replaced[b.ID] {
				continue
			}
			if err := overlap(a, b, loc); err != nil {
				return err
			}
		}
	}
	return nil
}

func overlap(a, b model.ScheduleItem, loc *time.Location) error {
	if a.Start >= b.Stop || b.Start >= a.Stop {
		return nil
	}

	lo := a.RangeStart
	if b.RangeStart.After(lo) {
		lo = b.RangeStart
	}
	var hi time.Time
	switch {
	case a.RangeEnd == nil && b.RangeEnd == nil:
		hi = lo.AddDate(horizon, 0, 0)
	case a.RangeEnd == nil:
		hi = *b.RangeEnd
	case b.RangeEnd == nil || a.RangeEnd.Before(*b.RangeEnd):
		hi = *a.RangeEnd
	default:
		hi = *b.RangeEnd
	}
	if !lo.Before(hi) {
		return nil
	}
	hi = hi.Add(-time.Nanosecond)

	ra, err := recurrence.LookupFrom(a.Recurrences, a.RangeStart, loc)
	if err != nil {
		return err
	}
	rb, err := recurrence.LookupFrom(b.Recurrences, b.RangeStart, loc)
	if err != nil {
		return err
	}
	dates := make(map[int64]bool)
	for _, d := range ra.Between(lo, hi, loc) {
		dates[d.Unix()] = true
	}
	for _, d := range rb.Between(lo, hi, loc) {
		if dates[d.Unix()] {
			return &OverlapError{A: a, B: b, Date: d}
		}
	}
	return nil
}

// PowerItems only checks each window on its own, power items may overlap. Power
// items have no range to start their rules from, so RRULE lines need a DTSTART.
func PowerItems(items []model.PowerItem) error {
	for _, item := range items {
		if err := window(item, item.On, item.Off); err != nil {
			return err
		}
		r, err := recurrence.Lookup(item.Recurrences)
		if err != nil {
			return err
		}
		if !r.Dated() {
			return fmt.Errorf("%w: %s", ErrUndated, item)
		}
	}
	return nil
}
