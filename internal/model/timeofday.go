package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, stored as the offset from midnight.
// It maps to Postgres TIME columns.
type TimeOfDay time.Duration

const day = TimeOfDay(24 * time.Hour)

// ClockTime builds a TimeOfDay from its components.
func ClockTime(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

// TimeOf extracts the wall-clock time of t in t's own location.
func TimeOf(t time.Time) TimeOfDay {
	return ClockTime(t.Hour(), t.Minute(), t.Second()) + TimeOfDay(t.Nanosecond())
}

// ParseTimeOfDay accepts "15:04" and "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// On combines the time of day with the calendar date of d, in loc.
func (t TimeOfDay) On(d time.Time, loc *time.Location) time.Time {
	y, m, dd := d.In(loc).Date()
	h, mi, sec, ns := t.clock()
	return time.Date(y, m, dd, h, mi, sec, ns, loc)
}

func (t TimeOfDay) clock() (hour, minute, second, nsec int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	minute = int(d % time.Hour / time.Minute)
	second = int(d % time.Minute / time.Second)
	nsec = int(d % time.Second)
	return
}

func (t TimeOfDay) String() string {
	h, m, sec, _ := t.clock()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < day
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Scan handles the representations lib/pq hands out for TIME columns.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOf(v)
		return nil
	case []byte:
		return t.scanString(string(v))
	case string:
		return t.scanString(v)
	case nil:
		*t = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into TimeOfDay", src)
}

func (t *TimeOfDay) scanString(s string) error {
	// drop fractional seconds and zone suffixes such as "08:00:00.000000+00"
	if i := strings.IndexAny(s, ".+-Z"); i > 0 {
		s = s[:i]
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}
