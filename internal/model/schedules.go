package model

import (
	"fmt"
	"time"
)

type Schedule struct {
	ID                int            `db:"id" json:"id"`
	Name              string         `db:"name" json:"name"`
	DefaultPlaylistID int            `db:"default_playlist_id" json:"default_playlist_id"`
	Items             []ScheduleItem `db:"-" json:"items,omitempty"`
}

// Channel is the broadcast group displays join to follow this schedule.
func (s Schedule) Channel() string {
	return ScheduleChannel(s.ID)
}

func ScheduleChannel(id int) string {
	return fmt.Sprintf("schedule.%d", id)
}

// ScheduleItem activates a playlist between Start and Stop on every date of its recurrence
// that lies within the validity range [RangeStart, RangeEnd).
type ScheduleItem struct {
	ID          int        `db:"id" json:"id"`
	ScheduleID  int        `db:"schedule_id" json:"schedule_id"`
	PlaylistID  int        `db:"playlist_id" json:"playlist_id" validate:"required"`
	RangeStart  time.Time  `db:"range_start" json:"range_start" validate:"required"`
	RangeEnd    *time.Time `db:"range_end" json:"range_end,omitempty"`
	Start       TimeOfDay  `db:"start_time" json:"start" validate:"gte=0"`
	Stop        TimeOfDay  `db:"stop_time" json:"stop" validate:"gtfield=Start"`
	Recurrences string     `db:"recurrences" json:"recurrences"`
}

// Contains reports whether t lies within the validity range. The lower bound is
// inclusive, the upper bound exclusive and a nil upper bound is unbounded.
func (i ScheduleItem) Contains(t time.Time) bool {
	if t.Before(i.RangeStart) {
		return false
	}
	return i.RangeEnd == nil || t.Before(*i.RangeEnd)
}

func (i ScheduleItem) String() string {
	return fmt.Sprintf("playlist %d (%s - %s)", i.PlaylistID, i.Start, i.Stop)
}
