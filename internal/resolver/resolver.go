// Package resolver answers which playlist or power state is active at an instant and
// when that answer can next change.
package resolver

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/recurrence"
)

// Window is one upcoming or current activation of an item.
type Window struct {
	ItemID int
	Start  time.Time
	End    time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func rule(text string, itemID int) *recurrence.Rule {
	r, err := recurrence.Lookup(text)
	if err != nil {
		log.Warn().Err(err).Int("item_id", itemID).Msg("ignoring item with unparsable recurrence")
		return nil
	}
	return r
}

// ItemRule is the recurrence of a schedule item. Rules without their own DTSTART
// start on the date the item's range starts.
func ItemRule(item model.ScheduleItem, loc *time.Location) *recurrence.Rule {
	return rule(item.Recurrences, item.ID).StartingOn(item.RangeStart, loc)
}

// ActivePlaylist returns the playlist the schedule shows at now, falling back to the
// schedule's default playlist.
func ActivePlaylist(s model.Schedule, now time.Time, loc *time.Location) int {
	local := now.In(loc)
	tod := model.TimeOf(local)

	candidates := make([]model.ScheduleItem, 0, len(s.Items))
	for _, item := range s.Items {
		if item.Contains(now) && item.Stop > tod {
			candidates = append(candidates, item)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Stop != b.Stop {
			return a.Stop < b.Stop
		}
		return a.ID < b.ID
	})

	for _, item := range candidates {
		if item.Start > tod {
			continue
		}
		if r := ItemRule(item, loc); r != nil && r.OccursOn(local, loc) {
			return item.PlaylistID
		}
	}
	return s.DefaultPlaylistID
}

// ScheduleTrigger returns the next instant after which ActivePlaylist may return a
// different playlist. The second result is false when the schedule has nothing left.
func ScheduleTrigger(s model.Schedule, after time.Time, loc *time.Location) (time.Time, bool) {
	windows := make([]Window, 0, len(s.Items))
	for _, item := range s.Items {
		if item.RangeEnd != nil && !item.RangeEnd.After(after) {
			continue
		}
		r := ItemRule(item, loc)
		if r == nil {
			continue
		}
		if w, ok := scheduleWindow(item, r, after, loc); ok {
			windows = append(windows, w)
		}
	}
	return pick(windows, after)
}

func scheduleWindow(item model.ScheduleItem, r *recurrence.Rule, after time.Time, loc *time.Location) (Window, bool) {
	local := after.In(loc)
	cursor := local
	inc := item.Stop > model.TimeOf(local)
	if rs := item.RangeStart.In(loc); rs.After(local) {
		cursor, inc = rs, true
	}

	// clamping to the validity range may empty the first window, the following day is then tried
	for attempt := 0; attempt < 2; attempt++ {
		day, ok := r.After(cursor, inc, item.RangeEnd, loc)
		if !ok {
			return Window{}, false
		}
		w := Window{ItemID: item.ID, Start: item.Start.On(day, loc), End: item.Stop.On(day, loc)}
		if w.Start.Before(item.RangeStart) {
			w.Start = item.RangeStart
		}
		if item.RangeEnd != nil && w.End.After(*item.RangeEnd) {
			w.End = *item.RangeEnd
		}
		if w.Start.Before(w.End) && w.End.After(after) {
			return w, true
		}
		cursor, inc = day, false
	}
	return Window{}, false
}

// PowerState reports whether the display should be on at now. A power entity
// without items is off.
func PowerState(p model.Power, now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	tod := model.TimeOf(local)
	for _, item := range p.Items {
		if item.On > tod || tod >= item.Off {
			continue
		}
		if r := rule(item.Recurrences, item.ID); r != nil && r.OccursOn(local, loc) {
			return true
		}
	}
	return false
}

// PowerTrigger mirrors ScheduleTrigger for power items.
func PowerTrigger(p model.Power, after time.Time, loc *time.Location) (time.Time, bool) {
	local := after.In(loc)
	tod := model.TimeOf(local)
	windows := make([]Window, 0, len(p.Items))
	for _, item := range p.Items {
		r := rule(item.Recurrences, item.ID)
		if r == nil {
			continue
		}
		day, ok := r.After(local, item.Off > tod, nil, loc)
		if !ok {
			continue
		}
		w := Window{ItemID: item.ID, Start: item.On.On(day, loc), End: item.Off.On(day, loc)}
		if w.Start.Before(w.End) && w.End.After(after) {
			windows = append(windows, w)
		}
	}
	return pick(windows, after)
}

// pick selects the soonest activating window. Equal starts are ordered by end and
// then by item ID.
func pick(windows []Window, after time.Time) (time.Time, bool) {
	if len(windows) == 0 {
		return time.Time{}, false
	}
	sort.Slice(windows, func(i, j int) bool {
		a, b := windows[i], windows[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ItemID < b.ItemID
	})
	w := windows[0]
	if w.Contains(after) {
		return w.End, true
	}
	return w.Start, true
}
