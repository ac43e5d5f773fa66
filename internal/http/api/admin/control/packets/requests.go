package packets

import (
	"time"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

// ScheduleItemRequest describes one item; start and stop are "15:04[:05]" times of day.
type ScheduleItemRequest struct {
	ID          int             `json:"id"`
	PlaylistID  int             `json:"playlist_id" binding:"required"`
	RangeStart  time.Time       `json:"range_start" binding:"required"` // RFC3339
	RangeEnd    *time.Time      `json:"range_end,omitempty"`
	Start       model.TimeOfDay `json:"start"`
	Stop        model.TimeOfDay `json:"stop"`
	Recurrences string          `json:"recurrences"`
}

func (r ScheduleItemRequest) Item(scheduleID int) model.ScheduleItem {
	return model.ScheduleItem{
		ID:          r.ID,
		ScheduleID:  scheduleID,
		PlaylistID:  r.PlaylistID,
		RangeStart:  r.RangeStart,
		RangeEnd:    r.RangeEnd,
		Start:       r.Start,
		Stop:        r.Stop,
		Recurrences: r.Recurrences,
	}
}

type ReplaceScheduleItemsRequest struct {
	Items []ScheduleItemRequest `json:"items" binding:"dive"`
}

type PowerItemRequest struct {
	On          model.TimeOfDay `json:"on"`
	Off         model.TimeOfDay `json:"off"`
	Recurrences string          `json:"recurrences"`
}

type ReplacePowerItemsRequest struct {
	Items []PowerItemRequest `json:"items" binding:"dive"`
}

type ListOccurrencesQuery struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02"`
}
