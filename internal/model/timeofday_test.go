package model

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	v, err := ParseTimeOfDay("08:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(8, 30, 0), v)

	v, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, "23:59:59", v.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestTimeOfDayOn(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)

	d := time.Date(2024, 3, 4, 22, 0, 0, 0, time.UTC) // already March 4th 23:00 in Vienna
	got := ClockTime(9, 0, 0).On(d, loc)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, loc), got)
}

func TestTimeOfDayScan(t *testing.T) {
	var v TimeOfDay
	require.NoError(t, v.Scan([]byte("17:00:00")))
	assert.Equal(t, ClockTime(17, 0, 0), v)

	require.NoError(t, v.Scan("06:15:00.000000"))
	assert.Equal(t, ClockTime(6, 15, 0), v)

	require.NoError(t, v.Scan(time.Date(0, 1, 1, 12, 5, 0, 0, time.UTC)))
	assert.Equal(t, ClockTime(12, 5, 0), v)

	assert.Error(t, v.Scan(42))
}

func TestTimeOfDayJSON(t *testing.T) {
	item := PowerItem{On: ClockTime(7, 0, 0), Off: ClockTime(19, 30, 0)}
	b, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"on":"07:00:00"`)

	var back PowerItem
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, item.Off, back.Off)
}

func TestScheduleItemContains(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	item := ScheduleItem{RangeStart: start, RangeEnd: &end}

	assert.True(t, item.Contains(start))
	assert.False(t, item.Contains(end))
	assert.False(t, item.Contains(start.Add(-time.Second)))

	item.RangeEnd = nil
	assert.True(t, item.Contains(end.AddDate(10, 0, 0)))
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "schedule.3", Schedule{ID: 3}.Channel())
	assert.Equal(t, "power.9", PowerChannel(9))
}
