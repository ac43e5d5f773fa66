package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

func TestMain(m *testing.M) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		// integration tests below skip themselves
		os.Exit(m.Run())
	}
	if err := InitTestDB("../../migrations"); err != nil {
		panic("could not initialise test database: " + err.Error())
	}
	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if TestStore == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
}

func seed(t *testing.T) (scheduleID, powerID, playlistID int, displayID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, DB.GetContext(ctx, &playlistID, `INSERT INTO playlists (name) VALUES ('default') RETURNING id;`))

	var pageID int
	require.NoError(t, DB.GetContext(ctx, &pageID, `INSERT INTO pages (name, kind, data) VALUES ('hello', 'HTML', '{"content":"hi"}') RETURNING id;`))
	_, err := DB.ExecContext(ctx, `INSERT INTO playlist_items (playlist_id, page_id, position) VALUES ($1, $2, 0);`, playlistID, pageID)
	require.NoError(t, err)

	require.NoError(t, DB.GetContext(ctx, &scheduleID, `INSERT INTO schedules (name, default_playlist_id) VALUES ('lobby', $1) RETURNING id;`, playlistID))
	require.NoError(t, DB.GetContext(ctx, &powerID, `INSERT INTO powers (name) VALUES ('office hours') RETURNING id;`))

	displayID = uuid.NewString()[:10]
	_, err = DB.ExecContext(ctx, `INSERT INTO displays (id, name, schedule_id, power_id) VALUES ($1, 'hall', $2, $3);`, displayID, scheduleID, powerID)
	require.NoError(t, err)
	return
}

func TestScheduleItemsRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	scheduleID, _, playlistID, _ := seed(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	items := []model.ScheduleItem{
		{PlaylistID: playlistID, RangeStart: start, RangeEnd: &end, Start: model.ClockTime(8, 0, 0), Stop: model.ClockTime(12, 0, 0), Recurrences: "RRULE:FREQ=DAILY"},
		{PlaylistID: playlistID, RangeStart: start, Start: model.ClockTime(13, 0, 0), Stop: model.ClockTime(18, 30, 0), Recurrences: "RRULE:FREQ=WEEKLY;BYDAY=MO"},
	}
	require.NoError(t, TestStore.ReplaceScheduleItems(ctx, scheduleID, items))

	sch, err := TestStore.GetSchedule(ctx, scheduleID)
	require.NoError(t, err)
	assert.Equal(t, playlistID, sch.DefaultPlaylistID)
	require.Len(t, sch.Items, 2)
	assert.Equal(t, model.ClockTime(8, 0, 0), sch.Items[0].Start)
	require.NotNil(t, sch.Items[0].RangeEnd)
	assert.True(t, end.Equal(*sch.Items[0].RangeEnd))
	assert.Nil(t, sch.Items[1].RangeEnd)
	assert.Equal(t, model.ClockTime(18, 30, 0), sch.Items[1].Stop)

	n, err := TestStore.DeleteExpiredScheduleItems(ctx, end.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	sch, err = TestStore.GetSchedule(ctx, scheduleID)
	require.NoError(t, err)
	assert.Len(t, sch.Items, 1)
}

func TestNotFound(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	_, err := TestStore.GetSchedule(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = TestStore.GetDisplay(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, TestStore.ReplacePowerItems(ctx, -1, nil), ErrNotFound)
}

func TestDisplayState(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	_, powerID, playlistID, displayID := seed(t)

	require.NoError(t, TestStore.ReplacePowerItems(ctx, powerID, []model.PowerItem{
		{On: model.ClockTime(7, 0, 0), Off: model.ClockTime(19, 0, 0), Recurrences: "RRULE:FREQ=DAILY"},
	}))
	p, err := TestStore.GetPower(ctx, powerID)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, model.ClockTime(19, 0, 0), p.Items[0].Off)

	d, err := TestStore.GetDisplay(ctx, displayID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Scale)
	assert.Nil(t, d.Key)

	stored, err := TestStore.SetDisplayKey(ctx, displayID, []byte("first"))
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = TestStore.SetDisplayKey(ctx, displayID, []byte("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, TestStore.SetDisplayConnected(ctx, displayID, &now))
	require.NoError(t, TestStore.SetDisplayConfig(ctx, displayID, []byte(`{"volume":3}`)))
	d, err = TestStore.GetDisplay(ctx, displayID)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), d.Key)
	require.NotNil(t, d.Connected)
	assert.True(t, now.Equal(*d.Connected))
	assert.JSONEq(t, `{"volume":3}`, string(d.Config.JSONText))

	require.NoError(t, TestStore.SetDisplayConnected(ctx, displayID, nil))

	pl, err := TestStore.GetPlaylist(ctx, playlistID)
	require.NoError(t, err)
	require.Len(t, pl.Items, 1)
	assert.Equal(t, "HTML", pl.Items[0].Page.Kind)
}
