package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/signage/internal/control"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/signage/internal/http/middleware"
	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/session"
)

const secret = "test-secret"

type fakeStore struct {
	db.Store // methods not used here panic

	mu        sync.Mutex
	schedules map[int]model.Schedule
	powers    map[int]model.Power
	displays  map[string]model.Display
}

func (s *fakeStore) GetSchedule(_ context.Context, id int) (model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return model.Schedule{}, db.ErrNotFound
	}
	return sc, nil
}

func (s *fakeStore) ListScheduleItems(ctx context.Context, id int) ([]model.ScheduleItem, error) {
	sc, err := s.GetSchedule(ctx, id)
	return sc.Items, err
}

func (s *fakeStore) ReplaceScheduleItems(_ context.Context, id int, items []model.ScheduleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return db.ErrNotFound
	}
	sc.Items = nil
	for i, it := range items {
		it.ID = 100 + i
		sc.Items = append(sc.Items, it)
	}
	s.schedules[id] = sc
	return nil
}

func (s *fakeStore) AddScheduleItem(_ context.Context, item model.ScheduleItem) (model.ScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.schedules[item.ScheduleID]
	item.ID = 200 + len(sc.Items)
	sc.Items = append(sc.Items, item)
	s.schedules[item.ScheduleID] = sc
	return item, nil
}

func (s *fakeStore) GetPower(_ context.Context, id int) (model.Power, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.powers[id]
	if !ok {
		return model.Power{}, db.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ReplacePowerItems(_ context.Context, id int, items []model.PowerItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.powers[id]
	if !ok {
		return db.ErrNotFound
	}
	p.Items = items
	s.powers[id] = p
	return nil
}

func (s *fakeStore) GetDisplay(_ context.Context, id string) (model.Display, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.displays[id]
	if !ok {
		return model.Display{}, db.ErrNotFound
	}
	return d, nil
}

type fakeBus struct {
	mu   sync.Mutex
	sent []control.Message
}

func (b *fakeBus) Send(_ context.Context, m control.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, m)
	return nil
}

func (b *fakeBus) messages() []control.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]control.Message(nil), b.sent...)
}

// 2024-03-04 is a Monday.
var monday = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func mondayItem() model.ScheduleItem {
	return model.ScheduleItem{
		ID:          1,
		ScheduleID:  1,
		PlaylistID:  7,
		RangeStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Start:       model.ClockTime(8, 0, 0),
		Stop:        model.ClockTime(18, 0, 0),
		Recurrences: "RRULE:FREQ=WEEKLY;BYDAY=MO",
	}
}

type noSessions struct{}

func (noSessions) Sessions(string) []*session.Session { return nil }

type testServer struct {
	store  *fakeStore
	bus    *fakeBus
	router *gin.Engine
	token  string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		store: &fakeStore{
			schedules: map[int]model.Schedule{1: {ID: 1, Name: "lobby", DefaultPlaylistID: 100, Items: []model.ScheduleItem{mondayItem()}}},
			powers:    map[int]model.Power{2: {ID: 2, Name: "office hours"}},
			displays:  map[string]model.Display{"d1": {ID: "d1", Name: "Lobby", Enabled: true}},
		},
		bus:    &fakeBus{},
		router: gin.New(),
	}

	schedules := NewScheduleController(ts.store, ts.bus, time.UTC)
	schedules.now = func() time.Time { return monday }
	powers := NewPowerController(ts.store, ts.bus, time.UTC)
	powers.now = func() time.Time { return monday }

	api.MountGroup(ts.router, api.GroupConfig{Prefix: "/api/admin", Auth: true, SecretKey: secret},
		api.ModuleFunc(func(c *api.Controller) {
			c.GET("/schedules/:id", api.ResolveEndpointWithAuth(schedules.getSchedule))
			c.POST("/schedules/:id/publish", api.ResolveEndpointWithAuth(schedules.publish))
			c.PUT("/schedules/:id/items", api.ResolveEndpointWithAuth(schedules.replaceItems))
			c.POST("/schedules/:id/items", api.ResolveEndpointWithAuth(schedules.addItem))
			c.GET("/schedules/:id/active", api.ResolveEndpointWithAuth(schedules.active))
			c.GET("/schedules/:id/occurrences", api.ResolveEndpointWithAuth(schedules.listOccurrences))
			c.GET("/powers/:id/state", api.ResolveEndpointWithAuth(powers.state))
			c.PUT("/powers/:id/items", api.ResolveEndpointWithAuth(powers.replaceItems))
			c.POST("/powers/:id/publish", api.ResolveEndpointWithAuth(powers.publish))
		}),
		DisplayModule(ts.store, noSessions{}),
	)

	token, err := middleware.GenerateJWT("operator", secret, time.Hour)
	require.NoError(t, err)
	ts.token = token
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func item(start, stop, rule string, playlist int) map[string]any {
	return map[string]any{
		"playlist_id": playlist,
		"range_start": "2024-01-01T00:00:00Z",
		"start":       start,
		"stop":        stop,
		"recurrences": rule,
	}
}

func TestRequiresToken(t *testing.T) {
	ts := newServer(t)
	ts.token = "nope"
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/admin/schedules/1", nil).Code)
}

func TestGetSchedule(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodGet, "/api/admin/schedules/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sc model.Schedule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sc))
	assert.Equal(t, "lobby", sc.Name)
	require.Len(t, sc.Items, 1)
	assert.Equal(t, model.ClockTime(8, 0, 0), sc.Items[0].Start)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/admin/schedules/9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/admin/schedules/x", nil).Code)
}

func TestReplaceScheduleItems(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPut, "/api/admin/schedules/1/items", map[string]any{"items": []any{
		item("08:00", "12:00", "RRULE:FREQ=WEEKLY;BYDAY=MO", 7),
		item("12:00", "18:00", "RRULE:FREQ=WEEKLY;BYDAY=MO", 8),
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, ts.store.schedules[1].Items, 2)
	assert.Equal(t, []control.Message{control.PublishSchedule(1)}, ts.bus.messages())
}

func TestReplaceScheduleItemsRejectsOverlap(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPut, "/api/admin/schedules/1/items", map[string]any{"items": []any{
		item("08:00", "12:00", "RRULE:FREQ=WEEKLY;BYDAY=MO", 7),
		item("11:00", "18:00", "RRULE:FREQ=WEEKLY;BYDAY=MO,TU", 8),
	}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, ts.bus.messages())
	assert.Len(t, ts.store.schedules[1].Items, 1, "nothing stored")
}

func TestReplaceScheduleItemsRejectsEmptyWindow(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPut, "/api/admin/schedules/1/items", map[string]any{"items": []any{
		item("08:00", "08:00", "RRULE:FREQ=DAILY", 7),
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.bus.messages())
}

func TestAddScheduleItem(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPost, "/api/admin/schedules/1/items", item("10:00", "11:00", "RRULE:FREQ=WEEKLY;BYDAY=MO", 9))
	assert.Equal(t, http.StatusConflict, w.Code, "overlaps the stored monday item")

	w = ts.do(http.MethodPost, "/api/admin/schedules/1/items", item("10:00", "11:00", "RRULE:FREQ=WEEKLY;BYDAY=TU", 9))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, ts.store.schedules[1].Items, 2)
	assert.Equal(t, []control.Message{control.PublishSchedule(1)}, ts.bus.messages())
}

func TestActivePlaylist(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodGet, "/api/admin/schedules/1/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp packets.ActivePlaylistResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.PlaylistID)
	require.NotNil(t, resp.NextTrigger)
	assert.True(t, resp.NextTrigger.Equal(time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)))

	w = ts.do(http.MethodGet, "/api/admin/schedules/1/active?at=2024-03-05T09:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.PlaylistID)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/admin/schedules/1/active?at=tuesday", nil).Code)
}

func TestOccurrences(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodGet, "/api/admin/schedules/1/occurrences?from=2024-03-01&to=2024-03-14", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp []packets.OccurrenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.True(t, resp[0].Start.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)))
	assert.True(t, resp[1].End.Equal(time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC)))
}

func TestOccurrencesStartFromItemRange(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPut, "/api/admin/schedules/1/items", map[string]any{"items": []any{
		item("08:00", "18:00", "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU", 7),
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/api/admin/schedules/1/occurrences?from=2024-01-08&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp []packets.OccurrenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.True(t, resp[0].Start.Equal(time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)), resp[0].Start)
	assert.True(t, resp[1].Start.Equal(time.Date(2024, 1, 30, 8, 0, 0, 0, time.UTC)), resp[1].Start)
}

func TestPowerItemsKeepDatedRules(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodPut, "/api/admin/powers/2/items", map[string]any{"items": []any{
		map[string]any{"on": "07:00", "off": "12:00", "recurrences": "DTSTART:20240101\nRRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DTSTART:20240101\nRRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU", ts.store.powers[2].Items[0].Recurrences, "dated rules are stored as sent")
}

func TestPowerEndpoints(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodGet, "/api/admin/powers/2/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state packets.PowerStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Power, "no items means off")
	assert.Nil(t, state.NextTrigger)

	w = ts.do(http.MethodPut, "/api/admin/powers/2/items", map[string]any{"items": []any{
		map[string]any{"on": "07:00", "off": "12:00", "recurrences": "RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"},
		map[string]any{"on": "13:00", "off": "20:00", "recurrences": "RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []control.Message{control.PublishPower(2)}, ts.bus.messages())
	for _, it := range ts.store.powers[2].Items {
		assert.True(t, strings.HasPrefix(it.Recurrences, "DTSTART:20240304\n"), it.Recurrences)
	}

	w = ts.do(http.MethodGet, "/api/admin/powers/2/state?at=2024-03-04T12:30:00Z", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Power)
	require.NotNil(t, state.NextTrigger)
	assert.True(t, state.NextTrigger.Equal(time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)))

	w = ts.do(http.MethodPut, "/api/admin/powers/2/items", map[string]any{"items": []any{
		map[string]any{"on": "13:00", "off": "07:00"},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/admin/powers/5/publish", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/admin/powers/2/publish", nil).Code)
}

func TestPublishSchedule(t *testing.T) {
	ts := newServer(t)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/admin/schedules/1/publish", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/admin/schedules/3/publish", nil).Code)
	assert.Equal(t, []control.Message{control.PublishSchedule(1)}, ts.bus.messages())
}

func TestGetDisplay(t *testing.T) {
	ts := newServer(t)

	w := ts.do(http.MethodGet, "/api/admin/displays/d1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp packets.DisplayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Lobby", resp.Name)
	assert.Empty(t, resp.Fingerprint)
	assert.NotNil(t, resp.Sessions)
	assert.Empty(t, resp.Sessions)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/admin/displays/nope", nil).Code)
}
