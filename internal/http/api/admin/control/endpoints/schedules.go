package endpoints

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/control"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/recurrence"
	"github.com/Nixie-Tech-LLC/signage/internal/resolver"
	"github.com/Nixie-Tech-LLC/signage/internal/validation"
)

// Publisher hands publish requests to the scheduler service.
type Publisher interface {
	Send(ctx context.Context, m control.Message) error
}

type ScheduleController struct {
	store db.Store
	bus   Publisher
	loc   *time.Location
	now   func() time.Time
}

func NewScheduleController(store db.Store, bus Publisher, loc *time.Location) *ScheduleController {
	return &ScheduleController{store: store, bus: bus, loc: loc, now: time.Now}
}

func ScheduleModule(store db.Store, bus Publisher, loc *time.Location) api.Module {
	ctl := NewScheduleController(store, bus, loc)
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/schedules/:id", api.ResolveEndpointWithAuth(ctl.getSchedule))
		c.POST("/schedules/:id/publish", api.ResolveEndpointWithAuth(ctl.publish))

		// items are validated against each other before anything is stored
		c.PUT("/schedules/:id/items", api.ResolveEndpointWithAuth(ctl.replaceItems))
		c.POST("/schedules/:id/items", api.ResolveEndpointWithAuth(ctl.addItem))

		// resolution as of ?at= (default now)
		c.GET("/schedules/:id/active", api.ResolveEndpointWithAuth(ctl.active))

		// calendar feed for GUI (expand occurrences between [from,to])
		c.GET("/schedules/:id/occurrences", api.ResolveEndpointWithAuth(ctl.listOccurrences))
	})
}

func paramID(ctx *gin.Context) (int, *api.APIError) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, api.BadRequest("invalid id")
	}
	return id, nil
}

// instant reads ?at= as RFC3339, falling back to now.
func instant(ctx *gin.Context, now func() time.Time) (time.Time, *api.APIError) {
	v := ctx.Query("at")
	if v == "" {
		return now(), nil
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, api.BadRequest("at must be RFC3339")
	}
	return at, nil
}

func validationError(err error) *api.APIError {
	if errors.Is(err, validation.ErrOverlap) {
		return &api.APIError{Code: http.StatusConflict, Message: err.Error()}
	}
	return api.BadRequest(err.Error())
}

func storeError(err error, what string) *api.APIError {
	if errors.Is(err, db.ErrNotFound) {
		return api.NotFound(what + " not found")
	}
	return api.Internal("could not load " + what)
}

func publish(ctx *gin.Context, bus Publisher, m control.Message, subject string) *api.APIError {
	if err := bus.Send(ctx.Request.Context(), m); err != nil {
		log.Error().Err(err).Str("type", m.Type).Str("subject", subject).Msg("publish failed")
		return &api.APIError{Code: http.StatusServiceUnavailable, Message: "saved, but the scheduler could not be notified"}
	}
	log.Info().Str("type", m.Type).Int("schedule_id", m.Schedule).Int("power_id", m.Power).Str("subject", subject).Msg("published")
	return nil
}

func (s *ScheduleController) getSchedule(ctx *gin.Context, _ string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	sc, err := s.store.GetSchedule(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	return sc, nil
}

func (s *ScheduleController) publish(ctx *gin.Context, subject string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, err := s.store.GetSchedule(ctx.Request.Context(), id); err != nil {
		return nil, storeError(err, "schedule")
	}
	if apiErr := publish(ctx, s.bus, control.PublishSchedule(id), subject); apiErr != nil {
		return nil, apiErr
	}
	return packets.PublishResponse{Message: "published"}, nil
}

func (s *ScheduleController) replaceItems(ctx *gin.Context, subject string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.ReplaceScheduleItemsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}

	items := make([]model.ScheduleItem, 0, len(request.Items))
	for _, it := range request.Items {
		items = append(items, it.Item(id))
	}
	// every stored item is replaced, so only the new ones are compared
	if err := validation.ScheduleItems(nil, items, s.loc); err != nil {
		return nil, validationError(err)
	}

	if err := s.store.ReplaceScheduleItems(ctx.Request.Context(), id, items); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, api.NotFound("schedule not found")
		}
		return nil, api.Internal("could not store items")
	}
	if apiErr := publish(ctx, s.bus, control.PublishSchedule(id), subject); apiErr != nil {
		return nil, apiErr
	}

	sc, err := s.store.GetSchedule(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	return sc, nil
}

func (s *ScheduleController) addItem(ctx *gin.Context, subject string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.ScheduleItemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	request.ID = 0

	existing, err := s.store.ListScheduleItems(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	item := request.Item(id)
	if err := validation.ScheduleItems(existing, []model.ScheduleItem{item}, s.loc); err != nil {
		return nil, validationError(err)
	}

	stored, err := s.store.AddScheduleItem(ctx.Request.Context(), item)
	if err != nil {
		return nil, api.Internal("could not store item")
	}
	if apiErr := publish(ctx, s.bus, control.PublishSchedule(id), subject); apiErr != nil {
		return nil, apiErr
	}
	return stored, nil
}

func (s *ScheduleController) active(ctx *gin.Context, _ string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	at, apiErr := instant(ctx, s.now)
	if apiErr != nil {
		return nil, apiErr
	}
	sc, err := s.store.GetSchedule(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "schedule")
	}

	response := packets.ActivePlaylistResponse{
		ScheduleID: id,
		PlaylistID: resolver.ActivePlaylist(sc, at, s.loc),
		At:         at,
	}
	if next, ok := resolver.ScheduleTrigger(sc, at, s.loc); ok {
		response.NextTrigger = &next
	}
	return response, nil
}

func (s *ScheduleController) listOccurrences(ctx *gin.Context, _ string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.ListOccurrencesQuery
	if err := ctx.ShouldBindQuery(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	from := time.Date(request.From.Year(), request.From.Month(), request.From.Day(), 0, 0, 0, 0, s.loc)
	to := time.Date(request.To.Year(), request.To.Month(), request.To.Day(), 0, 0, 0, 0, s.loc)
	if to.Before(from) {
		return nil, api.BadRequest("to must not be before from")
	}

	sc, err := s.store.GetSchedule(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "schedule")
	}
	return occurrences(sc.Items, from, to, s.loc), nil
}

func occurrences(items []model.ScheduleItem, from, to time.Time, loc *time.Location) []packets.OccurrenceResponse {
	response := make([]packets.OccurrenceResponse, 0)
	for _, item := range items {
		r, err := recurrence.LookupFrom(item.Recurrences, item.RangeStart, loc)
		if err != nil {
			continue
		}
		for _, day := range r.Between(from, to, loc) {
			start, end := item.Start.On(day, loc), item.Stop.On(day, loc)
			if !end.After(item.RangeStart) || (item.RangeEnd != nil && !start.Before(*item.RangeEnd)) {
				continue
			}
			if start.Before(item.RangeStart) {
				start = item.RangeStart
			}
			if item.RangeEnd != nil && end.After(*item.RangeEnd) {
				end = *item.RangeEnd
			}
			response = append(response, packets.OccurrenceResponse{
				ItemID:     item.ID,
				PlaylistID: item.PlaylistID,
				Start:      start,
				End:        end,
			})
		}
	}
	sort.SliceStable(response, func(i, j int) bool { return response[i].Start.Before(response[j].Start) })
	return response
}
