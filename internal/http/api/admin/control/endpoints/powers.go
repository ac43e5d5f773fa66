package endpoints

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/signage/internal/control"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/recurrence"
	"github.com/Nixie-Tech-LLC/signage/internal/resolver"
	"github.com/Nixie-Tech-LLC/signage/internal/validation"
)

type PowerController struct {
	store db.Store
	bus   Publisher
	loc   *time.Location
	now   func() time.Time
}

func NewPowerController(store db.Store, bus Publisher, loc *time.Location) *PowerController {
	return &PowerController{store: store, bus: bus, loc: loc, now: time.Now}
}

func PowerModule(store db.Store, bus Publisher, loc *time.Location) api.Module {
	ctl := NewPowerController(store, bus, loc)
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/powers/:id", api.ResolveEndpointWithAuth(ctl.getPower))
		c.GET("/powers/:id/state", api.ResolveEndpointWithAuth(ctl.state))
		c.PUT("/powers/:id/items", api.ResolveEndpointWithAuth(ctl.replaceItems))
		c.POST("/powers/:id/publish", api.ResolveEndpointWithAuth(ctl.publish))
	})
}

func (p *PowerController) getPower(ctx *gin.Context, _ string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	pw, err := p.store.GetPower(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "power")
	}
	return pw, nil
}

func (p *PowerController) state(ctx *gin.Context, _ string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	at, apiErr := instant(ctx, p.now)
	if apiErr != nil {
		return nil, apiErr
	}
	pw, err := p.store.GetPower(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "power")
	}

	response := packets.PowerStateResponse{
		PowerID: id,
		Power:   resolver.PowerState(pw, at, p.loc),
		At:      at,
	}
	if next, ok := resolver.PowerTrigger(pw, at, p.loc); ok {
		response.NextTrigger = &next
	}
	return response, nil
}

func (p *PowerController) replaceItems(ctx *gin.Context, subject string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.ReplacePowerItemsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}

	// undated rules start today so interval and count rules keep a fixed phase once stored
	today := p.now()
	items := make([]model.PowerItem, 0, len(request.Items))
	for _, it := range request.Items {
		items = append(items, model.PowerItem{
			PowerID:     id,
			On:          it.On,
			Off:         it.Off,
			Recurrences: recurrence.Stamp(it.Recurrences, today, p.loc),
		})
	}
	if err := validation.PowerItems(items); err != nil {
		return nil, validationError(err)
	}

	if err := p.store.ReplacePowerItems(ctx.Request.Context(), id, items); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, api.NotFound("power not found")
		}
		return nil, api.Internal("could not store items")
	}
	if apiErr := publish(ctx, p.bus, control.PublishPower(id), subject); apiErr != nil {
		return nil, apiErr
	}

	pw, err := p.store.GetPower(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "power")
	}
	return pw, nil
}

func (p *PowerController) publish(ctx *gin.Context, subject string) (any, *api.APIError) {
	id, apiErr := paramID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, err := p.store.GetPower(ctx.Request.Context(), id); err != nil {
		return nil, storeError(err, "power")
	}
	if apiErr := publish(ctx, p.bus, control.PublishPower(id), subject); apiErr != nil {
		return nil, apiErr
	}
	return packets.PublishResponse{Message: "published"}, nil
}
