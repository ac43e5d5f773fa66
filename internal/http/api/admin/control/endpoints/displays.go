package endpoints

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/signage/internal/auth"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/signage/internal/session"
)

// SessionLister reports the live links of a display.
type SessionLister interface {
	Sessions(displayID string) []*session.Session
}

type DisplayController struct {
	store    db.Store
	sessions SessionLister
}

func DisplayModule(store db.Store, sessions SessionLister) api.Module {
	ctl := &DisplayController{store: store, sessions: sessions}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/displays/:id", api.ResolveEndpointWithAuth(ctl.getDisplay))
	})
}

func (d *DisplayController) getDisplay(ctx *gin.Context, _ string) (any, *api.APIError) {
	id := ctx.Param("id")
	display, err := d.store.GetDisplay(ctx.Request.Context(), id)
	if err != nil {
		return nil, storeError(err, "display")
	}

	response := packets.DisplayResponse{
		ID:         display.ID,
		Name:       display.Name,
		Hostname:   display.Hostname,
		ScheduleID: display.ScheduleID,
		PowerID:    display.PowerID,
		Enabled:    display.Enabled,
		Connected:  display.Connected,
		Sessions:   []packets.SessionResponse{},
	}
	for _, sess := range d.sessions.Sessions(display.ID) {
		response.Sessions = append(response.Sessions, packets.SessionResponse{
			ID:    sess.ID(),
			Kind:  string(sess.Kind()),
			State: sess.State().String(),
		})
	}
	if len(display.Key) > 0 {
		response.Fingerprint, _ = auth.Fingerprint(display.Key)
	}
	if display.Config.Valid {
		response.Config = json.RawMessage(display.Config.JSONText)
	}
	return response, nil
}
