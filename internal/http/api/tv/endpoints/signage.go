package endpoints

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/content"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	"github.com/Nixie-Tech-LLC/signage/internal/redis"
	"github.com/Nixie-Tech-LLC/signage/internal/session"
)

// MaxMessageSize bounds one inbound display frame. Screenshots arrive base64 encoded
// inside it.
const MaxMessageSize = 8 << 20

type ScreenshotSource interface {
	Get(ctx context.Context, displayID string) ([]byte, string, error)
}

type PlaylistRenderer interface {
	Playlist(ctx context.Context, id int) (*content.PlaylistMessage, error)
}

type SignageController struct {
	// base outlives single requests so sessions end on shutdown
	base        context.Context
	sessions    *session.Manager
	screenshots ScreenshotSource
	renderer    PlaylistRenderer
	upgrader    websocket.Upgrader
}

func NewSignageController(base context.Context, sessions *session.Manager, screenshots ScreenshotSource, renderer PlaylistRenderer) *SignageController {
	return &SignageController{
		base:        base,
		sessions:    sessions,
		screenshots: screenshots,
		renderer:    renderer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func SignageModule(base context.Context, sessions *session.Manager, screenshots ScreenshotSource, renderer PlaylistRenderer) api.Module {
	ctl := NewSignageController(base, sessions, screenshots, renderer)
	return api.ModuleFunc(func(c *api.Controller) {
		// one link per display for power, one for the content frontend
		c.GET("/websocket/power/:id/", ctl.socket(session.KindPower))
		c.GET("/websocket/frontend/:id/", ctl.socket(session.KindFrontend))

		c.GET("/display/:id/screenshot", ctl.screenshot)
		c.GET("/playlist/:id", api.ResolveEndpoint(ctl.playlist))
	})
}

func (s *SignageController) socket(kind session.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		displayID := c.Param("id")
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already wrote the http error
			log.Warn().Err(err).Str("display_id", displayID).Msg("websocket upgrade failed")
			return
		}
		conn.SetReadLimit(MaxMessageSize)

		ctx, cancel := context.WithCancel(s.base)
		defer cancel()
		if err := s.sessions.Serve(ctx, kind, displayID, conn); err != nil {
			log.Debug().Err(err).Str("display_id", displayID).Msg("session rejected")
		}
	}
}

func (s *SignageController) screenshot(c *gin.Context) {
	img, mime, err := s.screenshots.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, redis.ErrNoScreenshot):
		c.JSON(http.StatusNotFound, gin.H{"error": "no screenshot"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load screenshot"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mime, img)
}

func (s *SignageController) playlist(c *gin.Context) (any, *api.APIError) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, api.BadRequest("invalid id")
	}
	msg, err := s.renderer.Playlist(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, api.NotFound("playlist not found")
	}
	if err != nil {
		return nil, api.Internal("could not render playlist")
	}
	return msg, nil
}
