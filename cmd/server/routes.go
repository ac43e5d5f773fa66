package main

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/signage/internal/config"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/http/api"
	adminapi "github.com/Nixie-Tech-LLC/signage/internal/http/api/admin/control/endpoints"
	signageapi "github.com/Nixie-Tech-LLC/signage/internal/http/api/tv/endpoints"
	"github.com/Nixie-Tech-LLC/signage/internal/scheduler"
	"github.com/Nixie-Tech-LLC/signage/internal/session"
)

type dependencies struct {
	store       db.Store
	bus         adminapi.Publisher
	scheduler   *scheduler.Service
	sessions    *session.Manager
	screenshots signageapi.ScreenshotSource
	renderer    signageapi.PlaylistRenderer
}

// RegisterRoutes sets up all application routes. base bounds the lifetime of
// display sessions.
func RegisterRoutes(base context.Context, r *gin.Engine, cfg *config.Config, deps dependencies) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: false,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if deps.scheduler != nil {
			if ping := deps.scheduler.LastPing(); !ping.IsZero() {
				resp["last_ping"] = ping
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	api.MountGroup(r, api.GroupConfig{
		Prefix:    "/api/admin",
		Auth:      true,
		SecretKey: cfg.JWTSecret,
	},
		adminapi.ScheduleModule(deps.store, deps.bus, loc),
		adminapi.PowerModule(deps.store, deps.bus, loc),
		adminapi.DisplayModule(deps.store, deps.sessions),
	)

	api.MountGroup(r, api.GroupConfig{
		Prefix: "/signage",
	},
		signageapi.SignageModule(base, deps.sessions, deps.screenshots, deps.renderer),
	)
	return nil
}
