package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Nixie-Tech-LLC/signage/internal/broadcast"
	"github.com/Nixie-Tech-LLC/signage/internal/config"
	"github.com/Nixie-Tech-LLC/signage/internal/content"
	"github.com/Nixie-Tech-LLC/signage/internal/control"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/redis"
	"github.com/Nixie-Tech-LLC/signage/internal/scheduler"
	"github.com/Nixie-Tech-LLC/signage/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// initialize PostgreSQL
	if err := db.Init(cfg.Database.URL, cfg.Database.MaxOpenConns); err != nil {
		log.Fatal().Err(err).Msg("db init")
	}
	defer db.DB.Close()

	// run pending migrations
	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	store := db.NewStore(db.DB)

	if err := redis.InitRedis(cfg.Redis.Address, cfg.Redis.Username, cfg.Redis.Password); err != nil {
		log.Fatal().Err(err).Msg("redis init")
	}
	defer redis.Rdb.Close()

	g, ctx := errgroup.WithContext(ctx)

	redisLayer := broadcast.NewRedisLayer(redis.Rdb, cfg.Redis.BroadcastPrefix)
	g.Go(func() error { return redisLayer.Run(ctx) })

	var layer broadcast.Layer = redisLayer
	if cfg.MQTT.Broker != "" {
		client, err := broadcast.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt init")
		}
		defer client.Disconnect(250)
		layer = broadcast.NewMQTTMirror(layer, client, cfg.MQTT.TopicPrefix)
	}

	bus, closeBus, err := openBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("bus", cfg.Control.Bus).Msg("control bus")
	}
	defer closeBus()

	var svc *scheduler.Service
	if cfg.Scheduler.Enabled {
		svc = scheduler.New(store, layer, bus, scheduler.Options{
			Location:     loc,
			MisfireGrace: cfg.Scheduler.MisfireGrace,
			CleanupSpec:  cfg.Scheduler.CleanupSpec,
			Retention:    cfg.Scheduler.Retention,
		})
		g.Go(func() error { return svc.Run(ctx) })
		g.Go(func() error { return svc.Listen(ctx) })
	}

	renderer := content.NewRenderer(store, InitStorage(cfg), content.NewHTTPSources(cfg.Content.BaseURL, cfg.Content.Timeout))
	screenshots := redis.NewScreenshots(redis.Rdb, cfg.Redis.ScreenshotLifetime)
	sessions := session.NewManager(store, layer, renderer, screenshots, session.Options{Location: loc})

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if err := RegisterRoutes(ctx, r, cfg, dependencies{
		store:       store,
		bus:         bus,
		scheduler:   svc,
		sessions:    sessions,
		screenshots: screenshots,
		renderer:    renderer,
	}); err != nil {
		log.Fatal().Err(err).Msg("routes")
	}

	srv := &http.Server{Addr: cfg.Server.Address, Handler: r}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Address).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server stopped")
}

// openBus connects the control channel publish requests travel on.
func openBus(cfg *config.Config) (control.Bus, func(), error) {
	switch cfg.Control.Bus {
	case config.BusAMQP:
		conn, err := amqp.Dial(cfg.Control.AMQPURL)
		if err != nil {
			return nil, nil, err
		}
		bus, err := control.NewAMQP(conn, cfg.Control.Channel)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return bus, func() {
			_ = bus.Close()
			_ = conn.Close()
		}, nil
	case config.BusRedis:
		return control.NewRedis(redis.Rdb, cfg.Control.Channel), func() {}, nil
	default:
		return control.NewMemory(64), func() {}, nil
	}
}
