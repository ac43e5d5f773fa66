package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"APP_ENV" envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Server      struct {
		Address         string        `env:"ADDRESS" envDefault:":8080"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	} `envPrefix:"SERVER_"`
	Database struct {
		URL            string `env:"URL,required"`
		MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./migrations"`
		MaxOpenConns   int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
	} `envPrefix:"DATABASE_"`
	Redis struct {
		Address            string        `env:"ADDRESS" envDefault:"localhost:6379"`
		Username           string        `env:"USERNAME"`
		Password           string        `env:"PASSWORD"`
		ScreenshotLifetime time.Duration `env:"SCREENSHOT_LIFETIME" envDefault:"5m"`
		// BroadcastPrefix enables the cross-process broadcast layer when set.
		BroadcastPrefix string `env:"BROADCAST_PREFIX" envDefault:"signage:"`
	} `envPrefix:"REDIS_"`
	Control struct {
		Bus     string `env:"BUS" envDefault:"redis"`
		Channel string `env:"CHANNEL" envDefault:"signage-scheduler"`
		AMQPURL string `env:"AMQP_URL"`
	} `envPrefix:"CONTROL_"`
	MQTT struct {
		Broker      string        `env:"BROKER"`
		ClientID    string        `env:"CLIENT_ID" envDefault:"signage-scheduler"`
		TopicPrefix string        `env:"TOPIC_PREFIX" envDefault:"signage"`
		Timeout     time.Duration `env:"TIMEOUT" envDefault:"5s"`
	} `envPrefix:"MQTT_"`
	Scheduler struct {
		Enabled      bool          `env:"ENABLED" envDefault:"true"`
		Timezone     string        `env:"TIMEZONE" envDefault:"Europe/Vienna"`
		MisfireGrace time.Duration `env:"MISFIRE_GRACE" envDefault:"30s"`
		CleanupSpec  string        `env:"CLEANUP_SPEC" envDefault:"@daily"`
		Retention    time.Duration `env:"RETENTION" envDefault:"720h"`
	} `envPrefix:"SCHEDULER_"`
	Spaces struct {
		Enabled    bool          `env:"ENABLED"`
		Endpoint   string        `env:"ENDPOINT"`
		Region     string        `env:"REGION"`
		Bucket     string        `env:"BUCKET"`
		CDNURL     string        `env:"CDN_URL"`
		AccessKey  string        `env:"ACCESS_KEY"`
		SecretKey  string        `env:"SECRET_KEY"`
		PresignTTL time.Duration `env:"PRESIGN_TTL" envDefault:"1h"`
	} `envPrefix:"SPACES_"`
	Content struct {
		BaseURL   string        `env:"BASE_URL" envDefault:"http://localhost:8000/api/"`
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
		MediaRoot string        `env:"MEDIA_ROOT" envDefault:"/media/"`
	} `envPrefix:"CONTENT_"`
}

const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusAMQP   = "amqp"
)

// Load reads an optional .env file and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing file is fine, the environment may be set directly
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Control.Bus {
	case BusMemory, BusRedis:
	case BusAMQP:
		if c.Control.AMQPURL == "" {
			return errors.New("CONTROL_AMQP_URL is required for the amqp bus")
		}
	default:
		return fmt.Errorf("unknown CONTROL_BUS %q", c.Control.Bus)
	}
	if c.Spaces.Enabled && (c.Spaces.Bucket == "" || c.Spaces.Endpoint == "") {
		return errors.New("SPACES_BUCKET and SPACES_ENDPOINT are required when SPACES_ENABLED")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Location is the zone daily schedule times are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err)
	}
	return loc, nil
}
