package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"whiteboard_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"whiteboard_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"whiteboard_db"`

	// Shared HS256 secret of the token issuer.
	AuthJWTSecret string `env:"AUTH_JWT_SECRET,required" validate:"min=16"`

	WsProbeInterval    time.Duration `env:"WS_PROBE_INTERVAL"     envDefault:"25s"     validate:"gt=0"`
	WsIdleTimeout      time.Duration `env:"WS_IDLE_TIMEOUT"       envDefault:"70s"     validate:"gtfield=WsProbeInterval"`
	WsMaxBufferedBytes int           `env:"WS_MAX_BUFFERED_BYTES" envDefault:"4194304" validate:"gt=0"`
	WsMaxMessageSize   int64         `env:"WS_MAX_MESSAGE_SIZE"   envDefault:"8388608" validate:"gt=0"`
	WsWriteWait        time.Duration `env:"WS_WRITE_WAIT"         envDefault:"10s"     validate:"gt=0"`
	WsSendQueue        int           `env:"WS_SEND_QUEUE"         envDefault:"256"     validate:"min=1"`
	WsSnapshotTTL      time.Duration `env:"WS_SNAPSHOT_TTL"       envDefault:"24h"     validate:"gte=0"`

	// Redis -> Postgres snapshot mirror period.
	SnapshotArchiveInterval time.Duration `env:"SNAPSHOT_ARCHIVE_INTERVAL" envDefault:"10s" validate:"gt=0"`

	RateLimitPerIP float64 `env:"RATE_LIMIT_PER_IP" envDefault:"20" validate:"gt=0"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
