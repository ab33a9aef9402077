package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type AppConfig struct {
	Server   ServerConfig
	Game     GameConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         int           `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RateLimit    int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"300"`
}

// GameConfig drives the round coordinator and the outcome generator.
// Phase durations and house edge are deployment knobs, never constants
// at call sites.
type GameConfig struct {
	WaitingDuration time.Duration `env:"GAME_WAITING_DURATION" envDefault:"3s"`
	BettingDuration time.Duration `env:"GAME_BETTING_DURATION" envDefault:"8s"`
	CrashedDuration time.Duration `env:"GAME_CRASHED_DURATION" envDefault:"4s"`
	TickInterval    time.Duration `env:"GAME_TICK_INTERVAL" envDefault:"75ms"`

	HouseEdge     float64 `env:"GAME_HOUSE_EDGE" envDefault:"0.03"`
	MaxMultiplier float64 `env:"GAME_MAX_MULTIPLIER" envDefault:"1000"`

	MinStake int64 `env:"GAME_MIN_STAKE" envDefault:"1"`
	MaxStake int64 `env:"GAME_MAX_STAKE" envDefault:"100000"`

	HistorySize int `env:"GAME_HISTORY_SIZE" envDefault:"50"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_URL" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type PostgresConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Database string `env:"DB_DATABASE" envDefault:"jetlumiere"`
	Username string `env:"DB_USERNAME" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Schema   string `env:"DB_SCHEMA" envDefault:"public"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg.Server); err != nil {
		return AppConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if err := env.Parse(&cfg.Game); err != nil {
		return AppConfig{}, fmt.Errorf("parse game config: %w", err)
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return AppConfig{}, fmt.Errorf("parse redis config: %w", err)
	}
	if err := env.Parse(&cfg.Postgres); err != nil {
		return AppConfig{}, fmt.Errorf("parse postgres config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return AppConfig{}, fmt.Errorf("parse log config: %w", err)
	}
	if err := cfg.Game.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c GameConfig) Validate() error {
	if c.HouseEdge < 0 || c.HouseEdge >= 1 {
		return fmt.Errorf("house edge %v outside [0,1)", c.HouseEdge)
	}
	if c.MaxMultiplier < 1 {
		return fmt.Errorf("max multiplier %v below 1.0", c.MaxMultiplier)
	}
	if c.MinStake <= 0 || c.MaxStake < c.MinStake {
		return fmt.Errorf("invalid stake bounds [%d, %d]", c.MinStake, c.MaxStake)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}
