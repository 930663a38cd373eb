package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort       int
	SQLitePath     string
	JWTSecret      string
	JWTIssuer      string
	WorkspacesFile string
	MaxReservation time.Duration
	// RedisAddr enables write rate limiting when set.
	RedisAddr string
	// RateLimit is the number of writes a user may make per minute.
	RateLimit int
	// AMQPURL enables lifecycle event publishing when set.
	AMQPURL     string
	EventsQueue string
	// AMQPDialTimeout bounds connecting to the broker on the write path.
	AMQPDialTimeout time.Duration
}

// Load reads an optional .env file from the working directory and then
// parses the process environment.
func Load() (Config, error) {
	return LoadWithFile(".env")
}

// LoadWithFile parses configuration values from the environment after loading
// envFile, if it exists. Variables already present in the environment win over
// the file.
//
// The loader applies sensible defaults for optional fields while validating
// required values and reporting localized error messages for missing entries.
func LoadWithFile(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf(".env ファイルを読み込めません: %w", err)
		}
	}

	cfg := Config{
		HTTPPort:        8080,
		SQLitePath:      "scheduler.db",
		MaxReservation:  12 * time.Hour,
		RateLimit:       60,
		EventsQueue:     "reservation-events",
		AMQPDialTimeout: 3 * time.Second,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if portValue := lookup("SCHEDULER_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "SCHEDULER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if path := lookup("SCHEDULER_SQLITE_PATH"); path != "" {
		cfg.SQLitePath = path
	}

	if secret := lookup("SCHEDULER_JWT_SECRET"); secret == "" {
		missing = append(missing, "SCHEDULER_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}
	cfg.JWTIssuer = lookup("SCHEDULER_JWT_ISSUER")

	cfg.WorkspacesFile = lookup("SCHEDULER_WORKSPACES_FILE")

	if maxValue := lookup("SCHEDULER_MAX_RESERVATION"); maxValue != "" {
		d, err := time.ParseDuration(maxValue)
		if err != nil || d <= 0 {
			invalid = append(invalid, "SCHEDULER_MAX_RESERVATION")
		} else {
			cfg.MaxReservation = d
		}
	}

	cfg.RedisAddr = lookup("SCHEDULER_REDIS_ADDR")

	if limitValue := lookup("SCHEDULER_RATE_LIMIT"); limitValue != "" {
		limit, err := strconv.Atoi(limitValue)
		if err != nil || limit <= 0 {
			invalid = append(invalid, "SCHEDULER_RATE_LIMIT")
		} else {
			cfg.RateLimit = limit
		}
	}

	cfg.AMQPURL = lookup("SCHEDULER_AMQP_URL")
	if queue := lookup("SCHEDULER_EVENTS_QUEUE"); queue != "" {
		cfg.EventsQueue = queue
	}
	if timeoutValue := lookup("SCHEDULER_AMQP_DIAL_TIMEOUT"); timeoutValue != "" {
		d, err := time.ParseDuration(timeoutValue)
		if err != nil || d <= 0 {
			invalid = append(invalid, "SCHEDULER_AMQP_DIAL_TIMEOUT")
		} else {
			cfg.AMQPDialTimeout = d
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
