// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/store"
	"github.com/tradojo/booking/store/dynamostore"
)

// Backend names accepted in BOOKING_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config holds every setting of the booking processes.
type Config struct {
	HTTPAddr        string        `env:"BOOKING_HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"BOOKING_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"BOOKING_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Backend     string `env:"BOOKING_BACKEND" envDefault:"memory"`
	SQLitePath  string `env:"BOOKING_SQLITE_PATH" envDefault:"booking.db"`
	MySQLDSN    string `env:"BOOKING_MYSQL_DSN"`
	PostgresDSN string `env:"BOOKING_POSTGRES_DSN"`

	OpTimeout          time.Duration `env:"BOOKING_OP_TIMEOUT" envDefault:"5s"`
	MaxConflictRetries int           `env:"BOOKING_MAX_CONFLICT_RETRIES" envDefault:"5"`
	CascadeConcurrency int           `env:"BOOKING_CASCADE_CONCURRENCY" envDefault:"8"`

	Dynamo Dynamo `envPrefix:"BOOKING_DYNAMO_"`

	RedisAddr     string        `env:"BOOKING_REDIS_ADDR"`
	RedisPassword string        `env:"BOOKING_REDIS_PASSWORD"`
	RedisDB       int           `env:"BOOKING_REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"BOOKING_CACHE_TTL" envDefault:"5m"`

	AMQPURL      string `env:"BOOKING_AMQP_URL"`
	AMQPExchange string `env:"BOOKING_AMQP_EXCHANGE" envDefault:"booking.events"`

	JWTSecret  string        `env:"BOOKING_JWT_SECRET"`
	TokenTTL   time.Duration `env:"BOOKING_TOKEN_TTL" envDefault:"24h"`
	BcryptCost int           `env:"BOOKING_BCRYPT_COST" envDefault:"10"`

	Discord Discord `envPrefix:"BOOKING_DISCORD_"`
}

// Dynamo configures the DynamoDB backend.
type Dynamo struct {
	Region      string `env:"REGION"`
	Endpoint    string `env:"ENDPOINT"`
	TablePrefix string `env:"TABLE_PREFIX" envDefault:"booking_"`
	IndexTable  string `env:"INDEX_TABLE" envDefault:"booking_indexes"`
	UniqueTable string `env:"UNIQUE_TABLE" envDefault:"booking_unique_constraints"`
	NumShards   int    `env:"NUM_SHARDS" envDefault:"1"`
}

// Discord configures the community guild integration. It is disabled when
// Token is empty.
type Discord struct {
	Token           string `env:"TOKEN"`
	GuildID         string `env:"GUILD_ID"`
	CustomerRoleID  string `env:"CUSTOMER_ROLE_ID"`
	SuspendedRoleID string `env:"SUSPENDED_ROLE_ID"`
	ClientID        string `env:"CLIENT_ID"`
	ClientSecret    string `env:"CLIENT_SECRET"`
	RedirectURI     string `env:"REDIRECT_URI"`
	APIBase         string `env:"API_BASE" envDefault:"https://discord.com/api/v10"`
}

// Load reads the optional dotenv files, then the environment. Variables
// already set in the environment win over the files.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) > 0 {
		if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load dotenv: %w", err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendDynamoDB:
	case BackendMySQL:
		if c.MySQLDSN == "" {
			return errors.New("config: BOOKING_MYSQL_DSN is required for the mysql backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: BOOKING_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Discord.Token != "" && c.Discord.GuildID == "" {
		return errors.New("config: BOOKING_DISCORD_GUILD_ID is required when a discord token is set")
	}
	return nil
}

// Engine returns the booking engine configuration.
func (c Config) Engine() booking.Config {
	return booking.Config{
		Store: store.Config{
			OpTimeout:          c.OpTimeout,
			MaxConflictRetries: c.MaxConflictRetries,
		},
		CascadeConcurrency: c.CascadeConcurrency,
	}
}

// DynamoStore returns the DynamoDB backend configuration.
func (c Config) DynamoStore() dynamostore.Config {
	return dynamostore.Config{
		TablePrefix: c.Dynamo.TablePrefix,
		IndexTable:  c.Dynamo.IndexTable,
		UniqueTable: c.Dynamo.UniqueTable,
		NumShards:   c.Dynamo.NumShards,
	}
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
