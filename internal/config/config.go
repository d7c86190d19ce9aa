package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	JWT         JWTConfig
	Dynamo      DynamoConfig
	Local       LocalConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	Matchmaking MatchmakingConfig
	Persistence PersistenceConfig
}

type ServerConfig struct {
	Port        string
	Mode        string
	CORSOrigins []string
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type DynamoConfig struct {
	Region        string
	Endpoint      string
	TablePrefix   string
	AutoProvision bool
}

type LocalConfig struct {
	SnapshotPath string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type MatchmakingConfig struct {
	Strategy     string
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

type PersistenceConfig struct {
	CheckInterval   time.Duration
	RemoteTimeout   time.Duration
	IndexRetryDelay time.Duration
}

// Load reads .env (if present) and resolves every setting through viper,
// so real environment variables always win over defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: no .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("SERVER_PORT"),
			Mode:        v.GetString("APP_MODE"),
			CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
			Expiry: v.GetDuration("JWT_EXPIRY"),
		},
		Dynamo: DynamoConfig{
			Region:        v.GetString("AWS_REGION"),
			Endpoint:      v.GetString("DYNAMO_ENDPOINT"),
			TablePrefix:   v.GetString("DYNAMO_TABLE_PREFIX"),
			AutoProvision: v.GetBool("DYNAMO_AUTO_PROVISION"),
		},
		Local: LocalConfig{
			SnapshotPath: v.GetString("LOCAL_SNAPSHOT_PATH"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
		},
		Matchmaking: MatchmakingConfig{
			Strategy:     v.GetString("MATCH_STRATEGY"),
			PollInterval: v.GetDuration("MATCH_POLL_INTERVAL"),
			LeaseTTL:     v.GetDuration("MATCH_LEASE_TTL"),
		},
		Persistence: PersistenceConfig{
			CheckInterval:   v.GetDuration("REMOTE_CHECK_INTERVAL"),
			RemoteTimeout:   v.GetDuration("REMOTE_TIMEOUT"),
			IndexRetryDelay: v.GetDuration("INDEX_RETRY_DELAY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("APP_MODE", "development")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")
	v.SetDefault("JWT_EXPIRY", 72*time.Hour)
	v.SetDefault("DYNAMO_TABLE_PREFIX", "anonchat_")
	v.SetDefault("DYNAMO_AUTO_PROVISION", true)
	v.SetDefault("LOCAL_SNAPSHOT_PATH", "data/local_store.json")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "anonchatdb")
	v.SetDefault("MATCH_STRATEGY", "ordered")
	v.SetDefault("MATCH_POLL_INTERVAL", DefaultPollInterval)
	v.SetDefault("MATCH_LEASE_TTL", DefaultLeaseTTL)
	v.SetDefault("REMOTE_CHECK_INTERVAL", DefaultCheckInterval)
	v.SetDefault("REMOTE_TIMEOUT", DefaultRemoteTimeout)
	v.SetDefault("INDEX_RETRY_DELAY", DefaultIndexRetryDelay)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Mode == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters in production")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	switch c.Matchmaking.Strategy {
	case "ordered", "random", "local":
	default:
		return fmt.Errorf("unknown match strategy %q", c.Matchmaking.Strategy)
	}
	if c.Matchmaking.PollInterval <= 0 || c.Persistence.CheckInterval <= 0 || c.Persistence.RemoteTimeout <= 0 {
		return fmt.Errorf("intervals and timeouts must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}
