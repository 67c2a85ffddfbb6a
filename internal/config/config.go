package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	Env      string `yaml:"env"`
	HTTPAddr string `yaml:"http_addr"`
	LogMode  string `yaml:"log_mode"`

	DB    DBConfig    `yaml:"db"`
	Redis RedisConfig `yaml:"redis"`

	SessionStore string        `yaml:"session_store"` // memory|redis
	SessionTTL   time.Duration `yaml:"session_ttl"`

	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	CORSOrigins []string      `yaml:"cors_origins"`
}

type DBConfig struct {
	Driver   string `yaml:"driver"` // postgres|sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Default() Config {
	return Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		LogMode:  "dev",
		DB: DBConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    "5432",
			User:    "studytrack",
			Name:    "studytrack",
			SSLMode: "disable",
		},
		Redis:        RedisConfig{Addr: "localhost:6379"},
		SessionStore: SessionStoreMemory,
		SessionTTL:   6 * time.Hour,
		JWTSecret:    "studytrack-dev-signing-key",
		TokenTTL:     72 * time.Hour,
		CORSOrigins:  []string{"*"},
	}
}

// Load applies defaults, then the YAML file at path (if any), then
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envOr("APP_ENV", cfg.Env)
	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr)
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.LogMode = envOr("LOG_MODE", cfg.LogMode)

	cfg.DB.Driver = envOr("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = envOr("DB_DSN", cfg.DB.DSN)
	cfg.DB.Host = envOr("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = envOr("DB_PORT", cfg.DB.Port)
	cfg.DB.User = envOr("DB_USER", cfg.DB.User)
	cfg.DB.Password = envOr("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = envOr("DB_NAME", cfg.DB.Name)
	cfg.DB.SSLMode = envOr("DB_SSLMODE", cfg.DB.SSLMode)

	cfg.Redis.Addr = envOr("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envOr("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)

	cfg.SessionStore = envOr("SESSION_STORE", cfg.SessionStore)
	cfg.SessionTTL = envDuration("PRACTICE_SESSION_TTL", cfg.SessionTTL)

	cfg.JWTSecret = envOr("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = envDuration("TOKEN_TTL", cfg.TokenTTL)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.SessionStore {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.IsProd() && (c.JWTSecret == "" || c.JWTSecret == Default().JWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c Config) IsProd() bool {
	e := strings.ToLower(c.Env)
	return e == "prod" || e == "production"
}

// PostgresDSN builds a lib/pq connection string from the discrete settings
// unless an explicit DSN was given.
func (d DBConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func envOr(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
