package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     string   `yaml:"readTimeout"`
	WriteTimeout    string   `yaml:"writeTimeout"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	RateLimitRPS    float64  `yaml:"rateLimitRps"`
	RateLimitBurst  int      `yaml:"rateLimitBurst"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // smarttalk
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN string `yaml:"dsn"` // empty: in-memory store
}

type Redis struct {
	Addr       string `yaml:"addr"`
	Channel    string `yaml:"channel"`
	PreviewTTL string `yaml:"previewTtl"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Feed struct {
	Backend string `yaml:"backend"` // memory|redis|nats
}

type Auth struct {
	JWTSecret           string `yaml:"jwtSecret"`
	Issuer              string `yaml:"issuer"`
	AllowDemo           bool   `yaml:"allowDemo"`
	AuthorEmail         string `yaml:"authorEmail"`
	FirebaseProject     string `yaml:"firebaseProject"`
	FirebaseCredentials string `yaml:"firebaseCredentials"`
}

type Storage struct {
	Backend     string `yaml:"backend"` // local|gcs
	Dir         string `yaml:"dir"`
	BaseURL     string `yaml:"baseUrl"`
	Bucket      string `yaml:"bucket"`
	Credentials string `yaml:"credentials"`
}

type LinkPreview struct {
	Enabled      bool   `yaml:"enabled"`
	Timeout      string `yaml:"timeout"`
	AllowPrivate bool   `yaml:"allowPrivate"`
}

type Config struct {
	HTTP        HTTP        `yaml:"http"`
	Logging     Logging     `yaml:"logging"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	NATS        NATS        `yaml:"nats"`
	Feed        Feed        `yaml:"feed"`
	Auth        Auth        `yaml:"auth"`
	Storage     Storage     `yaml:"storage"`
	LinkPreview LinkPreview `yaml:"linkPreview"`
}

// LoadConfig reads .env, then the YAML file at CONFIG_PATH (optional), then
// applies environment overrides for secrets and endpoints.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Logging.Env, "APP_ENV")
	setString(&c.Postgres.DSN, "DB_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Feed.Backend, "FEED_BACKEND")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.AuthorEmail, "AUTHOR_EMAIL")
	setString(&c.Auth.FirebaseProject, "FIREBASE_PROJECT_ID")
	setString(&c.Auth.FirebaseCredentials, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Storage.Bucket, "GCS_BUCKET")
	if v, err := strconv.ParseBool(os.Getenv("ALLOW_DEMO")); err == nil {
		c.Auth.AllowDemo = v
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimitRPS <= 0 {
		c.HTTP.RateLimitRPS = 5
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 10
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "smarttalk"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	c.Feed.Backend = strings.ToLower(c.Feed.Backend)
	switch c.Feed.Backend {
	case "":
		c.Feed.Backend = "memory"
		if c.Redis.Addr != "" {
			c.Feed.Backend = "redis"
		}
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis feed")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url is required for the nats feed")
		}
	default:
		return fmt.Errorf("feed.backend %q is not one of memory|redis|nats", c.Feed.Backend)
	}

	if c.Auth.JWTSecret == "" && c.Auth.FirebaseProject == "" && !c.Auth.AllowDemo {
		return errors.New("auth: configure jwtSecret, firebaseProject or allowDemo")
	}
	c.Auth.AuthorEmail = strings.ToLower(strings.TrimSpace(c.Auth.AuthorEmail))

	switch c.Storage.Backend {
	case "", "local":
		c.Storage.Backend = "local"
		if c.Storage.Dir == "" {
			c.Storage.Dir = "./uploads"
		}
		if c.Storage.BaseURL == "" {
			c.Storage.BaseURL = "/uploads"
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local|gcs", c.Storage.Backend)
	}
	return nil
}

func (h HTTP) Timeouts() (read, write, shutdown time.Duration) {
	return parseDurationOr(10*time.Second, h.ReadTimeout),
		parseDurationOr(30*time.Second, h.WriteTimeout),
		parseDurationOr(15*time.Second, h.ShutdownTimeout)
}

func (r Redis) PreviewCacheTTL() time.Duration {
	return parseDurationOr(time.Hour, r.PreviewTTL)
}

func (l LinkPreview) FetchTimeout() time.Duration {
	return parseDurationOr(5*time.Second, l.Timeout)
}

// helper for parsing timeouts
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
