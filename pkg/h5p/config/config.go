package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/api"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/memory"
	repopg "github.com/tendant/simple-h5p/pkg/h5p/repo/postgres"
	"github.com/tendant/simple-h5p/pkg/h5p/session"
	fsstorage "github.com/tendant/simple-h5p/pkg/h5p/storage/fs"
	memorystorage "github.com/tendant/simple-h5p/pkg/h5p/storage/memory"
	s3storage "github.com/tendant/simple-h5p/pkg/h5p/storage/s3"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Environment  string `env:"HH5P_ENV" env-default:"development"`
	ApiKeySHA256 string `env:"API_KEY_SHA256"`

	DB       DbConfig
	Storage  StorageConfig
	S3       S3Config
	Session  SessionConfig
	Auth     AuthConfig
	Player   PlayerConfig
	Redirect RedirectConfig
}

type DbConfig struct {
	Type     string `env:"HH5P_DB_TYPE" env-default:"memory"` // memory, postgres
	URL      string `env:"HH5P_DATABASE_URL"`
	Port     uint16 `env:"HH5P_PG_PORT" env-default:"5432"`
	Host     string `env:"HH5P_PG_HOST" env-default:"localhost"`
	Name     string `env:"HH5P_PG_NAME" env-default:"hh5p"`
	User     string `env:"HH5P_PG_USER" env-default:"hh5p"`
	Password string `env:"HH5P_PG_PASSWORD" env-default:"pwd"`
	Migrate  bool   `env:"HH5P_DB_MIGRATE" env-default:"true"`
}

type StorageConfig struct {
	Backend string `env:"HH5P_STORAGE_BACKEND" env-default:"memory"` // memory, fs, s3
	BaseDir string `env:"HH5P_STORAGE_DIR" env-default:"./data/hh5p"`
}

type S3Config struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	BucketName      string `env:"AWS_S3_BUCKET" env-default:"hh5p"`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	Prefix          string `env:"AWS_S3_PREFIX"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

type SessionConfig struct {
	Backend     string        `env:"HH5P_SESSION_BACKEND" env-default:"memory"` // memory, redis
	RedisURL    string        `env:"HH5P_REDIS_URL" env-default:"redis://localhost:6379/0"`
	RedisPrefix string        `env:"HH5P_REDIS_PREFIX" env-default:"hh5p:session:"`
	TTL         time.Duration `env:"HH5P_SESSION_TTL" env-default:"2h"`
	CookieName  string        `env:"HH5P_SESSION_COOKIE" env-default:"hh5p_session"`
	Secure      bool          `env:"HH5P_SESSION_SECURE" env-default:"false"`
}

type AuthConfig struct {
	JWTSecret string `env:"HH5P_JWT_SECRET"`
}

type PlayerConfig struct {
	BaseURL     string   `env:"HH5P_BASE_URL" env-default:"http://localhost:3000"`
	AssetsURL   string   `env:"HH5P_ASSETS_URL" env-default:"http://localhost:3000/api/hh5p"`
	AjaxPath    string   `env:"HH5P_AJAX_PATH" env-default:"/api/hh5p/ajax"`
	CoreScripts []string `env:"HH5P_CORE_SCRIPTS" env-separator:","`
	CoreStyles  []string `env:"HH5P_CORE_STYLES" env-separator:","`
	AllowExport bool     `env:"HH5P_ALLOW_EXPORT" env-default:"true"`
}

type RedirectConfig struct {
	DefaultURL    string   `env:"HH5P_REDIRECT_URL" env-default:"/"`
	EditorURL     string   `env:"HH5P_EDITOR_URL"`
	AllowedHosts  []string `env:"HH5P_REDIRECT_HOSTS" env-separator:","`
	Locale        string   `env:"HH5P_LOCALE" env-default:"en"`
	MaxUploadSize int64    `env:"HH5P_MAX_UPLOAD_SIZE" env-default:"67108864"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DB.Type != "memory" && c.DB.Type != "postgres" {
		return errors.New("HH5P_DB_TYPE must be 'memory' or 'postgres'")
	}

	switch c.Storage.Backend {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return errors.New("HH5P_STORAGE_DIR is required when using fs storage")
		}
	case "s3":
		if c.S3.BucketName == "" {
			return errors.New("AWS_S3_BUCKET is required when using s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	if c.Session.Backend != "memory" && c.Session.Backend != "redis" {
		return errors.New("HH5P_SESSION_BACKEND must be 'memory' or 'redis'")
	}

	if c.Redirect.MaxUploadSize < 0 {
		return errors.New("HH5P_MAX_UPLOAD_SIZE must not be negative")
	}

	return nil
}

// ValidateServer validates the configuration and requires the settings only
// the HTTP server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("HH5P_JWT_SECRET is required")
	}
	return nil
}

// DatabaseURL returns HH5P_DATABASE_URL, or a URL built from the HH5P_PG_* fields.
func (c DbConfig) DatabaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}
	return u.String()
}

// BuildStore creates the persistence store. The returned func releases its
// connections.
func (c *Config) BuildStore(ctx context.Context) (h5p.Store, func(), error) {
	switch c.DB.Type {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		databaseURL := c.DB.DatabaseURL()
		if c.DB.Migrate {
			if err := repopg.Migrate(databaseURL); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return repopg.NewWithPool(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DB.Type)
	}
}

// BuildBlobStore creates the storage for packages, exports and library files.
func (c *Config) BuildBlobStore(ctx context.Context) (h5p.BlobStore, error) {
	switch c.Storage.Backend {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: c.Storage.BaseDir})
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.BucketName,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			Prefix:                 c.S3.Prefix,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Backend)
	}
}

// BuildSessionStore creates the session store. The returned func closes its
// client.
func (c *Config) BuildSessionStore(ctx context.Context) (session.Store, func(), error) {
	switch c.Session.Backend {
	case "memory":
		return session.NewMemoryStore(c.Session.TTL), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(c.Session.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse HH5P_REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("Failed to close redis client", "error", err)
			}
		}
		return session.NewRedisStore(client, c.Session.RedisPrefix, c.Session.TTL), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
}

// SessionOptions returns the cookie options of the session manager.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithCookieName(c.Session.CookieName),
		session.WithMaxAge(c.Session.TTL),
		session.WithSecureCookie(c.Session.Secure),
	}
}

// PlayerConfig returns the settings embedded in player configurations.
func (c *Config) PlayerConfig() h5p.PlayerConfig {
	return h5p.PlayerConfig{
		BaseURL:     c.Player.BaseURL,
		AssetsURL:   c.Player.AssetsURL,
		AjaxPath:    c.Player.AjaxPath,
		CoreScripts: c.Player.CoreScripts,
		CoreStyles:  c.Player.CoreStyles,
		AllowExport: c.Player.AllowExport,
	}
}

// HandlerConfig returns the redirect targets and limits of the content handler.
func (c *Config) HandlerConfig() api.Config {
	return api.Config{
		DefaultRedirectURL: c.Redirect.DefaultURL,
		EditorURL:          c.Redirect.EditorURL,
		Locale:             c.Redirect.Locale,
		MaxUploadSize:      c.Redirect.MaxUploadSize,
		RedirectHosts:      c.Redirect.AllowedHosts,
	}
}
