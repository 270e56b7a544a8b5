package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	RevocationStorePostgres = "postgres"
	RevocationStoreRedis    = "redis"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Images    ImagesConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret          string
	AccessExpiry    int // in minutes
	RevocationStore string
}

type ImagesConfig struct {
	Dir            string
	PublicPath     string
	MaxUploadMB    int
	PruneOnReplace bool
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   int // in seconds
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() *Config {
	// .env values go into the process environment so that non-viper code sees them too
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ACCESS_EXPIRY", 60)
	viper.SetDefault("TOKEN_REVOCATION_STORE", RevocationStorePostgres)
	viper.SetDefault("IMAGES_DIR", "storage/app/public/images")
	viper.SetDefault("IMAGES_PUBLIC_PATH", "/storage/images")
	viper.SetDefault("IMAGES_MAX_UPLOAD_MB", 10)
	viper.SetDefault("IMAGES_PRUNE_ON_REPLACE", false)
	viper.SetDefault("RATE_LIMIT_ENABLED", false)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:     viper.GetString("SERVER_PORT"),
			Env:      viper.GetString("SERVER_ENV"),
			LogLevel: viper.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:          viper.GetString("JWT_SECRET"),
			AccessExpiry:    viper.GetInt("JWT_ACCESS_EXPIRY"),
			RevocationStore: strings.ToLower(viper.GetString("TOKEN_REVOCATION_STORE")),
		},
		Images: ImagesConfig{
			Dir:            viper.GetString("IMAGES_DIR"),
			PublicPath:     viper.GetString("IMAGES_PUBLIC_PATH"),
			MaxUploadMB:    viper.GetInt("IMAGES_MAX_UPLOAD_MB"),
			PruneOnReplace: viper.GetBool("IMAGES_PRUNE_ON_REPLACE"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  viper.GetBool("RATE_LIMIT_ENABLED"),
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET must be set in production")
		}
		log.Printf("Warning: JWT_SECRET is empty, tokens are signed with an empty key")
	}
	if c.JWT.AccessExpiry <= 0 {
		return errors.New("JWT_ACCESS_EXPIRY must be positive")
	}
	switch c.JWT.RevocationStore {
	case RevocationStorePostgres, RevocationStoreRedis:
	default:
		return errors.New("TOKEN_REVOCATION_STORE must be postgres or redis")
	}
	if c.Images.Dir == "" {
		return errors.New("IMAGES_DIR must be set")
	}
	if c.Images.MaxUploadMB <= 0 {
		return errors.New("IMAGES_MAX_UPLOAD_MB must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate limit requests and window must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// NeedsRedis is true when any enabled component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.RateLimit.Enabled || c.JWT.RevocationStore == RevocationStoreRedis
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessExpiry) * time.Minute
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Images.MaxUploadMB) << 20
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
