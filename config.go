// Package backend holds the runtime configuration for the account service.
package backend

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config is loaded from the environment on startup. The two token secrets
// must be distinct: access and refresh tokens are verified independently.
type Config struct {
	Addr        string
	DatabaseDSN string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	Redis RedisConfig
	S3    S3Config
	SMTP  SMTPConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// S3Config points at the S3-compatible bucket that stores avatar and cover
// images. BaseURL is the public prefix returned to clients.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	BaseURL   string
}

// SMTPConfig is optional; when Host is empty no mail is sent.
type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// Load reads configuration from the environment and validates the pieces the
// service cannot run without.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("ADDR", ":8080"),
		DatabaseDSN:        os.Getenv("DATABASE_DSN"),
		AccessTokenSecret:  os.Getenv("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    os.Getenv("S3_BUCKET"),
			BaseURL:   os.Getenv("S3_BASE_URL"),
		},
		SMTP: SMTPConfig{
			Host: os.Getenv("SMTP_HOST"),
			Port: os.Getenv("SMTP_PORT"),
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
			From: os.Getenv("SMTP_FROM"),
		},
	}

	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		return nil, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}
	if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" || cfg.S3.Bucket == "" {
		return nil, errors.New("S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET are required")
	}

	var err error
	if cfg.AccessTokenExpiry, err = getDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenExpiry, err = getDuration("REFRESH_TOKEN_EXPIRY", 10*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenExpiry <= cfg.AccessTokenExpiry {
		return nil, errors.New("REFRESH_TOKEN_EXPIRY must be longer than ACCESS_TOKEN_EXPIRY")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
