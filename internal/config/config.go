package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultDatabaseDSN = "host=localhost user=postgres password=postgres dbname=retail port=5432 sslmode=disable"
	defaultCORSOrigins = "http://localhost:5173"

	minJWTSecretLength = 32
)

var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")
	ErrShortJWTSecret   = fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
)

type Config struct {
	Env         string
	HTTPPort    string
	DatabaseDSN string
	CORSOrigins string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration

	BcryptCost int

	// Warnings collected while loading; logged by the caller once a
	// logger exists.
	Warnings []string
}

// Load reads configuration from the environment, after loading a .env file
// if one is present. A missing or short signing secret is an error: the
// process must not start serving without it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", defaultDatabaseDSN),
		CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "retail-backend"),
		JWTAudience: getEnv("JWT_AUDIENCE", "retail-backend-clients"),
		TokenTTL:    2 * time.Hour,
		BcryptCost:  bcrypt.DefaultCost,
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("BCRYPT_COST must be an integer between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
		cfg.BcryptCost = cost
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DatabaseDSN == defaultDatabaseDSN {
		cfg.Warnings = append(cfg.Warnings, "DATABASE_DSN not set, using the local default")
	}
	if cfg.CORSOrigins == defaultCORSOrigins {
		cfg.Warnings = append(cfg.Warnings, "CORS_ALLOWED_ORIGINS not set, using the local default")
	}

	return cfg, nil
}

// Validate checks the settings that must hold before serving requests.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return ErrShortJWTSecret
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
