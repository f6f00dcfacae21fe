// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neexbeast/tour-search/internal/upstream"
)

// Config is the process configuration. Empty DatabaseURL, RedisURL or
// APIToken disable the features that need them.
type Config struct {
	Login         string
	Password      string
	BaseURL       string
	Port          string
	DatabaseURL   string
	RedisURL      string
	APIToken      string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	MigrationsDir string
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv. Every missing or invalid
// variable is reported in one error.
func LoadFrom(getenv func(string) string) (Config, error) {
	e := env{get: getenv}

	cfg := Config{
		Login:         e.must("SLETAT_LOGIN"),
		Password:      e.must("SLETAT_PASSWORD"),
		BaseURL:       e.or("SLETAT_BASE_URL", upstream.DefaultBaseURL),
		Port:          e.or("PORT", "8080"),
		DatabaseURL:   e.get("DATABASE_URL"),
		RedisURL:      e.get("REDIS_URL"),
		APIToken:      e.get("API_TOKEN"),
		PollInterval:  e.millis("SLETAT_POLL_INTERVAL_MS", 1500),
		PollTimeout:   e.millis("SLETAT_POLL_TIMEOUT_MS", 20000),
		MigrationsDir: e.or("MIGRATIONS_DIR", "migrations"),
	}

	if len(e.problems) > 0 {
		return Config{}, fmt.Errorf("invalid environment: %s", strings.Join(e.problems, "; "))
	}
	return cfg, nil
}

type env struct {
	get      func(string) string
	problems []string
}

func (e *env) must(key string) string {
	v := e.get(key)
	if v == "" {
		e.problems = append(e.problems, key+" is required")
	}
	return v
}

func (e *env) or(key, fallback string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return fallback
}

func (e *env) millis(key string, fallback int) time.Duration {
	v := e.get(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.problems = append(e.problems, key+" must be a positive number of milliseconds")
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
