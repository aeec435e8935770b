// Package config provides shared environment variable helpers.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvOr returns the environment variable value or a fallback default.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvOrInt returns an integer environment variable or a fallback default.
// Logs a warning if the value is set but not parseable.
func EnvOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}

// EnvOrBool accepts the forms understood by strconv.ParseBool.
func EnvOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid bool env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return b
}

// EnvOrDuration reads an integer count of unit, e.g. TOKEN_TTL_HOURS with
// unit time.Hour. Negative values fall back.
func EnvOrDuration(key string, unit, fallback time.Duration) time.Duration {
	n := EnvOrInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

// EnvList splits a comma-separated variable, dropping blank entries.
func EnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
