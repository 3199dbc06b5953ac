// Package config holds toolkit-wide settings loaded from the environment.
// Flags override these at the CLI layer.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds conversion + cache settings.
type Config struct {
	// CacheDir is where the MXF index cache database lives.
	CacheDir string // e.g. /var/cache/ttx-tool
	// ClearDelayFrames is the STL exporter's clear grace period.
	ClearDelayFrames int
	// HeaderScanBytes caps the MXF header scan for the TimecodeComponent.
	HeaderScanBytes int64
	// LogLevel is the zerolog level name.
	LogLevel string
}

// Load reads config from environment with defaults suitable for one-shot
// CLI runs.
func Load() *Config {
	return &Config{
		CacheDir:         getEnv("TTX_CACHE_DIR", defaultCacheDir()),
		ClearDelayFrames: getEnvInt("TTX_CLEAR_DELAY_FRAMES", 30),
		HeaderScanBytes:  int64(getEnvInt("TTX_HEADER_SCAN_BYTES", 128*1024)),
		LogLevel:         getEnv("TTX_LOG_LEVEL", "info"),
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "ttx-tool")
	}
	return ".ttx-cache"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
