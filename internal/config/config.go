// Package config loads the environment configuration the core recognizes
// (spec §6): listen port, CORS origin allowlist, cache store coordinates,
// document store coordinates. Everything else belongs to out-of-scope
// collaborators and is not modeled here.
package config

import (
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved environment configuration.
type Config struct {
	// Addr is the HTTP/WebSocket listen address, derived from PORT.
	Addr string
	// DataDir holds the DuckDB document store file.
	DataDir string
	// FrontendURL is the primary allowed CORS origin.
	FrontendURL string
	// CORSOrigins is a set of glob patterns (path.Match syntax) checked
	// against the request Origin header in addition to FrontendURL.
	CORSOrigins []string
	// CacheAddr/CachePassword/CacheDB locate the Cache Store (§6). An
	// empty CacheAddr means "use the in-process MemoryStore" (local/dev).
	CacheAddr     string
	CachePassword string
	CacheDB       int
	// PersistDebounce is the debounced flush interval for non-critical
	// operations (spec §4.7 default 1500ms), overridable for tests.
	PersistDebounce time.Duration
}

// Load reads configuration from environment variables (and an optional
// .env-style file in the working directory), applying defaults for
// anything unset, the way the teacher's cli/serve.go composes its own
// Config struct from flags and env.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("CACHE_ADDR", "")
	v.SetDefault("CACHE_PASSWORD", "")
	v.SetDefault("CACHE_DB", 0)
	v.SetDefault("DATA_DIR", "./data")

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional; absence is not an error

	cfg := Config{
		Addr:            ":" + strings.TrimPrefix(v.GetString("PORT"), ":"),
		DataDir:         v.GetString("DATA_DIR"),
		FrontendURL:     v.GetString("FRONTEND_URL"),
		CORSOrigins:     splitNonEmpty(v.GetString("CORS_ORIGINS")),
		CacheAddr:       v.GetString("CACHE_ADDR"),
		CachePassword:   v.GetString("CACHE_PASSWORD"),
		CacheDB:         v.GetInt("CACHE_DB"),
		PersistDebounce: 1500 * time.Millisecond,
	}
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AllowOrigin reports whether origin is permitted by FrontendURL or any
// wildcard pattern in CORSOrigins (glob syntax, e.g. "https://*.example.com").
func (c Config) AllowOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if origin == c.FrontendURL {
		return true
	}
	for _, pattern := range c.CORSOrigins {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}
