package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the portal client.
type Config struct {
	Port string
	Env  string

	// Backend endpoints
	APIURL    string
	SocketURL string

	// Durable client storage
	StorageURL string
	StorageKey string // base64, seals the persisted credential when set

	CORSOrigins []string
	TrustProxy  bool // honour X-Forwarded-For / X-Real-IP from a fronting proxy
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:       getEnv("PORT", "8090"),
		Env:        getEnv("ENV", "development"),
		APIURL:     strings.TrimRight(getEnv("CARELINK_API_URL", "http://localhost:5000/api"), "/"),
		SocketURL:  os.Getenv("CARELINK_SOCKET_URL"),
		StorageURL: getEnv("CARELINK_STORAGE", "./data/carelink.db"),
		StorageKey: os.Getenv("CARELINK_STORAGE_KEY"),
		TrustProxy: getEnv("TRUST_PROXY", "false") == "true",
	}

	if cfg.SocketURL == "" {
		cfg.SocketURL = SocketURLFor(cfg.APIURL)
	}

	for _, origin := range strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	// In production, require an explicit backend and a sealing key
	if cfg.Env == "production" {
		if os.Getenv("CARELINK_API_URL") == "" {
			panic("CARELINK_API_URL is required in production")
		}
		if cfg.StorageKey == "" {
			panic("CARELINK_STORAGE_KEY is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SocketURLFor derives the realtime endpoint from the REST base URL:
// same host, ws/wss scheme, path /ws.
func SocketURLFor(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:5000/ws"
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
