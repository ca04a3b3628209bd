package config

import (
	"os"
	"strings"
)

// Config contains runtime configuration required by the service.
//
// Missing values never fail startup: the service boots into a degraded mode
// (empty reads, assistant offline) so a dashboard without credentials still
// serves health checks and static state.
type Config struct {
	DBURL        string
	AssistantKey string
	Model        string
	ListenAddr   string
}

// Load reads configuration from environment variables.
func Load() Config {
	cfg := Config{
		DBURL:        strings.TrimSpace(os.Getenv("DB_URL")),
		AssistantKey: strings.TrimSpace(os.Getenv("GENAI_API_KEY")),
		Model:        strings.TrimSpace(os.Getenv("GENAI_MODEL")),
		ListenAddr:   strings.TrimSpace(os.Getenv("LISTEN_ADDR")),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	return cfg
}

// StoreConfigured reports whether the event store can be reached at all.
func (c Config) StoreConfigured() bool {
	return c.DBURL != ""
}

// AssistantConfigured reports whether the generative service has a credential.
func (c Config) AssistantConfigured() bool {
	return c.AssistantKey != ""
}
