// Package config assembles the relay's runtime configuration from
// environment variables, with an optional YAML overlay for tunables that
// are awkward as env vars.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBlockedColos are the edge locations refused with 429.
var DefaultBlockedColos = []string{"DME", "LED", "SVX", "KJA"}

// Config is the fully resolved runtime configuration.
type Config struct {
	// Pass is the client bearer secret. Empty disables client auth.
	Pass string
	// Keys are the upstream Gemini API keys, in rotation order.
	Keys []string
	// Backends are the TTS worker base URLs, in rotation order.
	Backends []string
	// DefaultModel substitutes a missing model field on chat requests.
	DefaultModel string
	// BaseURL overrides the Gemini API host.
	BaseURL string

	Host   string
	Port   string
	DBPath string

	Verbose       bool
	BlockedColos  []string
	Abbreviations []string
}

// Overlay is the optional YAML file named by RELAY_CONFIG_FILE.
type Overlay struct {
	Abbreviations []string `yaml:"abbreviations"`
	BlockedColos  []string `yaml:"blocked_colos"`
}

// FromEnv reads the configuration using the given lookup function
// (normally os.Getenv). Numbered keys are read contiguously from 1.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Pass:         getenv("PASS"),
		Keys:         numbered(getenv, "KEY%d"),
		Backends:     numbered(getenv, "BACKEND_SERVICE_%d"),
		DefaultModel: getenv("DEFAULT_MODEL"),
		BaseURL:      getenv("OPENAI_API_BASE_URL"),
		Host:         getenv("HOST"),
		Port:         getenv("PORT"),
		DBPath:       getenv("RELAY_DB"),
		Verbose:      isTruthy(getenv("RELAY_VERBOSE")),
		BlockedColos: DefaultBlockedColos,
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "relay.db"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	if path := getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, fmt.Errorf("config overlay %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if len(overlay.Abbreviations) > 0 {
		c.Abbreviations = overlay.Abbreviations
	}
	if overlay.BlockedColos != nil {
		c.BlockedColos = overlay.BlockedColos
	}
	return nil
}

// numbered collects pattern-formatted keys starting at index 1 and stops at
// the first gap.
func numbered(getenv func(string) string, pattern string) []string {
	var values []string
	for i := 1; ; i++ {
		v := getenv(fmt.Sprintf(pattern, i))
		if v == "" {
			break
		}
		values = append(values, v)
	}
	return values
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
