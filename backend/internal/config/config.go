// Package config is the flat, env-overridable configuration struct for
// the agentdesk daemon, grounded on vanducng-goclaw's internal/config
// package (cmd/root.go's --config flag, config.Load/Default/env-override
// pattern) — generalized from goclaw's deeply nested multi-channel
// config down to the handful of knobs this daemon actually needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config holds every wiring knob for cmd/agentdeskd.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address, e.g. ":8080".
	ListenAddr string `json:"listen_addr"`

	// DBPath is the SQLite database file (or ":memory:" for tests).
	DBPath string `json:"db_path"`

	// JournalRoot is the filesystem root the Watcher scans for
	// project/session *.jsonl journal files.
	JournalRoot string `json:"journal_root"`

	// AgentBinary is the path to the coding-assistant CLI binary the
	// Process Manager spawns (agent.CommandFactory).
	AgentBinary string `json:"agent_binary"`

	// PriceCatalogURL is the HTTPS endpoint Price Sync polls.
	PriceCatalogURL string `json:"price_catalog_url"`
	// PriceVendorPrefix filters the catalog to this vendor's model IDs.
	PriceVendorPrefix string `json:"price_vendor_prefix"`

	// AutoTitleProvider/AutoTitleModel configure the optional genai
	// auto-title feature. Leaving AutoTitleProvider empty disables it.
	AutoTitleProvider string `json:"auto_title_provider"`
	AutoTitleModel    string `json:"auto_title_model"`

	// ShutdownGraceSeconds is how long the Process Manager waits for Agents to
	// exit cleanly before force-killing the rest (spec §5).
	ShutdownGraceSeconds int `json:"shutdown_grace_seconds"`

	Verbose bool `json:"verbose"`
}

// Default returns a Config with sensible defaults for local use.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		DBPath:               "agentdesk.db",
		JournalRoot:          "~/.agentdesk/journals",
		AgentBinary:          "claude",
		PriceCatalogURL:      "https://models.dev/api.json",
		PriceVendorPrefix:    "claude-",
		ShutdownGraceSeconds: 5,
	}
}

// Load reads config from a JSON5 file (comments/trailing commas
// tolerated, matching the teacher's use of titanous/json5), then
// overlays environment variables. A missing file is not an error — the
// defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays AGENTDESK_* environment variables. Env vars
// take precedence over file values, matching goclaw's GOCLAW_* scheme.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTDESK_LISTEN_ADDR", &c.ListenAddr)
	envStr("AGENTDESK_DB_PATH", &c.DBPath)
	envStr("AGENTDESK_JOURNAL_ROOT", &c.JournalRoot)
	envStr("AGENTDESK_AGENT_BINARY", &c.AgentBinary)
	envStr("AGENTDESK_PRICE_CATALOG_URL", &c.PriceCatalogURL)
	envStr("AGENTDESK_PRICE_VENDOR_PREFIX", &c.PriceVendorPrefix)
	envStr("AGENTDESK_AUTO_TITLE_PROVIDER", &c.AutoTitleProvider)
	envStr("AGENTDESK_AUTO_TITLE_MODEL", &c.AutoTitleModel)

	if v := os.Getenv("AGENTDESK_SHUTDOWN_GRACE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ShutdownGraceSeconds = n
		}
	}
	if v := os.Getenv("AGENTDESK_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
