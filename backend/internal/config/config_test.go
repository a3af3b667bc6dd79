package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadMissingFileReturnsDefaults verifies a missing config file is not
// an error — Load falls back to Default() plus any env overrides.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.ListenAddr != want.ListenAddr || cfg.DBPath != want.DBPath || cfg.AgentBinary != want.AgentBinary {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

// TestLoadParsesJSON5File verifies comments and trailing commas are
// tolerated and override the defaults.
func TestLoadParsesJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdesk.json5")
	content := `{
		// local dev override
		"listen_addr": ":9090",
		"agent_binary": "my-claude",
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected listen_addr override, got %q", cfg.ListenAddr)
	}
	if cfg.AgentBinary != "my-claude" {
		t.Fatalf("expected agent_binary override, got %q", cfg.AgentBinary)
	}
	// Untouched fields keep their defaults.
	if cfg.DBPath != Default().DBPath {
		t.Fatalf("expected db_path to stay default, got %q", cfg.DBPath)
	}
}

// TestEnvOverridesWinOverFile verifies AGENTDESK_* env vars take
// precedence over both the file and the defaults.
func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdesk.json5")
	if err := os.WriteFile(path, []byte(`{"listen_addr": ":9090"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTDESK_LISTEN_ADDR", ":7070")
	t.Setenv("AGENTDESK_SHUTDOWN_GRACE_SECONDS", "30")
	t.Setenv("AGENTDESK_VERBOSE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("expected env override of listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.ShutdownGraceSeconds != 30 {
		t.Fatalf("expected env override of shutdown_grace_seconds, got %d", cfg.ShutdownGraceSeconds)
	}
	if !cfg.Verbose {
		t.Fatal("expected verbose=true from env")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	if got := ExpandHome("~/.agentdesk/journals"); got != home+"/.agentdesk/journals" {
		t.Fatalf("expected %q, got %q", home+"/.agentdesk/journals", got)
	}
	if got := ExpandHome("/already/absolute"); got != "/already/absolute" {
		t.Fatalf("expected unchanged absolute path, got %q", got)
	}
	if got := ExpandHome(""); got != "" {
		t.Fatalf("expected empty string unchanged, got %q", got)
	}
}

// TestSaveThenLoadRoundTrips verifies Save writes a file Load can read
// back.
func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdesk.json")
	cfg := Default()
	cfg.ListenAddr = ":1234"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ListenAddr != ":1234" {
		t.Fatalf("expected round-tripped listen_addr, got %q", loaded.ListenAddr)
	}
}
