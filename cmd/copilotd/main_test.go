package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for name, want := range cases {
		if got := logLevel(name); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSetupFailsOnMissingConfig(t *testing.T) {
	if _, err := setup(filepath.Join(t.TempDir(), "absent.toml"), false); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSetupMemoryStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.toml")
	body := `
[store]
driver = "memory"

[llm]
provider = "openai"
api_key = "test"
`
	if err := os.WriteFile(path, []byte(body), 0640); err != nil {
		t.Fatal(err)
	}
	app, err := setup(path, false)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.close()
	if app.Server == nil || app.Audit == nil || app.Janitor == nil {
		t.Errorf("incomplete app: %+v", app)
	}
}
