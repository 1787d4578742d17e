package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrefersFlagValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("NEWSTOSS_CLI_TEST=from-flag\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideEnvVar, "")
	t.Setenv("NEWSTOSS_CLI_TEST", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "missing.env"), "")
	if err := fs.Parse([]string{"-env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != path {
		t.Fatalf("unexpected path: got %q want %q", loaded, path)
	}
	if got := os.Getenv("NEWSTOSS_CLI_TEST"); got != "from-flag" {
		t.Fatalf("unexpected value: got %q want %q", got, "from-flag")
	}
}

func TestLoadOverrideVarWins(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "override.env")
	if err := os.WriteFile(override, []byte("NEWSTOSS_CLI_TEST=from-override\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(OverrideEnvVar, override)
	t.Setenv("NEWSTOSS_CLI_TEST", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "missing.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := loader.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("NEWSTOSS_CLI_TEST"); got != "from-override" {
		t.Fatalf("unexpected value: got %q want %q", got, "from-override")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(OverrideEnvVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "nope.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error when no env file exists")
	}
}
