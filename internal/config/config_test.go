package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/BadgerOps/depotpatch/internal/updater"
)

// chdir switches into dir for the rest of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	bools := []struct {
		name string
		got  bool
	}{
		{"validate update", cfg.Options.ValidateUpdate},
		{"validate game", cfg.Options.ValidateGame},
		{"create backup", cfg.Options.CreateBackup},
		{"copy files", cfg.Options.CopyFiles},
		{"remove files", cfg.Options.RemoveFiles},
		{"history", cfg.History.Enabled},
	}
	for _, tt := range bools {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got {
				t.Errorf("got false, want true")
			}
		})
	}

	if cfg.Options.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Options.Workers)
	}
	if cfg.Options.BackupDir != ".Backup" {
		t.Errorf("BackupDir = %q, want .Backup", cfg.Options.BackupDir)
	}
	if !reflect.DeepEqual(cfg.Options.Ignore, updater.DefaultIgnore()) {
		t.Errorf("Ignore = %v", cfg.Options.Ignore)
	}
	if cfg.Paths != (PathsConfig{}) {
		t.Errorf("Paths = %+v, want all unset", cfg.Paths)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "depotpatch.yaml")

	configContent := `
paths:
  game_directory: /games/ra
  manifest_file: /games/ra/update/manifest.sha1
options:
  create_backup: false
  workers: 8
  ignore:
    - "**/*.tmp"
history:
  db_path: /var/lib/depotpatch/history.db
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Paths.GameDirectory != "/games/ra" {
		t.Errorf("GameDirectory = %q", cfg.Paths.GameDirectory)
	}
	if cfg.Options.CreateBackup {
		t.Error("CreateBackup = true, want false from file")
	}
	if !cfg.Options.CopyFiles {
		t.Error("CopyFiles = false, want default true")
	}
	if cfg.Options.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Options.Workers)
	}
	if !reflect.DeepEqual(cfg.Options.Ignore, []string{"**/*.tmp"}) {
		t.Errorf("Ignore = %v", cfg.Options.Ignore)
	}
	if cfg.Options.BackupDir != ".Backup" {
		t.Errorf("BackupDir = %q, want default", cfg.Options.BackupDir)
	}
	if got, _ := cfg.HistoryDBPath(); got != "/var/lib/depotpatch/history.db" {
		t.Errorf("HistoryDBPath() = %q", got)
	}
}

// TestLoadErrors tests that Load rejects unreadable and invalid files
func TestLoadErrors(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "options:\n  ignore: [unclosed bracket\n"},
		{"zero workers", "options:\n  workers: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "-")+".yaml")
			if err := os.WriteFile(p, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(p); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}

	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

// TestSaveRoundTrip writes a config and loads it back
func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.ChangesFile = "/games/ra/update/changes.json"
	cfg.Options.RemoveFiles = false
	cfg.Options.Workers = 2

	p := filepath.Join(t.TempDir(), "nested", "depotpatch.yaml")
	if err := cfg.Save(p); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(p)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("Load(Save()) = %+v, want %+v", loaded, cfg)
	}
}

// TestFindConfigFile covers both the missing and found cases
func TestFindConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	chdir(t, tempDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "xdg"))
	t.Setenv("HOME", tempDir)

	if _, err := FindConfigFile(); err == nil {
		t.Error("FindConfigFile() succeeded, want error when no config exists")
	}

	if err := os.WriteFile(filepath.Join(tempDir, "depotpatch.yaml"), []byte("options:\n  workers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != "depotpatch.yaml" {
		t.Errorf("FindConfigFile() = %q, want depotpatch.yaml", found)
	}
}

// TestDiscover checks the package layout defaults: the tool runs from
// <game>/<update>/<installer>.
func TestDiscover(t *testing.T) {
	game := t.TempDir()
	update := filepath.Join(game, "update")
	installer := filepath.Join(update, "installer")
	if err := os.MkdirAll(filepath.Join(installer, "manifest-dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"build_100_101_changes.json", "depot_481_manifest.txt", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(installer, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := Discover(installer)
	want := PathsConfig{
		ChangesFile:     filepath.Join(installer, "build_100_101_changes.json"),
		GameDirectory:   game,
		UpdateDirectory: update,
		ManifestFile:    filepath.Join(installer, "depot_481_manifest.txt"),
	}
	if got != want {
		t.Errorf("Discover() = %+v, want %+v", got, want)
	}
}

func TestDiscoverNothingFound(t *testing.T) {
	dir := t.TempDir()
	got := Discover(dir)
	if got.ChangesFile != "" || got.ManifestFile != "" {
		t.Errorf("Discover() = %+v, want no files", got)
	}
	if got.UpdateDirectory != filepath.Dir(dir) {
		t.Errorf("UpdateDirectory = %q", got.UpdateDirectory)
	}

	root := Discover(string(filepath.Separator))
	if root != (PathsConfig{ChangesFile: root.ChangesFile, ManifestFile: root.ManifestFile}) {
		t.Errorf("Discover(root) directories = %+v, want unset", root)
	}
}

func TestApplyDiscovered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.GameDirectory = "/explicit"
	cfg.ApplyDiscovered(PathsConfig{
		ChangesFile:     "/found/changes.json",
		GameDirectory:   "/found",
		UpdateDirectory: "/found/update",
	})

	want := PathsConfig{
		ChangesFile:     "/found/changes.json",
		GameDirectory:   "/explicit",
		UpdateDirectory: "/found/update",
	}
	if cfg.Paths != want {
		t.Errorf("Paths = %+v, want %+v", cfg.Paths, want)
	}
}

func TestUpdaterOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths = PathsConfig{
		ChangesFile:     "c.json",
		GameDirectory:   "game",
		UpdateDirectory: "update",
		ManifestFile:    "m.sha1",
	}
	cfg.Options.CopyFiles = false

	opts := cfg.UpdaterOptions()
	if opts.ChangesFile != "c.json" || opts.GameDirectory != "game" || opts.UpdateDirectory != "update" || opts.ManifestFile != "m.sha1" {
		t.Errorf("paths = %+v", opts)
	}
	if opts.CopyFiles || !opts.RemoveFiles || opts.BackupDirName != ".Backup" {
		t.Errorf("switches = %+v", opts)
	}

	opts.Ignore[0] = "changed"
	if cfg.Options.Ignore[0] == "changed" {
		t.Error("UpdaterOptions shares the ignore slice with the config")
	}
}
