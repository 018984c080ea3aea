package main

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/klauspost/compress/zstd"

	"github.com/BadgerOps/depotpatch/internal/config"
	"github.com/BadgerOps/depotpatch/internal/store"
	"github.com/BadgerOps/depotpatch/internal/updater"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()

	fn()

	_ = w.Close()
	data := <-done
	_ = r.Close()
	return string(data)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type cliFixture struct {
	root    string
	game    string
	staging string
}

// setupCLI installs a config pointing at a fresh game/update layout and
// restores the globals afterwards.
func setupCLI(t *testing.T) *cliFixture {
	t.Helper()

	origCfg, origLogger, origStore, origPath, origNoColor := globalCfg, logger, globalStore, cfgPath, color.NoColor
	t.Cleanup(func() {
		globalCfg, logger, globalStore, cfgPath, color.NoColor = origCfg, origLogger, origStore, origPath, origNoColor
	})
	color.NoColor = true
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	globalStore = nil
	cfgPath = ""

	root := t.TempDir()
	f := &cliFixture{
		root:    root,
		game:    filepath.Join(root, "game"),
		staging: filepath.Join(root, "game", "update"),
	}
	writeFile(t, filepath.Join(f.game, "data", "old.bin"), "old content")
	writeFile(t, filepath.Join(f.game, "data", "keep.bin"), "keep")
	writeFile(t, filepath.Join(f.staging, "data", "a.bin"), "new content")
	writeFile(t, filepath.Join(root, "changes.json"), `{
		"name": "Test Game",
		"app": 2229850,
		"initial_build": 100,
		"final_build": 101,
		"added": ["data/a.bin"],
		"removed": ["data/old.bin"],
		"modified": []
	}`)
	writeFile(t, filepath.Join(root, "manifest.sha1"), fmt.Sprintf(";\n%s *data/a.bin\n%s *data/keep.bin\n",
		sha1Hex("new content"), sha1Hex("keep")))

	globalCfg = config.DefaultConfig()
	globalCfg.Paths = config.PathsConfig{
		ChangesFile:     filepath.Join(root, "changes.json"),
		GameDirectory:   f.game,
		UpdateDirectory: f.staging,
		ManifestFile:    filepath.Join(root, "manifest.sha1"),
	}
	return f
}

func TestRunUpdate(t *testing.T) {
	f := setupCLI(t)

	var err error
	out := captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{assumeYes: true})
	})
	if err != nil {
		t.Fatalf("runUpdate() error: %v\n%s", err, out)
	}

	if data, err := os.ReadFile(filepath.Join(f.game, "data", "a.bin")); err != nil || string(data) != "new content" {
		t.Errorf("data/a.bin = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(f.game, "data", "old.bin")); !os.IsNotExist(err) {
		t.Error("data/old.bin still present")
	}
	if _, err := os.Stat(filepath.Join(f.game, ".Backup", "data", "old.bin")); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	for _, want := range []string{"Updating game with files in update from changes.json.", "UPDATE SUMMARY", "Finished updating."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunUpdateFromPackage(t *testing.T) {
	f := setupCLI(t)

	var plain bytes.Buffer
	tw := tar.NewWriter(&plain)
	body := []byte("new content")
	if err := tw.WriteHeader(&tar.Header{Name: "data/a.bin", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write(plain.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	pkg := filepath.Join(f.root, "patch.tar.zst")
	writeFile(t, pkg, compressed.String())
	globalCfg.Paths.UpdateDirectory = pkg

	out := captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{assumeYes: true})
	})
	if err != nil {
		t.Fatalf("runUpdate() error: %v\n%s", err, out)
	}
	if data, err := os.ReadFile(filepath.Join(f.game, "data", "a.bin")); err != nil || string(data) != "new content" {
		t.Errorf("data/a.bin = %q, %v", data, err)
	}
	if !strings.Contains(out, "Extracted 1 files (11 B) from patch.tar.zst.") {
		t.Errorf("extraction not reported:\n%s", out)
	}
}

func TestRunUpdateNeedsOperator(t *testing.T) {
	f := setupCLI(t)

	var err error
	captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{})
	})
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("runUpdate() error = %v, want a hint about --yes", err)
	}
	if _, err := os.Stat(filepath.Join(f.game, "data", "old.bin")); err != nil {
		t.Error("game directory modified without confirmation")
	}
}

func TestRunUpdateCancelledAtPrompt(t *testing.T) {
	f := setupCLI(t)

	var err error
	out := captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{prompt: newPrompter(strings.NewReader("n\n"))})
	})
	if err != nil {
		t.Fatalf("runUpdate() error: %v", err)
	}
	if !strings.Contains(out, "Continue? [y/N]:") || !strings.Contains(out, "Cancelled update.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(f.game, ".Backup")); !os.IsNotExist(err) {
		t.Error("backup directory created after cancelling")
	}
}

func TestRunUpdateDeclinedAfterBadValidation(t *testing.T) {
	f := setupCLI(t)
	writeFile(t, filepath.Join(f.staging, "data", "a.bin"), "corrupted")

	var err error
	out := captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{prompt: newPrompter(strings.NewReader("yes\nno\n"))})
	})
	if !errors.Is(err, updater.ErrDeclined) {
		t.Fatalf("runUpdate() error = %v, want ErrDeclined", err)
	}
	if !strings.Contains(out, "Hash mismatch.") || !strings.Contains(out, "Cancelled update.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(f.game, "data", "a.bin")); !os.IsNotExist(err) {
		t.Error("corrupted file copied")
	}
}

func TestRunUpdateStrict(t *testing.T) {
	f := setupCLI(t)
	writeFile(t, filepath.Join(f.game, "data", "keep.bin"), "tampered")

	var err error
	captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{assumeYes: true, strict: true})
	})
	if err == nil || !strings.Contains(err.Error(), "game validation failed") {
		t.Errorf("runUpdate(strict) error = %v, want game validation failure", err)
	}
}

func TestRunUpdateRecordsHistory(t *testing.T) {
	setupCLI(t)
	globalStore = newTestStore(t)

	var err error
	captureStdout(t, func() {
		err = runUpdate(context.Background(), updateParams{assumeYes: true})
	})
	if err != nil {
		t.Fatal(err)
	}

	out := captureStdout(t, func() {
		if err := printHistory(globalStore, 10); err != nil {
			t.Errorf("printHistory() error: %v", err)
		}
	})
	for _, want := range []string{"100 -> 101", "done", "update", "game"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}

	detail := captureStdout(t, func() {
		if err := printRunDetail(globalStore, 1); err != nil {
			t.Errorf("printRunDetail() error: %v", err)
		}
	})
	for _, want := range []string{"Test Game", "copy", "backup", "remove", "data/old.bin"} {
		if !strings.Contains(detail, want) {
			t.Errorf("run detail missing %q:\n%s", want, detail)
		}
	}
}

func TestRunValidate(t *testing.T) {
	f := setupCLI(t)
	writeFile(t, filepath.Join(f.game, "data", "a.bin"), "new content")

	var err error
	out := captureStdout(t, func() {
		err = runValidate(context.Background(), "game", false)
	})
	if err != nil {
		t.Fatalf("runValidate(game) error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 files checked, 2 successes, 0 mismatches, 0 missing.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out = captureStdout(t, func() {
		err = runValidate(context.Background(), "update", false)
	})
	if err != nil {
		t.Fatalf("runValidate(update) error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 files checked, 1 successes") {
		t.Errorf("update validation not restricted to the changeset:\n%s", out)
	}

	if err := runValidate(context.Background(), "everything", false); err == nil {
		t.Error("runValidate(everything) succeeded")
	}
}

func TestRunValidateReportsBadFiles(t *testing.T) {
	f := setupCLI(t)
	if err := os.Remove(filepath.Join(f.game, "data", "keep.bin")); err != nil {
		t.Fatal(err)
	}

	var err error
	out := captureStdout(t, func() {
		err = runValidate(context.Background(), "game", false)
	})
	if err == nil {
		t.Fatal("runValidate() succeeded with missing files")
	}
	if !strings.Contains(out, "Bad files:\n  data/a.bin\n  data/keep.bin") {
		t.Errorf("bad files not listed in manifest order:\n%s", out)
	}
}

func TestRunChanges(t *testing.T) {
	setupCLI(t)

	var err error
	out := captureStdout(t, func() {
		err = runChanges()
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Changes for Test Game (2229850):", "Initial Build:       100+", "Added:\n  + data/a.bin", "Removed:\n  - data/old.bin"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Modified:") {
		t.Errorf("empty section printed:\n%s", out)
	}
}

func TestShell(t *testing.T) {
	f := setupCLI(t)
	newGame := filepath.Join(f.root, "other game")
	if err := os.MkdirAll(newGame, 0o755); err != nil {
		t.Fatal(err)
	}

	script := strings.Join([]string{
		"help",
		"",
		fmt.Sprintf("set game_directory %q", newGame),
		"set validate_game_files f",
		"set copy_files maybe",
		"frobnicate",
		"exit",
		"settings",
	}, "\n") + "\n"

	var err error
	out := captureStdout(t, func() {
		err = runShell(context.Background(), newPrompter(strings.NewReader(script)))
	})
	if err != nil {
		t.Fatalf("runShell() error: %v", err)
	}

	if globalCfg.Paths.GameDirectory != newGame {
		t.Errorf("GameDirectory = %q, want %q", globalCfg.Paths.GameDirectory, newGame)
	}
	if globalCfg.Options.ValidateGame {
		t.Error("ValidateGame still true after alias set")
	}
	if !globalCfg.Options.CopyFiles {
		t.Error("CopyFiles changed by an invalid value")
	}
	if !strings.Contains(out, "validate <\"update\"|\"game\">") {
		t.Errorf("help not printed:\n%s", out)
	}
}

func TestShellSetKeepsBackslashes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslashes are separators on windows")
	}
	f := setupCLI(t)
	dir := filepath.Join(f.root, `C:\Games\Red Alert`)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, line := range []string{
		`set game_directory "` + dir + `"`,
		"set game_directory " + dir,
		"  set\tgame_directory   " + dir + "  ",
	} {
		globalCfg.Paths.GameDirectory = f.game
		var err error
		captureStdout(t, func() {
			_, err = shellExec(context.Background(), nil, line)
		})
		if err != nil {
			t.Errorf("shellExec(%q) error: %v", line, err)
			continue
		}
		if globalCfg.Paths.GameDirectory != dir {
			t.Errorf("shellExec(%q): GameDirectory = %q, want %q", line, globalCfg.Paths.GameDirectory, dir)
		}
	}
}

func TestShellSetErrors(t *testing.T) {
	setupCLI(t)

	tests := []struct {
		line string
		want string
	}{
		{"set", "enter a field"},
		{"set copy_files", "enter a value"},
		{"set backup_directory x", "unknown setting"},
		{"set copy_files maybe", "invalid value"},
	}
	for _, tt := range tests {
		_, err := shellExec(context.Background(), nil, tt.line)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("shellExec(%q) error = %v, want %q", tt.line, err, tt.want)
		}
	}
	if !globalCfg.Options.CopyFiles {
		t.Error("CopyFiles changed by a rejected set")
	}
}

func TestShellEndsAtEOF(t *testing.T) {
	setupCLI(t)
	var err error
	captureStdout(t, func() {
		err = runShell(context.Background(), newPrompter(strings.NewReader("settings")))
	})
	if err != nil {
		t.Errorf("runShell() error = %v, want clean exit at end of input", err)
	}
}

func TestConfigSetRun(t *testing.T) {
	f := setupCLI(t)
	cfgPath = filepath.Join(f.root, "depotpatch.yaml")

	captureStdout(t, func() {
		if err := configSetRun(nil, []string{"remove_files", "no"}); err != nil {
			t.Fatalf("configSetRun() error: %v", err)
		}
		if err := configSetRun(nil, []string{"game_directory", f.game}); err != nil {
			t.Fatalf("configSetRun() error: %v", err)
		}
	})

	saved, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if saved.Options.RemoveFiles {
		t.Error("remove_files not saved")
	}
	if saved.Paths.GameDirectory != f.game {
		t.Errorf("GameDirectory = %q", saved.Paths.GameDirectory)
	}
	// Only the key that was set is written, not the session's other paths.
	if saved.Paths.ChangesFile != "" {
		t.Errorf("ChangesFile = %q, want unset", saved.Paths.ChangesFile)
	}

	if err := configSetRun(nil, []string{"backup_directory", "x"}); !errors.Is(err, config.ErrUnknownKey) {
		t.Errorf("configSetRun(unknown) error = %v", err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"whatever\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var got bool
		captureStdout(t, func() {
			got = newPrompter(strings.NewReader(tt.input)).Confirm("Continue?")
		})
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	origLevel, origFormat, origQuiet, origLogger, origDefault := logLevel, logFormat, quiet, logger, slog.Default()
	t.Cleanup(func() {
		logLevel, logFormat, quiet, logger = origLevel, origFormat, origQuiet, origLogger
		slog.SetDefault(origDefault)
	})

	tests := []struct {
		level  string
		quiet  bool
		debug  bool
		warn   bool
		errors bool
	}{
		{"debug", false, true, true, true},
		{"info", false, false, true, true},
		{"warn", false, false, true, true},
		{"error", false, false, false, true},
		{"bogus", false, false, true, true},
		{"debug", true, false, false, true},
	}
	for _, tt := range tests {
		logLevel, logFormat, quiet = tt.level, "json", tt.quiet
		setupLogging()
		ctx := context.Background()
		if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debug {
			t.Errorf("level %s quiet %v: debug enabled = %v", tt.level, tt.quiet, got)
		}
		if got := logger.Enabled(ctx, slog.LevelWarn); got != tt.warn {
			t.Errorf("level %s quiet %v: warn enabled = %v", tt.level, tt.quiet, got)
		}
		if got := logger.Enabled(ctx, slog.LevelError); got != tt.errors {
			t.Errorf("level %s quiet %v: error enabled = %v", tt.level, tt.quiet, got)
		}
	}
}
