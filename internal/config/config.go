package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/depotpatch/internal/updater"
)

// ErrInvalidValue is returned by Set when a value fails validation.
var ErrInvalidValue = errors.New("invalid value")

// Config is the top-level configuration
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Options OptionsConfig `yaml:"options"`
	History HistoryConfig `yaml:"history"`
}

// PathsConfig names the inputs of an update. Empty means unset.
type PathsConfig struct {
	ChangesFile     string `yaml:"changes_file"`
	GameDirectory   string `yaml:"game_directory"`
	UpdateDirectory string `yaml:"update_directory"`
	ManifestFile    string `yaml:"manifest_file"`
}

// OptionsConfig holds the update switches
type OptionsConfig struct {
	ValidateUpdate bool     `yaml:"validate_update"`
	ValidateGame   bool     `yaml:"validate_game"`
	CreateBackup   bool     `yaml:"create_backup"`
	CopyFiles      bool     `yaml:"copy_files"`
	RemoveFiles    bool     `yaml:"remove_files"`
	Workers        int      `yaml:"workers"`
	BackupDir      string   `yaml:"backup_dir"`
	Ignore         []string `yaml:"ignore"`
}

// HistoryConfig holds update journal settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Options: OptionsConfig{
			ValidateUpdate: true,
			ValidateGame:   true,
			CreateBackup:   true,
			CopyFiles:      true,
			RemoveFiles:    true,
			Workers:        4,
			BackupDir:      updater.DefaultBackupDirName,
			Ignore:         updater.DefaultIgnore(),
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Options.Workers <= 0 {
		return nil, fmt.Errorf("parsing config file: options.workers must be positive, got %d", cfg.Options.Workers)
	}

	return cfg, nil
}

// Save writes the config as YAML, creating parent directories as needed
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// UserConfigPath is the per-user config location
func UserConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "depotpatch", "depotpatch.yaml"), nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"depotpatch.yaml",
	}

	if p, err := UserConfigPath(); err == nil {
		searchPaths = append(searchPaths, p)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// HistoryDBPath returns the configured journal path, defaulting to a file
// next to the per-user config.
func (c *Config) HistoryDBPath() (string, error) {
	if c.History.DBPath != "" {
		return c.History.DBPath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating history database: %w", err)
	}
	return filepath.Join(dir, "depotpatch", "history.db"), nil
}

// Discover derives default paths from the layout the update package is
// unpacked into: the tool runs from a directory inside the update
// directory, which itself sits inside the game directory. Entries that
// cannot be determined are left empty.
func Discover(cwd string) PathsConfig {
	var p PathsConfig

	entries, err := os.ReadDir(cwd)
	if err == nil {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			name := e.Name()
			if p.ChangesFile == "" && strings.Contains(name, "changes.json") {
				p.ChangesFile = filepath.Join(cwd, name)
			}
			if p.ManifestFile == "" && (strings.Contains(name, "manifest") || strings.Contains(name, "sha1")) {
				p.ManifestFile = filepath.Join(cwd, name)
			}
		}
	}

	parent := filepath.Dir(cwd)
	if parent == cwd {
		return p
	}
	p.UpdateDirectory = parent
	if grandparent := filepath.Dir(parent); grandparent != parent {
		p.GameDirectory = grandparent
	} else {
		p.GameDirectory = parent
	}
	return p
}

// ApplyDiscovered fills unset paths from d.
func (c *Config) ApplyDiscovered(d PathsConfig) {
	if c.Paths.ChangesFile == "" {
		c.Paths.ChangesFile = d.ChangesFile
	}
	if c.Paths.GameDirectory == "" {
		c.Paths.GameDirectory = d.GameDirectory
	}
	if c.Paths.UpdateDirectory == "" {
		c.Paths.UpdateDirectory = d.UpdateDirectory
	}
	if c.Paths.ManifestFile == "" {
		c.Paths.ManifestFile = d.ManifestFile
	}
}

// UpdaterOptions converts the config into the options of one update.
func (c *Config) UpdaterOptions() updater.Options {
	return updater.Options{
		ChangesFile:     c.Paths.ChangesFile,
		GameDirectory:   c.Paths.GameDirectory,
		UpdateDirectory: c.Paths.UpdateDirectory,
		ManifestFile:    c.Paths.ManifestFile,
		ValidateUpdate:  c.Options.ValidateUpdate,
		ValidateGame:    c.Options.ValidateGame,
		CreateBackup:    c.Options.CreateBackup,
		CopyFiles:       c.Options.CopyFiles,
		RemoveFiles:     c.Options.RemoveFiles,
		BackupDirName:   c.Options.BackupDir,
		Ignore:          append([]string(nil), c.Options.Ignore...),
	}
}

// Set validates value and assigns it to key. The config is unchanged when
// an error is returned.
func (c *Config) Set(key Key, value string) error {
	value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))

	switch key {
	case KeyChangesFile, KeyManifestFile:
		if err := requireFile(value); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrInvalidValue, key, err)
		}
		if key == KeyChangesFile {
			c.Paths.ChangesFile = value
		} else {
			c.Paths.ManifestFile = value
		}
	case KeyGameDirectory, KeyUpdateDirectory:
		if err := requireDir(value); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrInvalidValue, key, err)
		}
		if key == KeyGameDirectory {
			c.Paths.GameDirectory = value
		} else {
			c.Paths.UpdateDirectory = value
		}
	case KeyWorkers:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w for %s: %q is not a positive integer", ErrInvalidValue, key, value)
		}
		c.Options.Workers = n
	default:
		field := c.boolField(key)
		if field == nil {
			return fmt.Errorf("%w: %q", ErrUnknownKey, string(key))
		}
		b, err := ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w for %s: %w", ErrInvalidValue, key, err)
		}
		*field = b
	}
	return nil
}

// Get returns the current value of key as text. Unset paths are "None".
func (c *Config) Get(key Key) string {
	orNone := func(s string) string {
		if s == "" {
			return "None"
		}
		return s
	}
	switch key {
	case KeyChangesFile:
		return orNone(c.Paths.ChangesFile)
	case KeyGameDirectory:
		return orNone(c.Paths.GameDirectory)
	case KeyUpdateDirectory:
		return orNone(c.Paths.UpdateDirectory)
	case KeyManifestFile:
		return orNone(c.Paths.ManifestFile)
	case KeyWorkers:
		return strconv.Itoa(c.Options.Workers)
	case KeyValidateUpdate, KeyValidateGame:
		if c.Paths.ManifestFile == "" {
			return "Disabled (requires manifest file)"
		}
	}
	if field := c.boolField(key); field != nil {
		return strconv.FormatBool(*field)
	}
	return ""
}

// WriteSettings prints every key with its current value, one per line.
func (c *Config) WriteSettings(w io.Writer) error {
	for _, k := range Keys() {
		label := fmt.Sprintf("%s (%s):", k.Label(), k)
		if _, err := fmt.Fprintf(w, "%-45s %s\n", label, c.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) boolField(key Key) *bool {
	switch key {
	case KeyValidateUpdate:
		return &c.Options.ValidateUpdate
	case KeyValidateGame:
		return &c.Options.ValidateGame
	case KeyCreateBackup:
		return &c.Options.CreateBackup
	case KeyCopyFiles:
		return &c.Options.CopyFiles
	case KeyRemoveFiles:
		return &c.Options.RemoveFiles
	}
	return nil
}

func requireFile(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file", p)
	}
	return nil
}

func requireDir(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", p)
	}
	return nil
}
