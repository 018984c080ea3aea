package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKey is returned for names outside the closed key set.
var ErrUnknownKey = errors.New("unknown setting")

// Key names one settable configuration value.
type Key string

const (
	KeyChangesFile     Key = "changes_file"
	KeyGameDirectory   Key = "game_directory"
	KeyUpdateDirectory Key = "update_directory"
	KeyManifestFile    Key = "manifest_file"
	KeyValidateUpdate  Key = "validate_update"
	KeyValidateGame    Key = "validate_game"
	KeyCreateBackup    Key = "create_backup"
	KeyCopyFiles       Key = "copy_files"
	KeyRemoveFiles     Key = "remove_files"
	KeyWorkers         Key = "workers"
)

var keyLabels = map[Key]string{
	KeyChangesFile:     "Using changes file",
	KeyGameDirectory:   "Using game directory",
	KeyUpdateDirectory: "Using update directory",
	KeyManifestFile:    "Using manifest file",
	KeyValidateUpdate:  "Validate update files",
	KeyValidateGame:    "Validate game files",
	KeyCreateBackup:    "Create backup",
	KeyCopyFiles:       "Copy files",
	KeyRemoveFiles:     "Remove files",
	KeyWorkers:         "Hashing workers",
}

var keyAliases = map[string]Key{
	"validate_update_files": KeyValidateUpdate,
	"validate_game_files":   KeyValidateGame,
}

// Keys lists every key in display order.
func Keys() []Key {
	return []Key{
		KeyChangesFile,
		KeyGameDirectory,
		KeyUpdateDirectory,
		KeyManifestFile,
		KeyValidateUpdate,
		KeyValidateGame,
		KeyCreateBackup,
		KeyCopyFiles,
		KeyRemoveFiles,
		KeyWorkers,
	}
}

// ParseKey resolves a key name or alias.
func ParseKey(name string) (Key, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := keyAliases[name]; ok {
		return k, nil
	}
	if _, ok := keyLabels[Key(name)]; ok {
		return Key(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// Label is the human-readable description of k.
func (k Key) Label() string {
	return keyLabels[k]
}

func (k Key) String() string {
	return string(k)
}

// ParseBool accepts true/t/1/yes/y and false/f/0/no/n, ignoring case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y":
		return true, nil
	case "false", "f", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}
