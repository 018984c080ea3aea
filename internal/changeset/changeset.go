// Package changeset models the delta between two builds of a depot: the
// files added, removed and modified, plus the build metadata that produced
// them.
package changeset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when no changeset path is configured.
	ErrNotFound = errors.New("no changes file configured")
	// ErrFormat is returned when the changeset content does not match the schema.
	ErrFormat = errors.New("invalid changes file")
)

// ID is a build, depot or manifest identifier. The creator tool has written
// these both as JSON strings and as bare numbers.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*id = ID(n.String())
	return nil
}

// ChangeSet is a parsed changes file. It is not modified after Parse.
type ChangeSet struct {
	Name         string   `json:"name"`
	App          ID       `json:"app"`
	InitialBuild ID       `json:"initial_build"`
	FinalBuild   ID       `json:"final_build"`
	Depot        ID       `json:"depot"`
	Manifest     ID       `json:"manifest"`
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
	Modified     []string `json:"modified"`
}

// Load reads and parses the changes file at path.
func Load(p string) (*ChangeSet, error) {
	if p == "" {
		return nil, ErrNotFound
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("reading changes file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	cs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return cs, nil
}

// Parse decodes a changeset from r, normalizes every path and checks that
// the added, removed and modified sets do not overlap.
func Parse(r io.Reader) (*ChangeSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading changes file: %w", err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrFormat)
	}

	var cs ChangeSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	owner := make(map[string]string)
	lists := []struct {
		name  string
		paths *[]string
	}{
		{"added", &cs.Added},
		{"removed", &cs.Removed},
		{"modified", &cs.Modified},
	}
	for _, l := range lists {
		normalized, err := normalizeList(l.name, *l.paths, owner)
		if err != nil {
			return nil, err
		}
		*l.paths = normalized
	}

	return &cs, nil
}

// normalizeList normalizes paths, drops repeats within the list and fails
// if a path already belongs to another list.
func normalizeList(list string, paths []string, owner map[string]string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		p := NormalizePath(raw)
		if p == "" {
			return nil, fmt.Errorf("%w: empty path in %s", ErrFormat, list)
		}
		if prev, ok := owner[p]; ok {
			if prev == list {
				continue
			}
			return nil, fmt.Errorf("%w: %q listed in both %s and %s", ErrFormat, p, prev, list)
		}
		owner[p] = list
		out = append(out, p)
	}
	return out, nil
}

// NormalizePath converts a relative path written with either separator into
// the forward-slash form used for comparisons.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// Changed returns the added paths followed by the modified paths as a new
// slice. These are the files an update copies from the staging directory.
func (c *ChangeSet) Changed() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	return out
}

// ChangedSet returns the added and modified paths as a lookup set.
func (c *ChangeSet) ChangedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Added)+len(c.Modified))
	for _, p := range c.Changed() {
		set[p] = struct{}{}
	}
	return set
}

// Summary is a one-line description for logs.
func (c *ChangeSet) Summary() string {
	return fmt.Sprintf("%s (app %s, build %s -> %s): %d added, %d modified, %d removed",
		c.Name, c.App, c.InitialBuild, c.FinalBuild, len(c.Added), len(c.Modified), len(c.Removed))
}
