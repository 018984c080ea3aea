// Package manifest parses checksum manifests exported by depot tooling.
//
// Two plain-text layouts are supported:
//
//   - depot-download (.txt): a size/chunks/SHA/flags/name table whose data
//     rows follow the first line containing "Name".
//   - manifest-viewer (.sha1): "hash *path" rows following a header that is
//     terminated by a line holding a single ";".
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingPath is returned when no manifest path is configured.
	ErrMissingPath = errors.New("no manifest file configured")
	// ErrUnsupportedFormat is returned for files that are neither .txt nor .sha1.
	ErrUnsupportedFormat = errors.New("unsupported manifest file type")
)

// Format identifies a manifest layout.
type Format string

const (
	FormatDepotDownload  Format = "depot-download"
	FormatManifestViewer Format = "manifest-viewer"
)

// Entry is the expected state of one file.
type Entry struct {
	Hash string // lowercase hex SHA-1
	Name string // relative path as written in the manifest
}

// Manifest is an ordered list of expected file states. Names may repeat.
type Manifest struct {
	Format   Format
	Entries  []Entry
	Warnings []string
}

// FormatForPath picks the layout from the file extension.
func FormatForPath(p string) (Format, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".txt":
		return FormatDepotDownload, nil
	case ".sha1":
		return FormatManifestViewer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(p))
	}
}

// Load parses the manifest file at path. The extension is checked before
// the file is opened.
func Load(p string) (*Manifest, error) {
	if p == "" {
		return nil, ErrMissingPath
	}

	format, err := FormatForPath(p)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Parse(f, format)
}

// Parse reads a manifest of the given format from r. Rows that do not
// yield both a hash and a name are skipped.
func Parse(r io.Reader, format Format) (*Manifest, error) {
	var (
		isHeaderEnd func(string) bool
		parseRow    func([]string) (Entry, bool)
		marker      string
	)
	switch format {
	case FormatDepotDownload:
		isHeaderEnd = func(line string) bool { return strings.Contains(line, "Name") }
		parseRow = parseDepotDownloadRow
		marker = `a line containing "Name"`
	case FormatManifestViewer:
		isHeaderEnd = func(line string) bool { return strings.TrimSpace(line) == ";" }
		parseRow = parseManifestViewerRow
		marker = `a ";" line`
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m := &Manifest{Format: format, Entries: []Entry{}}

	// Without a header every line is treated as a row.
	start := 0
	headerFound := false
	for i, line := range lines {
		if isHeaderEnd(line) {
			start = i + 1
			headerFound = true
			break
		}
	}
	if !headerFound {
		m.Warnings = append(m.Warnings, fmt.Sprintf("header not found (expected %s), treating every line as a row", marker))
	}

	for _, line := range lines[start:] {
		entry, ok := parseRow(strings.Fields(line))
		if !ok {
			continue
		}
		m.Entries = append(m.Entries, entry)
	}

	if headerFound && len(m.Entries) == 0 && len(lines) > start {
		m.Warnings = append(m.Warnings, fmt.Sprintf("header found but none of %d rows parsed; the column layout may have changed", len(lines)-start))
	}

	return m, nil
}

// parseDepotDownloadRow reads "size chunks sha flags name...". Name fields
// are joined without a separator.
func parseDepotDownloadRow(fields []string) (Entry, bool) {
	if len(fields) < 5 {
		return Entry{}, false
	}
	return Entry{
		Hash: strings.ToLower(fields[2]),
		Name: strings.Join(fields[4:], ""),
	}, true
}

// parseManifestViewerRow reads "sha *name...". Name fields are joined with
// single spaces and every '*' is dropped.
func parseManifestViewerRow(fields []string) (Entry, bool) {
	if len(fields) < 2 {
		return Entry{}, false
	}
	return Entry{
		Hash: strings.ToLower(fields[0]),
		Name: strings.ReplaceAll(strings.Join(fields[1:], " "), "*", ""),
	}, true
}

// WriteTo renders the manifest as aligned "hash name" rows.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range m.Entries {
		n, err := fmt.Fprintf(w, "%-45s %s\n", e.Hash, e.Name)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.Entries)
}
