// Package verify checks the files in a directory against the hashes listed
// in a checksum manifest.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/BadgerOps/depotpatch/internal/changeset"
	"github.com/BadgerOps/depotpatch/internal/manifest"
	"github.com/BadgerOps/depotpatch/internal/safety"
)

// Status classifies one checked file.
type Status string

const (
	StatusMatched    Status = "matched"
	StatusMismatched Status = "mismatched"
	StatusMissing    Status = "missing"
	// StatusSkipped marks manifest entries that resolve to a directory.
	// They are not counted.
	StatusSkipped Status = "skipped"
)

// FileResult is the outcome for one manifest entry.
type FileResult struct {
	Path      string // name as written in the manifest
	LocalPath string
	Expected  string
	Actual    string
	Status    Status
	Err       error
}

// Result aggregates one verification run. Mismatched and missing files are
// reported here, never as an error from Verify.
type Result struct {
	Directory  string
	Restricted bool
	Total      int
	Matched    int
	Mismatched int
	Missing    int
	BadFiles   []string
	Files      []FileResult
	Duration   time.Duration
}

// OK reports whether every checked file matched.
func (r *Result) OK() bool {
	return len(r.BadFiles) == 0
}

// ProgressFn is called once per checked file, from a single goroutine.
// checked counts files seen so far including skipped directories.
type ProgressFn func(checked, total int, path string, status Status)

// Verifier hashes files with a bounded number of workers.
type Verifier struct {
	pool     *pool
	logger   *slog.Logger
	progress ProgressFn
}

// New creates a Verifier using the given number of hashing workers.
func New(workers int, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		pool:   newPool(workers, logger),
		logger: logger,
	}
}

// SetProgress installs a per-file progress callback.
func (v *Verifier) SetProgress(fn ProgressFn) {
	v.progress = fn
}

// Verify checks dir against m. When restrict is non-nil only entries whose
// normalized name is added or modified in restrict are checked, which is
// how a staged update is validated against its delta. Files are reported
// in manifest order.
func (v *Verifier) Verify(ctx context.Context, m *manifest.Manifest, dir string, restrict *changeset.ChangeSet) (*Result, error) {
	start := time.Now()
	jobs := candidates(m, dir, restrict)

	v.logger.Info("starting verification",
		"directory", dir,
		"files", len(jobs),
		"restricted", restrict != nil,
	)

	checked := 0
	files := v.pool.execute(ctx, jobs, func(r FileResult) {
		checked++
		if v.progress != nil {
			v.progress(checked, len(jobs), r.Path, r.Status)
		}
	})

	if err := ctx.Err(); err != nil {
		v.logger.Warn("verification cancelled", "directory", dir, "checked", checked, "files", len(jobs))
		return nil, fmt.Errorf("verification cancelled: %w", err)
	}

	result := &Result{
		Directory:  dir,
		Restricted: restrict != nil,
		BadFiles:   []string{},
		Files:      files,
	}
	for _, f := range files {
		switch f.Status {
		case StatusSkipped:
			continue
		case StatusMatched:
			result.Matched++
		case StatusMismatched:
			result.Mismatched++
			result.BadFiles = append(result.BadFiles, f.Path)
		case StatusMissing:
			result.Missing++
			result.BadFiles = append(result.BadFiles, f.Path)
		}
		result.Total++
	}
	result.Duration = time.Since(start)

	v.logger.Info("verification completed",
		"directory", dir,
		"total", result.Total,
		"matched", result.Matched,
		"mismatched", result.Mismatched,
		"missing", result.Missing,
		"duration", result.Duration,
	)

	return result, nil
}

// candidates builds the job list for dir, keeping manifest order.
func candidates(m *manifest.Manifest, dir string, restrict *changeset.ChangeSet) []job {
	var filter map[string]struct{}
	if restrict != nil {
		filter = restrict.ChangedSet()
	}

	jobs := make([]job, 0, len(m.Entries))
	for _, e := range m.Entries {
		normalized := changeset.NormalizePath(e.Name)
		if filter != nil {
			if _, ok := filter[normalized]; !ok {
				continue
			}
		}

		j := job{
			index:    len(jobs),
			name:     e.Name,
			expected: e.Hash,
		}
		if normalized == "" {
			// An empty name refers to the directory itself.
			j.localPath = dir
		} else {
			j.localPath, j.pathErr = safety.SafeJoinUnder(dir, normalized)
			if j.pathErr != nil {
				j.localPath = filepath.Join(dir, filepath.FromSlash(normalized))
			}
		}
		jobs = append(jobs, j)
	}
	return jobs
}
