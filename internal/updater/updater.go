// Package updater applies a changeset to a game directory: it validates the
// staged files, backs up everything it overwrites or deletes, copies the new
// files in, removes the old ones and validates the result.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/BadgerOps/depotpatch/internal/changeset"
	"github.com/BadgerOps/depotpatch/internal/manifest"
	"github.com/BadgerOps/depotpatch/internal/safety"
	"github.com/BadgerOps/depotpatch/internal/verify"
)

// DefaultBackupDirName is created under the game directory.
const DefaultBackupDirName = ".Backup"

var (
	// ErrConfigMissing is returned when a required path is not configured.
	ErrConfigMissing = errors.New("required setting missing")
	// ErrAborted wraps every error that stops an update part-way.
	ErrAborted = errors.New("update aborted")
	// ErrDeclined is returned when the operator refuses to continue after a
	// failed pre-update validation.
	ErrDeclined = errors.New("cancelled by operator")
	// ErrPermission wraps the permission failure that stopped an update.
	ErrPermission = errors.New("permission denied")
)

// Phase is a state of the update state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePreValidating  Phase = "pre-validating"
	PhaseBackingUp      Phase = "backing-up"
	PhaseCopying        Phase = "copying"
	PhaseRemoving       Phase = "removing"
	PhasePostValidating Phase = "post-validating"
	PhaseDone           Phase = "done"
	PhaseAborted        Phase = "aborted"
)

// DefaultIgnore matches the installer's own metadata files, which ship in
// the staging directory but never belong in the game directory.
func DefaultIgnore() []string {
	return []string{
		"**/*.RedAlt-Steam-Installer*",
		"**/*.RedAlt-Steam-Installer*/**",
	}
}

// Options is the configuration surface of one update. Empty paths are unset.
type Options struct {
	ChangesFile     string
	GameDirectory   string
	UpdateDirectory string
	ManifestFile    string

	ValidateUpdate bool
	ValidateGame   bool
	CreateBackup   bool
	CopyFiles      bool
	RemoveFiles    bool

	BackupDirName string
	// Ignore holds doublestar patterns matched against slash-separated
	// changeset paths. Matching paths are neither copied nor removed.
	Ignore []string
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// FailedFile records a per-file failure that did not stop the update.
type FailedFile struct {
	Path  string
	Op    Op
	Error string
}

// Report describes a finished or aborted update.
type Report struct {
	Phase     Phase
	ChangeSet *changeset.ChangeSet
	StartTime time.Time
	EndTime   time.Time

	Copied        int
	Removed       int
	BackedUp      int
	AlreadyAbsent int
	Ignored       int
	BytesCopied   int64
	Failed        []FailedFile

	PreValidation  *verify.Result
	PostValidation *verify.Result

	AbortReason string
	Warnings    []string
}

// Updater runs updates. It is safe to reuse across runs but not for
// concurrent runs against the same game directory.
type Updater struct {
	verifier *verify.Verifier
	logger   *slog.Logger
	confirm  Confirmer
	journal  Journal
	ops      fileOps
}

// Option configures an Updater.
type Option func(*Updater)

// WithConfirmer sets the operator prompt used after a failed pre-update
// validation. Without one the update is cancelled.
func WithConfirmer(c Confirmer) Option {
	return func(u *Updater) { u.confirm = c }
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(u *Updater) { u.journal = j }
}

// New creates an Updater.
func New(v *verify.Verifier, logger *slog.Logger, opts ...Option) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Updater{
		verifier: v,
		logger:   logger,
		journal:  nopJournal{},
		ops:      osFileOps{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run performs one update. Configuration and changeset errors are returned
// before anything is touched. Once running, the returned report is non-nil
// and its Phase is PhaseDone or PhaseAborted; an aborted run also returns
// an error wrapping ErrAborted.
func (u *Updater) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.BackupDirName == "" {
		opts.BackupDirName = DefaultBackupDirName
	}
	if err := checkOptions(opts); err != nil {
		return nil, err
	}

	cs, err := changeset.Load(opts.ChangesFile)
	if err != nil {
		return nil, err
	}

	r := &run{
		u:    u,
		opts: opts,
		cs:   cs,
		report: &Report{
			Phase:     PhaseIdle,
			ChangeSet: cs,
			StartTime: time.Now(),
			Failed:    []FailedFile{},
		},
	}

	var jerr error
	r.runID, jerr = u.journal.BeginRun(cs, opts, r.report.StartTime)
	if jerr != nil {
		u.logger.Warn("failed to record update run", "error", jerr)
	}

	u.logger.Info("update starting",
		"changes", cs.Summary(),
		"game_directory", opts.GameDirectory,
		"update_directory", opts.UpdateDirectory,
	)

	err = r.execute(ctx)
	r.report.EndTime = time.Now()
	if err != nil {
		r.report.Phase = PhaseAborted
		r.report.AbortReason = err.Error()
		err = fmt.Errorf("%w: %w", ErrAborted, err)
		u.logger.Error("update aborted", "error", err)
	} else {
		r.report.Phase = PhaseDone
		u.logger.Info("update finished",
			"copied", r.report.Copied,
			"removed", r.report.Removed,
			"backed_up", r.report.BackedUp,
			"failed", len(r.report.Failed),
			"duration", r.report.EndTime.Sub(r.report.StartTime),
		)
	}

	if jerr = u.journal.FinishRun(r.runID, r.report); jerr != nil {
		u.logger.Warn("failed to finish update run record", "error", jerr)
	}
	return r.report, err
}

func checkOptions(opts Options) error {
	if opts.GameDirectory == "" {
		return fmt.Errorf("%w: game_directory", ErrConfigMissing)
	}
	if opts.ChangesFile == "" {
		return fmt.Errorf("%w: changes_file", ErrConfigMissing)
	}
	needsStaging := opts.CopyFiles || (opts.ValidateUpdate && opts.ManifestFile != "")
	if needsStaging && opts.UpdateDirectory == "" {
		return fmt.Errorf("%w: update_directory", ErrConfigMissing)
	}
	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	return nil
}

// run is the state of one Updater.Run call.
type run struct {
	u        *Updater
	opts     Options
	cs       *changeset.ChangeSet
	report   *Report
	runID    int64
	manifest *manifest.Manifest
}

func (r *run) enter(p Phase) {
	r.report.Phase = p
	r.u.logger.Debug("update phase", "phase", p)
}

func (r *run) execute(ctx context.Context) error {
	validating := r.opts.ManifestFile != "" && (r.opts.ValidateUpdate || r.opts.ValidateGame)
	if validating {
		// A manifest that cannot be read stops the run before anything changes.
		if _, err := r.loadManifest(); err != nil {
			return err
		}
	}

	if r.opts.ManifestFile != "" && r.opts.ValidateUpdate {
		r.enter(PhasePreValidating)
		if err := r.preValidate(ctx); err != nil {
			return err
		}
	}

	backupRoot := filepath.Join(r.opts.GameDirectory, r.opts.BackupDirName)
	if r.opts.CreateBackup {
		r.enter(PhaseBackingUp)
		if err := r.u.ops.Mkdir(backupRoot); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating backup directory: %w", err)
		}
	}

	if r.opts.CopyFiles {
		r.enter(PhaseCopying)
		if err := r.copyChanged(ctx, backupRoot); err != nil {
			return err
		}
	}

	if r.opts.RemoveFiles {
		r.enter(PhaseRemoving)
		if err := r.removeOld(ctx, backupRoot); err != nil {
			return err
		}
	}

	if r.opts.ManifestFile != "" && r.opts.ValidateGame {
		r.enter(PhasePostValidating)
		r.postValidate(ctx)
	}

	return nil
}

func (r *run) loadManifest() (*manifest.Manifest, error) {
	if r.manifest != nil {
		return r.manifest, nil
	}
	m, err := manifest.Load(r.opts.ManifestFile)
	if err != nil {
		return nil, err
	}
	for _, w := range m.Warnings {
		r.u.logger.Warn("manifest warning", "file", r.opts.ManifestFile, "warning", w)
		r.report.Warnings = append(r.report.Warnings, w)
	}
	r.manifest = m
	return m, nil
}

func (r *run) preValidate(ctx context.Context) error {
	m, err := r.loadManifest()
	if err != nil {
		return err
	}

	res, err := r.u.verifier.Verify(ctx, m, r.opts.UpdateDirectory, r.cs)
	if err != nil {
		return err
	}
	r.report.PreValidation = res
	if jerr := r.u.journal.RecordVerification(r.runID, ScopeUpdate, res); jerr != nil {
		r.u.logger.Warn("failed to record verification", "error", jerr)
	}

	if res.OK() {
		return nil
	}

	prompt := fmt.Sprintf("%d of %d staged files failed validation. Continue?", len(res.BadFiles), res.Total)
	if r.u.confirm == nil || !r.u.confirm.Confirm(prompt) {
		return ErrDeclined
	}
	r.u.logger.Warn("continuing after failed pre-update validation", "bad_files", len(res.BadFiles))
	return nil
}

func (r *run) postValidate(ctx context.Context) {
	m, err := r.loadManifest()
	if err != nil {
		r.warn("post-update validation skipped: %v", err)
		return
	}

	res, err := r.u.verifier.Verify(ctx, m, r.opts.GameDirectory, nil)
	if err != nil {
		r.warn("post-update validation incomplete: %v", err)
		return
	}
	r.report.PostValidation = res
	if jerr := r.u.journal.RecordVerification(r.runID, ScopeGame, res); jerr != nil {
		r.u.logger.Warn("failed to record verification", "error", jerr)
	}
	if !res.OK() {
		r.warn("post-update validation found %d bad files", len(res.BadFiles))
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.report.Warnings = append(r.report.Warnings, msg)
	r.u.logger.Warn(msg)
}

// skip reports whether rel must not be touched: it matches an ignore
// pattern or lies inside the backup directory.
func (r *run) skip(rel string) bool {
	if safety.InTopDir(rel, r.opts.BackupDirName) {
		return true
	}
	for _, pattern := range r.opts.Ignore {
		// Patterns were validated in checkOptions.
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (r *run) copyChanged(ctx context.Context, backupRoot string) error {
	for _, rel := range r.cs.Changed() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.skip(rel) {
			r.report.Ignored++
			r.u.logger.Debug("skipping ignored path", "path", rel)
			continue
		}

		src, err := safety.SafeJoinUnder(r.opts.UpdateDirectory, rel)
		if err != nil {
			r.fail(rel, OpCopy, err)
			continue
		}
		dst, err := safety.SafeJoinUnder(r.opts.GameDirectory, rel)
		if err != nil {
			r.fail(rel, OpCopy, err)
			continue
		}

		if r.opts.CreateBackup {
			ok, err := r.backup(rel, dst, backupRoot)
			if err != nil {
				if isPermission(err) {
					return fmt.Errorf("backing up %s: %w: %w", rel, ErrPermission, err)
				}
				// The existing file stays untouched when its backup failed.
				r.fail(rel, OpBackup, err)
				continue
			}
			if ok {
				r.report.BackedUp++
			}
		}

		r.u.logger.Info("copying file", "path", rel)
		n, err := r.u.ops.Copy(src, dst)
		if err != nil {
			if isPermission(err) {
				return fmt.Errorf("copying %s: %w: %w", rel, ErrPermission, err)
			}
			r.fail(rel, OpCopy, err)
			continue
		}
		r.report.Copied++
		r.report.BytesCopied += n
		r.record(Action{Path: rel, Op: OpCopy, Bytes: n})
	}
	return nil
}

func (r *run) removeOld(ctx context.Context, backupRoot string) error {
	for _, rel := range r.cs.Removed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.skip(rel) {
			r.report.Ignored++
			r.u.logger.Debug("skipping ignored path", "path", rel)
			continue
		}

		target, err := safety.SafeJoinUnder(r.opts.GameDirectory, rel)
		if err != nil {
			r.fail(rel, OpRemove, err)
			continue
		}

		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			r.report.AlreadyAbsent++
			r.u.logger.Debug("file already absent", "path", rel)
			continue
		}

		if r.opts.CreateBackup {
			ok, err := r.backup(rel, target, backupRoot)
			if err != nil {
				if isPermission(err) {
					return fmt.Errorf("backing up %s: %w: %w", rel, ErrPermission, err)
				}
				r.fail(rel, OpBackup, err)
				continue
			}
			if ok {
				r.report.BackedUp++
			}
		}

		r.u.logger.Info("removing file", "path", rel)
		if err := r.u.ops.Remove(target); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.report.AlreadyAbsent++
				continue
			}
			if isPermission(err) {
				return fmt.Errorf("removing %s: %w: %w", rel, ErrPermission, err)
			}
			r.fail(rel, OpRemove, err)
			continue
		}
		r.report.Removed++
		r.record(Action{Path: rel, Op: OpRemove})
	}
	return nil
}

// backup copies the existing regular file at target into the backup tree.
// An existing backup is never replaced, so the tree keeps the oldest copy
// across repeated runs. It reports false when nothing was copied.
func (r *run) backup(rel, target, backupRoot string) (bool, error) {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	dst, err := safety.SafeJoinUnder(backupRoot, rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(dst); err == nil {
		r.u.logger.Info("keeping existing backup", "path", rel, "backup", dst)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if _, err := r.u.ops.Copy(target, dst); err != nil {
		return false, err
	}
	r.u.logger.Debug("backed up file", "path", rel, "backup", dst)
	r.record(Action{Path: rel, Op: OpBackup, BackupPath: dst})
	return true, nil
}

func (r *run) fail(rel string, op Op, err error) {
	r.u.logger.Warn("file operation failed, continuing", "path", rel, "op", op, "error", err)
	r.report.Failed = append(r.report.Failed, FailedFile{Path: rel, Op: op, Error: err.Error()})
	r.record(Action{Path: rel, Op: op, Err: err})
}

func (r *run) record(a Action) {
	if err := r.u.journal.RecordAction(r.runID, a); err != nil {
		r.u.logger.Warn("failed to record file action", "path", a.Path, "error", err)
	}
}
