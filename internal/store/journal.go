package store

import (
	"path/filepath"
	"time"

	"github.com/BadgerOps/depotpatch/internal/changeset"
	"github.com/BadgerOps/depotpatch/internal/updater"
	"github.com/BadgerOps/depotpatch/internal/verify"
)

// Journal records updater runs in the store.
type Journal struct {
	store *Store
}

// NewJournal returns an updater.Journal backed by s.
func NewJournal(s *Store) *Journal {
	return &Journal{store: s}
}

var _ updater.Journal = (*Journal)(nil)

// BeginRun implements updater.Journal.
func (j *Journal) BeginRun(cs *changeset.ChangeSet, opts updater.Options, start time.Time) (int64, error) {
	run := &UpdateRun{
		ChangeSetName:   cs.Name,
		InitialBuild:    string(cs.InitialBuild),
		FinalBuild:      string(cs.FinalBuild),
		GameDirectory:   opts.GameDirectory,
		UpdateDirectory: opts.UpdateDirectory,
		StartTime:       start,
		Status:          "running",
	}
	if err := j.store.CreateUpdateRun(run); err != nil {
		return 0, err
	}
	return run.ID, nil
}

// RecordAction implements updater.Journal.
func (j *Journal) RecordAction(runID int64, a updater.Action) error {
	if runID == 0 {
		return nil
	}
	fa := &FileAction{
		RunID:      runID,
		Path:       filepath.ToSlash(a.Path),
		Op:         string(a.Op),
		BackupPath: a.BackupPath,
		Bytes:      a.Bytes,
	}
	if a.Err != nil {
		fa.Error = a.Err.Error()
	}
	return j.store.RecordFileAction(fa)
}

// RecordVerification implements updater.Journal. A runID of 0 records a
// standalone verification.
func (j *Journal) RecordVerification(runID int64, scope string, r *verify.Result) error {
	return j.store.RecordVerification(&VerificationRun{
		RunID:      runID,
		Scope:      scope,
		Directory:  r.Directory,
		Total:      r.Total,
		Matched:    r.Matched,
		Mismatched: r.Mismatched,
		Missing:    r.Missing,
		BadFiles:   r.BadFiles,
		Duration:   r.Duration,
	})
}

// FinishRun implements updater.Journal.
func (j *Journal) FinishRun(runID int64, report *updater.Report) error {
	if runID == 0 {
		return nil
	}
	run, err := j.store.GetUpdateRun(runID)
	if err != nil {
		return err
	}
	run.EndTime = report.EndTime
	run.FilesCopied = report.Copied
	run.FilesRemoved = report.Removed
	run.FilesBackedUp = report.BackedUp
	run.FilesFailed = len(report.Failed)
	run.BytesCopied = report.BytesCopied
	run.Status = string(report.Phase)
	run.ErrorMessage = report.AbortReason
	return j.store.UpdateUpdateRun(run)
}
