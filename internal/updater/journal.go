package updater

import (
	"time"

	"github.com/BadgerOps/depotpatch/internal/changeset"
	"github.com/BadgerOps/depotpatch/internal/verify"
)

// Op names a file action taken during an update.
type Op string

const (
	OpBackup Op = "backup"
	OpCopy   Op = "copy"
	OpRemove Op = "remove"
)

// Verification scopes recorded in the journal.
const (
	ScopeUpdate = "update"
	ScopeGame   = "game"
)

// Action is one file operation. Err is set when it failed.
type Action struct {
	Path       string
	Op         Op
	BackupPath string
	Bytes      int64
	Err        error
}

// Journal records update history. Journal errors never fail an update.
type Journal interface {
	BeginRun(cs *changeset.ChangeSet, opts Options, start time.Time) (int64, error)
	RecordAction(runID int64, a Action) error
	RecordVerification(runID int64, scope string, r *verify.Result) error
	FinishRun(runID int64, report *Report) error
}

type nopJournal struct{}

func (nopJournal) BeginRun(*changeset.ChangeSet, Options, time.Time) (int64, error) { return 0, nil }
func (nopJournal) RecordAction(int64, Action) error                                 { return nil }
func (nopJournal) RecordVerification(int64, string, *verify.Result) error           { return nil }
func (nopJournal) FinishRun(int64, *Report) error                                   { return nil }
