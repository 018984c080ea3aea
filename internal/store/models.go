package store

import "time"

// UpdateRun records one update execution
type UpdateRun struct {
	ID              int64
	ChangeSetName   string
	InitialBuild    string
	FinalBuild      string
	GameDirectory   string
	UpdateDirectory string
	StartTime       time.Time
	EndTime         time.Time
	FilesCopied     int
	FilesRemoved    int
	FilesBackedUp   int
	FilesFailed     int
	BytesCopied     int64
	Status          string // "running", "done", "aborted"
	ErrorMessage    string
}

// FileAction records one backup, copy or remove taken during an update
type FileAction struct {
	ID         int64
	RunID      int64
	Path       string // slash-separated, relative to the game directory
	Op         string // "backup", "copy", "remove"
	BackupPath string
	Bytes      int64
	Error      string
	CreatedAt  time.Time
}

// VerificationRun records one manifest verification
type VerificationRun struct {
	ID         int64
	RunID      int64 // 0 for standalone validate commands
	Scope      string // "update" or "game"
	Directory  string
	Total      int
	Matched    int
	Mismatched int
	Missing    int
	BadFiles   []string
	Duration   time.Duration
	CreatedAt  time.Time
}
