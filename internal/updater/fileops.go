package updater

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// fileOps is the filesystem surface the updater mutates through.
type fileOps interface {
	// Copy writes src to dst durably, creating dst's parent directories.
	Copy(src, dst string) (int64, error)
	// Remove deletes a file or an empty directory.
	Remove(path string) error
	// Mkdir creates a single directory.
	Mkdir(path string) error
}

type osFileOps struct{}

func (osFileOps) Mkdir(path string) error {
	return os.Mkdir(path, 0o755)
}

func (osFileOps) Remove(path string) error {
	return os.Remove(path)
}

// Copy replaces dst through a temp file and rename in dst's directory, so a
// reader never sees a half-written dst. The data is fsynced before the rename.
func (osFileOps) Copy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}

// isPermission reports whether err is a permission failure, which aborts
// the whole update.
func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
