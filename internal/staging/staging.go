// Package staging turns an update source into a directory of new files. A
// directory is used as-is; a tar package, optionally zstd, xz or gzip
// compressed, is extracted into a temporary directory first.
package staging

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/depotpatch/internal/safety"
)

// ErrUnsupportedEntry is returned for links, devices and other tar entries
// that are not plain files or directories.
var ErrUnsupportedEntry = errors.New("unsupported archive entry")

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Staged is a prepared update directory.
type Staged struct {
	Dir     string
	Source  string
	Files   int
	Bytes   int64
	temp    bool
	cleaned bool
}

// Extracted reports whether Dir is a temporary extraction.
func (s *Staged) Extracted() bool {
	return s.temp
}

// Cleanup removes the extraction directory. It is a no-op for a source
// that was already a directory and safe to call more than once.
func (s *Staged) Cleanup() error {
	if !s.temp || s.cleaned {
		return nil
	}
	s.cleaned = true
	return os.RemoveAll(s.Dir)
}

// Prepare resolves source into a directory of staged files.
func Prepare(ctx context.Context, source string, logger *slog.Logger) (*Staged, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("reading update source: %w", err)
	}
	if info.IsDir() {
		return &Staged{Dir: source, Source: source}, nil
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("update source %s is neither a directory nor a file", source)
	}

	dir, err := os.MkdirTemp("", "depotpatch-staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	staged := &Staged{Dir: dir, Source: source, temp: true}

	logger.Info("extracting update package", "source", source, "staging", dir)
	if err := extract(ctx, source, staged); err != nil {
		_ = staged.Cleanup()
		return nil, fmt.Errorf("extracting %s: %w", filepath.Base(source), err)
	}
	logger.Info("update package extracted", "files", staged.Files, "bytes", staged.Bytes)
	return staged, nil
}

func extract(ctx context.Context, archivePath string, staged *Staged) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r, closeFn, err := decompress(bufio.NewReader(f))
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		destPath, err := safety.SafeJoinUnder(staged.Dir, header.Name)
		if err != nil {
			if header.Typeflag == tar.TypeDir && errors.Is(err, safety.ErrUnsafePath) && cleanIsRoot(header.Name) {
				continue
			}
			return fmt.Errorf("unsafe path in archive %q: %w", header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		case tar.TypeReg:
		default:
			return fmt.Errorf("%w: %s (type %c)", ErrUnsupportedEntry, header.Name, header.Typeflag)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm()|0o200)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", destPath, err)
		}
		n, err := io.Copy(outFile, tr)
		if closeErr := outFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}

		staged.Files++
		staged.Bytes += n
	}
}

// cleanIsRoot reports whether a directory entry names the archive root,
// as "./" does in tarballs made with "tar -C dir .".
func cleanIsRoot(name string) bool {
	return filepath.Clean(filepath.FromSlash(name)) == "."
}

// decompress picks a decoder from the stream's magic number. Streams with
// no known magic are read as plain tar.
func decompress(br *bufio.Reader) (io.Reader, func(), error) {
	head, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, fmt.Errorf("reading archive header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xr, func() {}, nil
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gr, func() { _ = gr.Close() }, nil
	default:
		return br, func() {}, nil
	}
}
