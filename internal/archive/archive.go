// Package archive turns the store's data directory into a single
// gzip-compressed tar bundle and back.
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// BundleName is the canonical name of the store backup.
const BundleName = "attendees.tar.gz"

// ErrUnsafePath is returned by Extract for an entry that would land
// outside the destination directory.
var ErrUnsafePath = errors.New("unsafe path in bundle")

// Report summarizes one Archive run.
type Report struct {
	Files  int      // entries written
	Bytes  int64    // uncompressed bytes written
	Failed []string // relative paths that could not be read
}

// Complete reports whether every regular file made it into the bundle.
// An incomplete bundle is suspect and should not replace a good backup.
func (r Report) Complete() bool { return len(r.Failed) == 0 }

// Archiver writes bundles.  The zero value logs to slog.Default.
type Archiver struct {
	Logger *slog.Logger
	// Level is the gzip compression level; zero means gzip.DefaultCompression.
	Level int
}

// Archive bundles sourceDir into destPath using a default Archiver.
func Archive(sourceDir, destPath string) (Report, error) {
	return (&Archiver{}).Archive(sourceDir, destPath)
}

// Archive walks sourceDir and writes every regular file as a tar entry
// named by its slash-separated path relative to sourceDir.  Symbolic
// links and other special files are skipped.  A file that cannot be read
// is logged, recorded in Report.Failed and skipped.
//
// The bundle is written to a temporary file next to destPath and renamed
// into place after every writer layer closed cleanly, so destPath never
// holds a partial bundle.
func (a *Archiver) Archive(sourceDir, destPath string) (rep Report, err error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(sourceDir)
	if err != nil {
		return rep, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return rep, fmt.Errorf("archive source: %w", err)
	}
	if !info.IsDir() {
		return rep, fmt.Errorf("archive source %s is not a directory", sourceDir)
	}
	destAbs, err := filepath.Abs(destPath)
	if err != nil {
		return rep, err
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return rep, fmt.Errorf("create bundle dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destAbs), "."+filepath.Base(destAbs)+".*.tmp")
	if err != nil {
		return rep, fmt.Errorf("create bundle: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	level := a.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	buf := bufio.NewWriter(tmp)
	gz, err := gzip.NewWriterLevel(buf, level)
	if err != nil {
		return rep, err
	}
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			rel, _ := filepath.Rel(root, path)
			logger.Error("archive: cannot visit", "path", rel, "err", walkErr)
			rep.Failed = append(rep.Failed, filepath.ToSlash(rel))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		// The bundle may be written inside the tree it archives.
		if path == destAbs || path == tmpName {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		n, err := addFile(tw, path, name)
		if err != nil {
			var fe *fileError
			if errors.As(err, &fe) {
				logger.Error("archive: skipping file", "path", name, "err", fe.err)
				rep.Failed = append(rep.Failed, name)
				return nil
			}
			return err
		}
		rep.Files++
		rep.Bytes += n
		return nil
	})
	if walkErr != nil {
		return rep, fmt.Errorf("archive %s: %w", sourceDir, walkErr)
	}

	if err = tw.Close(); err != nil {
		return rep, fmt.Errorf("close tar: %w", err)
	}
	if err = gz.Close(); err != nil {
		return rep, fmt.Errorf("close gzip: %w", err)
	}
	if err = buf.Flush(); err != nil {
		return rep, fmt.Errorf("flush bundle: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return rep, fmt.Errorf("sync bundle: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return rep, fmt.Errorf("close bundle: %w", err)
	}
	if err = os.Rename(tmpName, destAbs); err != nil {
		return rep, fmt.Errorf("install bundle: %w", err)
	}
	logger.Info("archive written", "bundle", destPath, "files", rep.Files, "bytes", rep.Bytes, "failed", len(rep.Failed))
	return rep, nil
}

// fileError marks a failure reading one source file, as opposed to a
// failure writing the bundle.
type fileError struct{ err error }

func (e *fileError) Error() string { return e.err.Error() }
func (e *fileError) Unwrap() error { return e.err }

// addFile reads the whole file before writing its header so that a read
// failure leaves no half-written entry behind.
func addFile(tw *tar.Writer, path, name string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, &fileError{err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &fileError{err}
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, &fileError{err}
	}
	hdr.Name = name
	hdr.Size = int64(len(data))
	hdr.Format = tar.FormatPAX
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	return hdr.Size, nil
}
