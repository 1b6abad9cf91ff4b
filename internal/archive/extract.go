package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Extract unpacks the bundle at bundlePath into destDir and returns the
// number of files written.  Parent directories are created as needed and
// existing files are overwritten.  Entries other than files and
// directories are ignored.
func Extract(bundlePath, destDir string) (int, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return 0, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()
	return ExtractReader(f, destDir)
}

// ExtractReader unpacks a bundle read from r into destDir.
func ExtractReader(r io.Reader, destDir string) (int, error) {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", destDir, err)
	}
	gz, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("read bundle: %w", err)
		}
		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return files, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			files++
		}
	}
}

func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(root, clean), nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
