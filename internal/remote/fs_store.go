package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FSStore keeps objects as files under a root directory, one
// subdirectory per folder.  An object's id is its slash-separated path
// relative to the root.  It is meant for development, tests and
// deployments that mount durable storage.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create remote dir: %w", err)
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) path(id string) (string, error) {
	clean := path.Clean(id)
	if id == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid object id %q", id)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FSStore) List(ctx context.Context) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		folder := path.Dir(id)
		if folder == "." {
			folder = ""
		}
		out = append(out, Object{ID: id, Name: d.Name(), Folder: folder, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	return out, err
}

func (s *FSStore) Fetch(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return data, err
}

func (s *FSStore) Create(_ context.Context, folder, name string, r io.Reader) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	id := path.Join(filepath.ToSlash(folder), name)
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(p, r); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FSStore) Replace(_ context.Context, id string, r io.Reader) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return writeAtomic(p, r)
}

func (s *FSStore) Remove(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	} else if err != nil {
		return err
	}
	return nil
}

func writeAtomic(p string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}
