package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Options configures a Sync.
type Options struct {
	// UploadsEnabled allows writes.  When false Sync still reads, which
	// gives a read-only mode for local development.
	UploadsEnabled bool
	// Timeout bounds each call to the backend; zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Sync uploads, downloads and deletes objects by name.  It does not
// retry; a failed call is returned as a *SyncError and the caller
// decides what to do.
type Sync struct {
	store   ObjectStore
	uploads bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewSync returns a Sync over store.
func NewSync(store ObjectStore, opts Options) *Sync {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{store: store, uploads: opts.UploadsEnabled, timeout: opts.Timeout, logger: logger}
}

// UploadsEnabled reports whether writes are allowed.
func (s *Sync) UploadsEnabled() bool { return s.uploads }

func (s *Sync) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Sync) list(ctx context.Context, name string) ([]Object, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	objs, err := s.store.List(ctx)
	if err != nil {
		return nil, &SyncError{Op: "list", Name: name, Err: err}
	}
	sort.SliceStable(objs, func(i, j int) bool { return objs[i].Modified.Before(objs[j].Modified) })
	return objs, nil
}

// Upload stores the file at localPath under its base name.  An object
// with the same name is replaced in place; otherwise a new object is
// created in folder.  It returns the remote id.
func (s *Sync) Upload(ctx context.Context, localPath, folder string) (string, error) {
	return s.UploadNamed(ctx, localPath, filepath.Base(localPath), folder)
}

// UploadNamed is Upload with an explicit remote name.
func (s *Sync) UploadNamed(ctx context.Context, localPath, name, folder string) (string, error) {
	if !s.uploads {
		return "", ErrUploadsDisabled
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	return s.put(ctx, name, folder, data)
}

// UploadBytes stores data under name with the same replace rule as
// Upload.
func (s *Sync) UploadBytes(ctx context.Context, name, folder string, data []byte) (string, error) {
	if !s.uploads {
		return "", ErrUploadsDisabled
	}
	return s.put(ctx, name, folder, data)
}

func (s *Sync) put(ctx context.Context, name, folder string, data []byte) (string, error) {
	objs, err := s.list(ctx, name)
	if err != nil {
		return "", err
	}
	var existing *Object
	for i := range objs {
		if objs[i].Name == name {
			existing = &objs[i]
		}
	}

	callCtx, cancel := s.bound(ctx)
	defer cancel()
	if existing != nil {
		if err := s.store.Replace(callCtx, existing.ID, bytes.NewReader(data)); err != nil {
			return "", &SyncError{Op: "replace", Name: name, Err: err}
		}
		s.logger.Info("remote object replaced", "name", name, "id", existing.ID, "bytes", len(data))
		return existing.ID, nil
	}
	id, err := s.store.Create(callCtx, folder, name, bytes.NewReader(data))
	if err != nil {
		return "", &SyncError{Op: "create", Name: name, Err: err}
	}
	s.logger.Info("remote object created", "name", name, "folder", folder, "id", id, "bytes", len(data))
	return id, nil
}

// Find returns the newest object called name.
func (s *Sync) Find(ctx context.Context, name string) (Object, bool, error) {
	objs, err := s.list(ctx, name)
	if err != nil {
		return Object{}, false, err
	}
	for i := len(objs) - 1; i >= 0; i-- {
		if objs[i].Name == name {
			return objs[i], true, nil
		}
	}
	return Object{}, false, nil
}

// Download fetches every object whose name matches, keyed by name.
// When several objects share a name the newest wins.  No match is not an
// error; the map is simply empty.
func (s *Sync) Download(ctx context.Context, match Matcher) (map[string][]byte, error) {
	objs, err := s.list(ctx, "")
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Object)
	for _, o := range objs {
		if match(o.Name) {
			latest[o.Name] = o
		}
	}
	out := make(map[string][]byte, len(latest))
	for name, o := range latest {
		data, err := s.fetch(ctx, o)
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}

func (s *Sync) fetch(ctx context.Context, o Object) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	data, err := s.store.Fetch(ctx, o.ID)
	if err != nil {
		return nil, &SyncError{Op: "fetch", Name: o.Name, Err: err}
	}
	return data, nil
}

// Delete removes every object called name.  It is a no-op when there is
// none.
func (s *Sync) Delete(ctx context.Context, name string) error {
	if !s.uploads {
		return ErrUploadsDisabled
	}
	objs, err := s.list(ctx, name)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if o.Name != name {
			continue
		}
		if err := s.remove(ctx, o); err != nil {
			return err
		}
		s.logger.Info("remote object deleted", "name", name, "id", o.ID)
	}
	return nil
}

func (s *Sync) remove(ctx context.Context, o Object) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.Remove(ctx, o.ID); err != nil {
		return &SyncError{Op: "delete", Name: o.Name, Err: err}
	}
	return nil
}
