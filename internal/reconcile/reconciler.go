// Package reconcile brings the local store in line with the remote
// backup at startup, replays pending reservation documents, and backs the
// store up while running and at shutdown.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/iliyamo/event-seat-reservation/internal/archive"
	"github.com/iliyamo/event-seat-reservation/internal/database"
	"github.com/iliyamo/event-seat-reservation/internal/pending"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
	"github.com/iliyamo/event-seat-reservation/internal/repository"
	"github.com/iliyamo/event-seat-reservation/internal/seatmap"
	"github.com/iliyamo/event-seat-reservation/internal/service"
)

var (
	// ErrPendingConflict marks a pending document whose reservation id is
	// already used by a reservation with a different name or seatQty.
	// It is a kind of malformed document.
	ErrPendingConflict = fmt.Errorf("%w: reservation id already used with different content", pending.ErrMalformedDocument)
	// ErrIncompleteBundle is returned by Backup when some file could not
	// be archived and the bundle was therefore not uploaded.
	ErrIncompleteBundle = errors.New("bundle is incomplete")
	ErrNotStarted       = errors.New("reconciler not started")
)

// Opener opens the reservation store.
type Opener func(ctx context.Context) (*repository.ReservationRepo, error)

// OpenStore returns an Opener backed by database.Open.
func OpenStore(opts database.Options, logger *slog.Logger) Opener {
	return func(ctx context.Context) (*repository.ReservationRepo, error) {
		db, dialect, err := database.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return repository.NewReservationRepo(db, dialect, logger), nil
	}
}

// Options configures a Reconciler.
type Options struct {
	DataDir    string // directory holding the store files
	BundlePath string // local bundle; its base name is the remote name
	Folder     string // remote folder for new uploads

	// DeleteReplayed removes a pending document once its reservation is
	// in the store and a backup containing it has been uploaded.
	DeleteReplayed bool
	// UploadIncomplete uploads a bundle even if some files were skipped.
	UploadIncomplete bool
	// BackupOnStart backs up at the end of Start even when nothing
	// changed.
	BackupOnStart bool

	Seats    *seatmap.Map
	Notifier service.Notifier
	Logger   *slog.Logger
}

// Runtime is what Start produced.
type Runtime struct {
	Repo   *repository.ReservationRepo
	Engine *service.ReservationService

	Restored bool     // a remote bundle was extracted
	Created  []string // tables created by schema bootstrap
	Replayed []string // pending documents replayed into the store
	Failed   []string // pending documents left in place because of an error
}

// Reconciler owns the store for the lifetime of the process.
type Reconciler struct {
	opts     Options
	syncer   *remote.Sync
	open     Opener
	archiver *archive.Archiver
	logger   *slog.Logger

	mu sync.Mutex // serializes backups
	rt *Runtime
}

// New returns a Reconciler.  syncer may be nil when no remote store is
// configured; backups are then only written locally.
func New(opts Options, syncer *remote.Sync, open Opener) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BundlePath == "" {
		opts.BundlePath = filepath.Join(filepath.Dir(filepath.Clean(opts.DataDir)), archive.BundleName)
	}
	return &Reconciler{
		opts:     opts,
		syncer:   syncer,
		open:     open,
		archiver: &archive.Archiver{Logger: logger},
		logger:   logger,
	}
}

// Runtime returns the result of Start, or nil before Start succeeded.
func (r *Reconciler) Runtime() *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rt
}

// bundleName is the remote object name of the bundle.  It does not
// depend on where BundlePath puts the local copy.
func (r *Reconciler) bundleName() string { return archive.BundleName }

// Start restores the latest remote bundle, opens the store, creates
// missing tables, replays pending documents and, when anything changed,
// backs the store up.  An error means the process should not serve.
func (r *Reconciler) Start(ctx context.Context) (*Runtime, error) {
	rt := &Runtime{}

	restored, err := r.restore(ctx)
	if err != nil {
		return nil, err
	}
	rt.Restored = restored

	repo, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.Repo = repo
	rt.Engine = service.NewReservationService(repo, r.opts.Seats, r.opts.Notifier, r.logger)

	rt.Created, err = repo.EnsureSchema(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	dirty := len(rt.Created) > 0
	if dirty {
		r.logger.Info("schema bootstrapped", "tables", rt.Created)
	}

	redundant, err := r.replayPending(ctx, rt)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	if len(rt.Replayed) > 0 {
		dirty = true
	}

	r.mu.Lock()
	r.rt = rt
	r.mu.Unlock()

	if dirty || r.opts.BackupOnStart || len(redundant) > 0 {
		err := r.Backup(ctx)
		switch {
		case err == nil:
			r.deleteRedundant(ctx, redundant)
		case errors.Is(err, remote.ErrUploadsDisabled):
			r.logger.Info("startup backup not uploaded, uploads are disabled")
		default:
			r.logger.Error("startup backup failed", "err", err)
		}
	}
	r.logger.Info("startup reconciliation finished",
		"restored", rt.Restored, "created_tables", len(rt.Created),
		"replayed", len(rt.Replayed), "failed", len(rt.Failed))
	return rt, nil
}

// restore downloads the remote bundle, keeps a local copy at BundlePath
// and extracts it over DataDir.
func (r *Reconciler) restore(ctx context.Context) (bool, error) {
	if r.syncer == nil {
		return false, nil
	}
	name := r.bundleName()
	obj, ok, err := r.syncer.Find(ctx, name)
	if err != nil {
		return false, fmt.Errorf("look up bundle: %w", err)
	}
	if !ok {
		r.logger.Warn("no remote bundle, starting from local state", "name", name)
		return false, nil
	}
	r.logger.Info("remote bundle found", "name", name, "id", obj.ID, "bytes", obj.Size, "modified", obj.Modified)

	files, err := r.syncer.Download(ctx, remote.ExactName(name))
	if err != nil {
		return false, fmt.Errorf("download bundle: %w", err)
	}
	data, ok := files[name]
	if !ok {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(r.opts.BundlePath), 0o755); err != nil {
		return false, fmt.Errorf("create bundle dir: %w", err)
	}
	if err := os.WriteFile(r.opts.BundlePath, data, 0o644); err != nil {
		return false, fmt.Errorf("write bundle: %w", err)
	}
	n, err := archive.Extract(r.opts.BundlePath, r.opts.DataDir)
	if err != nil {
		return false, fmt.Errorf("extract bundle: %w", err)
	}
	r.logger.Info("bundle restored", "files", n, "data_dir", r.opts.DataDir)
	return true, nil
}

// replayPending replays every pending document whose reservation is not
// in the store yet.  It returns the names of documents that are already
// reflected in the store and may be deleted once backed up.
func (r *Reconciler) replayPending(ctx context.Context, rt *Runtime) ([]string, error) {
	if r.syncer == nil {
		return nil, nil
	}
	docs, err := r.syncer.Download(ctx, remote.PendingDocuments())
	if err != nil {
		return nil, fmt.Errorf("download pending documents: %w", err)
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	var redundant []string
	for _, name := range names {
		present, err := r.replayOne(ctx, rt, name, docs[name])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Error("pending document left in place", "name", name, "err", err)
			rt.Failed = append(rt.Failed, name)
			continue
		}
		if present {
			redundant = append(redundant, name)
		} else {
			rt.Replayed = append(rt.Replayed, name)
		}
	}
	if !r.opts.DeleteReplayed || !r.syncer.UploadsEnabled() {
		redundant = nil
	}
	return redundant, nil
}

// replayOne reports present=true when the reservation was already in the
// store before this call.
func (r *Reconciler) replayOne(ctx context.Context, rt *Runtime, name string, data []byte) (present bool, err error) {
	doc, err := pending.Decode(data)
	if err != nil {
		return false, err
	}
	res := doc.Model()
	exists, err := rt.Repo.CheckReservation(ctx, res.ID)
	if err != nil {
		return false, err
	}
	if exists {
		stored, err := rt.Repo.Get(ctx, res.ID)
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(stored.Name) != res.Name || stored.SeatQty != res.SeatQty {
			return false, fmt.Errorf("%w: id %d stored as %q/%d, document has %q/%d",
				ErrPendingConflict, res.ID, stored.Name, stored.SeatQty, res.Name, res.SeatQty)
		}
		r.logger.Info("pending document already applied", "name", name, "reservation_id", res.ID)
		return true, nil
	}

	assignments, err := doc.Assignments()
	if err != nil {
		return false, err
	}
	if _, err := rt.Engine.Reserve(ctx, res, assignments); err != nil {
		return false, fmt.Errorf("replay reservation %d: %w", res.ID, err)
	}
	r.logger.Info("pending document replayed", "name", name, "reservation_id", res.ID, "seats", len(assignments))
	return false, nil
}

func (r *Reconciler) deleteRedundant(ctx context.Context, names []string) {
	for _, name := range names {
		if err := r.syncer.Delete(ctx, name); err != nil {
			r.logger.Error("could not delete replayed pending document", "name", name, "err", err)
			continue
		}
		r.logger.Info("replayed pending document deleted", "name", name)
	}
}

// Backup checkpoints the store, archives the data directory to
// BundlePath and uploads the bundle.  Concurrent calls run one after the
// other.  A bundle with unreadable files is not uploaded unless
// UploadIncomplete is set; ErrIncompleteBundle is returned instead.
// With uploads disabled the local bundle is still written and
// remote.ErrUploadsDisabled is returned.
func (r *Reconciler) Backup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rt == nil {
		return ErrNotStarted
	}
	if err := r.rt.Repo.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	rep, err := r.archiver.Archive(r.opts.DataDir, r.opts.BundlePath)
	if err != nil {
		return err
	}
	if !rep.Complete() && !r.opts.UploadIncomplete {
		r.logger.Warn("bundle incomplete, not uploading", "failed", rep.Failed)
		return fmt.Errorf("%w: %d files failed", ErrIncompleteBundle, len(rep.Failed))
	}
	if r.syncer == nil {
		return nil
	}
	id, err := r.syncer.UploadNamed(ctx, r.opts.BundlePath, r.bundleName(), r.opts.Folder)
	if err != nil {
		return err
	}
	r.logger.Info("backup uploaded", "id", id, "files", rep.Files, "bytes", rep.Bytes)
	return nil
}

// Shutdown runs a final backup and closes the store.  Without a remote
// the backup only writes the local bundle; with uploads disabled it is
// skipped.  The HTTP server must already have stopped accepting
// requests.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	rt := r.Runtime()
	if rt == nil {
		return nil
	}
	var errs []error
	if r.syncer == nil || r.syncer.UploadsEnabled() {
		if err := r.Backup(ctx); err != nil {
			r.logger.Error("final backup failed", "err", err)
			errs = append(errs, fmt.Errorf("final backup: %w", err))
		}
	}
	if err := rt.Repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
