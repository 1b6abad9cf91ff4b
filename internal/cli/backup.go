package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/event-seat-reservation/internal/archive"
	"github.com/iliyamo/event-seat-reservation/internal/bootstrap"
	"github.com/iliyamo/event-seat-reservation/internal/database"
	"github.com/iliyamo/event-seat-reservation/internal/reconcile"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		noUpload        bool
		allowIncomplete bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory and upload the bundle",
		Long: `Checkpoint the store, archive DATA_DIR into BUNDLE_PATH and upload the
bundle to the remote folder.  Meant for a stopped server; a running server
backs itself up through POST /v1/admin/backup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, rootOpts, !noUpload, allowIncomplete)
		},
	}
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "only write the local bundle")
	cmd.Flags().BoolVar(&allowIncomplete, "allow-incomplete", false, "upload even if some files could not be archived")
	return cmd
}

func runBackup(cmd *cobra.Command, opts *RootOptions, upload, allowIncomplete bool) error {
	ctx := cmd.Context()
	cfg := opts.Config

	if err := checkpoint(ctx, opts); err != nil {
		return err
	}
	archiver := &archive.Archiver{Logger: opts.Logger}
	rep, err := archiver.Archive(cfg.DataDir, cfg.BundlePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "archived %d files (%d bytes) to %s\n", rep.Files, rep.Bytes, cfg.BundlePath)
	if !rep.Complete() {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped unreadable files: %s\n", strings.Join(rep.Failed, ", "))
		if upload && !allowIncomplete {
			return fmt.Errorf("%w: not uploading", reconcile.ErrIncompleteBundle)
		}
	}
	if !upload {
		return nil
	}

	syncer, cleanup, err := opts.remoteSync(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	id, err := syncer.UploadNamed(ctx, cfg.BundlePath, archive.BundleName, cfg.Remote.Folder)
	if err != nil {
		if errors.Is(err, remote.ErrUploadsDisabled) {
			return fmt.Errorf("%w: set UPLOAD_DB=true", err)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as %s\n", archive.BundleName, id)
	return nil
}

// checkpoint folds the sqlite write-ahead log into the database file.
// It does nothing when the store file does not exist yet.
func checkpoint(ctx context.Context, opts *RootOptions) error {
	storeOpts := bootstrap.StoreOptions(opts.Config, opts.Logger)
	if storeOpts.Driver != "" && storeOpts.Driver != "sqlite" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(opts.Config.DataDir, database.DBFileName)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	storeOpts.MaxAttempts = 1
	repo, err := reconcile.OpenStore(storeOpts, opts.Logger)(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	return repo.Checkpoint(ctx)
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download the latest bundle and extract it",
		Long: `Download the newest remote bundle to BUNDLE_PATH and extract it over
DATA_DIR, or over --data-dir when given.  Existing files with the same
names are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, rootOpts, dataDir)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "extract here instead of DATA_DIR")
	return cmd
}

func runRestore(cmd *cobra.Command, opts *RootOptions, dataDir string) error {
	ctx := cmd.Context()
	cfg := opts.Config
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	syncer, cleanup, err := opts.remoteSync(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	name := archive.BundleName
	files, err := syncer.Download(ctx, remote.ExactName(name))
	if err != nil {
		return err
	}
	data, ok := files[name]
	if !ok {
		return fmt.Errorf("no remote bundle named %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.BundlePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.BundlePath, data, 0o644); err != nil {
		return err
	}
	n, err := archive.Extract(cfg.BundlePath, dataDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d files into %s\n", n, dataDir)
	return nil
}
