package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// DriveStore keeps objects in Google Drive using a service account.
// Folders are looked up by name; the folder must already be shared with
// the service account.
type DriveStore struct {
	svc *drive.Service

	mu      sync.Mutex
	folders map[string]string
}

// DriveCredentials selects how the service account authenticates.  JSON
// takes precedence over File.
type DriveCredentials struct {
	File string
	JSON []byte
}

// NewDriveStore builds a Drive client.  Extra options are appended,
// which lets tests point the client at a fake endpoint.
func NewDriveStore(ctx context.Context, creds DriveCredentials, extra ...option.ClientOption) (*DriveStore, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	switch {
	case len(creds.JSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(creds.JSON))
	case creds.File != "":
		opts = append(opts, option.WithCredentialsFile(creds.File))
	}
	opts = append(opts, extra...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &DriveStore{svc: svc, folders: make(map[string]string)}, nil
}

func (s *DriveStore) List(ctx context.Context) ([]Object, error) {
	var out []Object
	err := s.svc.Files.List().
		Q("trashed = false and mimeType != '" + driveFolderMime + "'").
		Fields("nextPageToken, files(id, name, size, modifiedTime, parents)").
		PageSize(100).
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				o := Object{ID: f.Id, Name: f.Name, Size: f.Size}
				if len(f.Parents) > 0 {
					o.Folder = f.Parents[0]
				}
				if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
					o.Modified = t
				}
				out = append(out, o)
			}
			return nil
		})
	if err != nil {
		return nil, mapDriveError(err, "")
	}
	return out, nil
}

func (s *DriveStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, mapDriveError(err, id)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *DriveStore) Create(ctx context.Context, folder, name string, r io.Reader) (string, error) {
	file := &drive.File{Name: name}
	if folder != "" {
		parent, err := s.folderID(ctx, folder)
		if err != nil {
			return "", err
		}
		file.Parents = []string{parent}
	}
	created, err := s.svc.Files.Create(file).Media(r).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", mapDriveError(err, name)
	}
	return created.Id, nil
}

func (s *DriveStore) Replace(ctx context.Context, id string, r io.Reader) error {
	if _, err := s.svc.Files.Update(id, &drive.File{}).Media(r).Fields("id").Context(ctx).Do(); err != nil {
		return mapDriveError(err, id)
	}
	return nil
}

func (s *DriveStore) Remove(ctx context.Context, id string) error {
	if err := s.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return mapDriveError(err, id)
	}
	return nil
}

// folderID resolves a folder name to its id and caches the result.
func (s *DriveStore) folderID(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	id, ok := s.folders[name]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	q := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false",
		driveFolderMime, strings.ReplaceAll(name, "'", `\'`))
	list, err := s.svc.Files.List().Q(q).Fields("files(id, name)").PageSize(10).Context(ctx).Do()
	if err != nil {
		return "", mapDriveError(err, name)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("drive folder %q not found or not shared", name)
	}
	id = list.Files[0].Id
	s.mu.Lock()
	s.folders[name] = id
	s.mu.Unlock()
	return id, nil
}

func mapDriveError(err error, id string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %w", ErrObjectNotFound, id, err)
	}
	return err
}
