package remote

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newFakeDrive(t *testing.T, handler http.HandlerFunc) *DriveStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store, err := NewDriveStore(context.Background(), DriveCredentials{},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return store
}

func TestDriveStoreList(t *testing.T) {
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"files":[{"id":"abc","name":"attendees.tar.gz","size":"2048","modifiedTime":"2026-01-02T03:04:05Z","parents":["folder1"]}]}`))
	})

	objs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, Object{
		ID:       "abc",
		Name:     "attendees.tar.gz",
		Folder:   "folder1",
		Size:     2048,
		Modified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, objs[0])
}

func TestDriveStoreFetch(t *testing.T) {
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/abc", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("bundle-bytes"))
	})

	data, err := store.Fetch(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle-bytes"), data)
}

func TestDriveStoreRemoveMissing(t *testing.T) {
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found: abc"}}`))
	})

	err := store.Remove(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

type driveUpload struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents"`
	Media   string   `json:"-"`
}

// readDriveUpload decodes a multipart/related media upload: the file
// metadata followed by the content.
func readDriveUpload(r *http.Request) (driveUpload, error) {
	var up driveUpload
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return up, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	meta, err := mr.NextPart()
	if err != nil {
		return up, err
	}
	if err := json.NewDecoder(meta).Decode(&up); err != nil {
		return up, err
	}
	media, err := mr.NextPart()
	if err != nil {
		return up, err
	}
	data, err := io.ReadAll(media)
	if err != nil {
		return up, err
	}
	up.Media = string(data)
	return up, nil
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestDriveStoreCreateInFolder(t *testing.T) {
	var lookups, uploads atomic.Int32
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files":
			lookups.Add(1)
			q := r.URL.Query().Get("q")
			assert.Contains(t, q, "name = 'backups'")
			assert.Contains(t, q, driveFolderMime)
			writeJSON(w, `{"files":[{"id":"folder1","name":"backups"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
			n := uploads.Add(1)
			assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
			up, err := readDriveUpload(r)
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			assert.Equal(t, []string{"folder1"}, up.Parents)
			if n == 1 {
				assert.Equal(t, "attendees.tar.gz", up.Name)
				assert.Equal(t, "bundle-bytes", up.Media)
				writeJSON(w, `{"id":"obj1"}`)
				return
			}
			assert.Equal(t, "pending-7.json", up.Name)
			writeJSON(w, `{"id":"obj2"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotImplemented)
		}
	})

	ctx := context.Background()
	id, err := store.Create(ctx, "backups", "attendees.tar.gz", strings.NewReader("bundle-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "obj1", id)

	id, err = store.Create(ctx, "backups", "pending-7.json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "obj2", id)

	assert.Equal(t, int32(1), lookups.Load(), "folder id is cached")
	assert.Equal(t, int32(2), uploads.Load())
}

func TestDriveStoreCreateUnknownFolder(t *testing.T) {
	var uploads atomic.Int32
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/files" {
			writeJSON(w, `{"files":[]}`)
			return
		}
		uploads.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.Create(context.Background(), "missing", "attendees.tar.gz", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing" not found`)
	assert.Zero(t, uploads.Load())
}

func TestDriveStoreReplace(t *testing.T) {
	var calls atomic.Int32
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/upload/drive/v3/files/abc", r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		up, err := readDriveUpload(r)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Empty(t, up.Name)
		assert.Equal(t, "new-bundle", up.Media)
		writeJSON(w, `{"id":"abc"}`)
	})

	require.NoError(t, store.Replace(context.Background(), "abc", strings.NewReader("new-bundle")))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDriveStoreReplaceMissing(t *testing.T) {
	store := newFakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found: gone"}}`))
	})

	err := store.Replace(context.Background(), "gone", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
