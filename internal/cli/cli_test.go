package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/pending"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
)

type env struct {
	dir     string
	dataDir string
	remote  string
}

func setupEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:     dir,
		dataDir: filepath.Join(dir, "data", "attendees"),
		remote:  filepath.Join(dir, "remote"),
	}
	t.Setenv("DATA_DIR", e.dataDir)
	t.Setenv("BUNDLE_PATH", filepath.Join(dir, "data", "attendees.tar.gz"))
	t.Setenv("REMOTE_BACKEND", "fs")
	t.Setenv("REMOTE_DIR", e.remote)
	t.Setenv("UPLOAD_DB", "true")
	t.Setenv("SEAT_MAP", "1-2:small")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "error")
	return e
}

func execute(t *testing.T, e env, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(e.dir, "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func remoteSync(t *testing.T, e env) *remote.Sync {
	t.Helper()
	store, err := remote.NewFSStore(e.remote)
	require.NoError(t, err)
	return remote.NewSync(store, remote.Options{UploadsEnabled: true})
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"backup", "restore", "submit", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestBackupThenRestore(t *testing.T) {
	e := setupEnv(t)
	require.NoError(t, os.MkdirAll(e.dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.dataDir, "notes.txt"), []byte("table 1"), 0o644))

	out, err := execute(t, e, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded attendees.tar.gz")

	_, found, err := remoteSync(t, e).Find(context.Background(), "attendees.tar.gz")
	require.NoError(t, err)
	assert.True(t, found)

	target := filepath.Join(e.dir, "restored")
	out, err = execute(t, e, "restore", "--data-dir", target)
	require.NoError(t, err)
	assert.Contains(t, out, "restored 1 files")

	got, err := os.ReadFile(filepath.Join(target, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "table 1", string(got))
}

func TestBackupRefusesReadOnlyRemote(t *testing.T) {
	e := setupEnv(t)
	t.Setenv("UPLOAD_DB", "false")
	require.NoError(t, os.MkdirAll(e.dataDir, 0o755))

	_, err := execute(t, e, "backup")
	assert.ErrorIs(t, err, remote.ErrUploadsDisabled)

	_, err = execute(t, e, "backup", "--no-upload")
	assert.NoError(t, err)
}

func TestRestoreWithoutBundle(t *testing.T) {
	e := setupEnv(t)
	_, err := execute(t, e, "restore")
	assert.ErrorContains(t, err, "no remote bundle")
}

func TestSubmitUploadsPendingDocument(t *testing.T) {
	e := setupEnv(t)
	out, err := execute(t, e, "submit", "--id", "77", "--name", "Judith", "--seat-qty", "2",
		"--seat", "1-1:Judith:FISH", "--seat", "1-2:John")
	require.NoError(t, err)
	assert.Contains(t, out, "pending-77.json")

	files, err := remoteSync(t, e).Download(context.Background(), remote.PendingDocuments())
	require.NoError(t, err)
	require.Contains(t, files, "pending-77.json")

	doc, err := pending.Decode(files["pending-77.json"])
	require.NoError(t, err)
	assert.Equal(t, model.Reservation{ID: 77, Name: "Judith", SeatQty: 2}, doc.Model())
	seats, err := doc.Assignments()
	require.NoError(t, err)
	assert.Equal(t, []model.SeatAssignment{
		{Table: 1, Seat: 1, Person: "Judith", Meal: model.MealFish},
		{Table: 1, Seat: 2, Person: "John", Meal: model.MealRegular},
	}, seats)
}

func TestSubmitValidates(t *testing.T) {
	e := setupEnv(t)
	_, err := execute(t, e, "submit", "--name", "Judith", "--seat-qty", "1", "--seat", "9-1:Judith")
	assert.ErrorContains(t, err, "not on the seat map")

	_, err = execute(t, e, "submit", "--name", "Judith", "--seat-qty", "1", "--seat", "1-1:A", "--seat", "1-2:B")
	assert.ErrorContains(t, err, "--seat-qty is 1")

	_, err = execute(t, e, "submit", "--name", "Judith", "--seat-qty", "1", "--seat", "1-1")
	assert.Error(t, err)
}

func TestSubmitDryRunPrintsDocument(t *testing.T) {
	e := setupEnv(t)
	out, err := execute(t, e, "submit", "--id", "5", "--name", "Liz", "--seat-qty", "1", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))

	_, err = os.Stat(e.remote)
	if err == nil {
		files, err := remoteSync(t, e).Download(context.Background(), remote.PendingDocuments())
		require.NoError(t, err)
		assert.Empty(t, files)
	}
}

func TestParseAssignment(t *testing.T) {
	a, err := ParseAssignment("3-4:Liz:vegetarian")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAssignment{Table: 3, Seat: 4, Person: "Liz", Meal: model.MealVegetarian}, a)

	for _, bad := range []string{"", "3:Liz", "x-1:Liz", "1-y:Liz", "1-1:", "1-1:Liz:STEAK", "1-1:a:b:c"} {
		_, err := ParseAssignment(bad)
		assert.Error(t, err, bad)
	}
}

func TestTokenIsSignedAdminToken(t *testing.T) {
	e := setupEnv(t)
	out, err := execute(t, e, "token", "--subject", "ops@example.com")
	require.NoError(t, err)

	raw := strings.TrimSpace(out)
	tok, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return []byte("cli-secret"), nil })
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "ADMIN", claims["role"])
	assert.Equal(t, "ops@example.com", claims["sub"])
}

func TestTokenNeedsSecret(t *testing.T) {
	e := setupEnv(t)
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, e, "token")
	assert.Error(t, err)
}
