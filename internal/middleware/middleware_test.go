package middleware

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/utils"
)

const secret = "test-secret"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAdminServer(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.POST("/v1/admin/backup", func(c echo.Context) error {
		return c.String(http.StatusOK, Subject(c))
	}, mw...)
	return e
}

func do(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/backup", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAcceptsAdminToken(t *testing.T) {
	tok, err := utils.NewAdminToken(secret, "ops@example.com", time.Hour)
	require.NoError(t, err)

	e := newAdminServer(JWTAuth(secret), RequireRole(utils.RoleAdmin))
	rec := do(e, tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", rec.Body.String())
}

func TestJWTAuthRejects(t *testing.T) {
	good, err := utils.NewAdminToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": utils.RoleAdmin}).
		SignedString([]byte(secret))
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops", "role": utils.RoleAdmin, "exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	e := newAdminServer(JWTAuth(secret), RequireRole(utils.RoleAdmin))
	for name, token := range map[string]string{
		"missing":      "",
		"wrong secret": good.Token,
		"no expiry":    noExp,
		"expired":      expired,
		"garbage":      "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(e, token).Code)
		})
	}
}

func TestRequireRoleForbidsOtherRoles(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "guest", "role": "VIEWER", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	e := newAdminServer(JWTAuth(secret), RequireRole(utils.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, do(e, tok).Code)
}

// matchKey compares the evalsha name, script hash and key, ignoring the
// timestamp and bucket parameters.
func matchKey(expected, actual []interface{}) error {
	for i := 0; i < 4; i++ {
		if fmt.Sprint(expected[i]) != fmt.Sprint(actual[i]) {
			return fmt.Errorf("arg %d: want %v, got %v", i, expected[i], actual[i])
		}
	}
	return nil
}

func throttleConfig() config.ThrottleConfig {
	return config.ThrottleConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		Prefix:         "t",
	}
}

func TestTokenBucketAllowsAndBlocks(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	key := "t:user:anonymous:route:POST /v1/admin/backup"
	placeholders := []interface{}{0, 0, 0, 0, 0}

	mock.CustomMatch(matchKey).ExpectEvalSha(tokenBucketScript.Hash(), []string{key}, placeholders...).
		SetVal([]interface{}{int64(1), int64(1), int64(0)})
	mock.CustomMatch(matchKey).ExpectEvalSha(tokenBucketScript.Hash(), []string{key}, placeholders...).
		SetVal([]interface{}{int64(0), int64(0), int64(2500)})

	e := newAdminServer(NewTokenBucket(throttleConfig(), rdb, quietLogger()))

	rec := do(e, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do(e, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too_many_requests")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	key := "t:user:anonymous:route:POST /v1/admin/backup"
	mock.CustomMatch(matchKey).ExpectEvalSha(tokenBucketScript.Hash(), []string{key}, 0, 0, 0, 0, 0).
		SetErr(errors.New("connection refused"))

	e := newAdminServer(NewTokenBucket(throttleConfig(), rdb, quietLogger()))
	assert.Equal(t, http.StatusOK, do(e, "").Code)
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	cfg := throttleConfig()
	cfg.Enabled = false
	e := newAdminServer(NewTokenBucket(cfg, nil, nil))
	assert.Equal(t, http.StatusOK, do(e, "").Code)
}
