package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"uid":   "u-alice",
		"name":  "Alice",
		"email": "alice@test.com",
		"perms": []string{"change.read"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", append(handlers, func(c *gin.Context) {
		perms, _ := c.Get("permissions")
		c.JSON(http.StatusOK, gin.H{
			"user_id":     c.GetString("user_id"),
			"user_name":   c.GetString("user_name"),
			"permissions": perms,
		})
	})...)
	return r
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))

	w := get(r, "/me", signToken(t, testSecret, validClaims()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u-alice"`)
	assert.Contains(t, w.Body.String(), `"permissions":["change.read"]`)

	// SSE 场景通过 query 传 token
	w = get(r, "/me?token="+signToken(t, testSecret, validClaims()), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth_Rejects(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noUser := validClaims()
	delete(noUser, "uid")

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", "40100"},
		{"wrong secret", signToken(t, "other", validClaims()), "40102"},
		{"expired", signToken(t, testSecret, expired), "40102"},
		{"garbage", "not-a-token", "40102"},
		{"no user", signToken(t, testSecret, noUser), "40103"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/me", tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := get(r, "/me", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}

func TestSyncUser(t *testing.T) {
	var synced []string
	syncer := UserSyncFunc(func(_ context.Context, id, name, _ string) error {
		synced = append(synced, id+"/"+name)
		return nil
	})
	r := newRouter(JWTAuth(testSecret), SyncUser(syncer, zap.NewNop()))

	w := get(r, "/me", signToken(t, testSecret, validClaims()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u-alice/Alice"}, synced)
}

func TestSyncUser_FailureDoesNotBlock(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	syncer := UserSyncFunc(func(context.Context, string, string, string) error {
		return errors.New("db down")
	})
	r := newRouter(JWTAuth(testSecret), SyncUser(syncer, zap.New(core)))

	w := get(r, "/me", signToken(t, testSecret, validClaims()))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "sync user failed", logs.All()[0].Message)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	get(r, "/ping", "")
	get(r, "/missing", "")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Request", logs.All()[0].Message)
	assert.Equal(t, "Client error", logs.All()[1].Message)
	assert.Equal(t, int64(http.StatusNotFound), logs.All()[1].ContextMap()["status"])
	assert.NotEmpty(t, logs.All()[0].ContextMap()["request_id"])
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://plm.example.com"}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://plm.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://plm.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
