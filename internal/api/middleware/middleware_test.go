package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signed(t *testing.T, sub string, meta map[string]any) string {
	t.Helper()
	claims := supabaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		AppMetadata: meta,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("SUPABASE_JWT_SECRET", testSecret)

	log := logrus.New()
	log.SetOutput(io.Discard)

	r := gin.New()
	r.Use(RequestLogger(log), JWTAuth())
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestJWTAuth(t *testing.T) {
	r := testRouter(t)

	cases := []struct {
		name   string
		build  func() *http.Request
		status int
	}{
		{"missing token", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me", nil)
		}, http.StatusUnauthorized},
		{"garbage token", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer nope")
			return req
		}, http.StatusUnauthorized},
		{"valid header", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+signed(t, "u1", nil))
			return req
		}, http.StatusOK},
		{"query token on upgrade", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me?access_token="+signed(t, "u1", nil), nil)
			req.Header.Set("Upgrade", "websocket")
			return req
		}, http.StatusOK},
		{"query token without upgrade", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me?access_token="+signed(t, "u1", nil), nil)
		}, http.StatusUnauthorized},
		{"user on admin route", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+signed(t, "u1", nil))
			return req
		}, http.StatusForbidden},
		{"admin on admin route", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+signed(t, "u2", map[string]any{"role": "admin"}))
			return req
		}, http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tc.build())
			assert.Equal(t, tc.status, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
		})
	}
}

func TestRequestLogger_SessionFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(log))
	r.POST("/interviews/:id/cancel", func(c *gin.Context) {
		c.Set(CtxSessionStatus, "in_progress")
		c.Set(CtxTurnState, "recording")
		c.Status(http.StatusOK)
	})
	r.GET("/interviews/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		method, path string
		level        logrus.Level
		session      any
		turnState    any
	}{
		{http.MethodPost, "/interviews/s1/cancel", logrus.InfoLevel, "s1", "recording"},
		{http.MethodGet, "/interviews/s2", logrus.WarnLevel, "s2", nil},
		{http.MethodGet, "/healthz", logrus.DebugLevel, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			hook.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))

			e := hook.LastEntry()
			require.NotNil(t, e)
			assert.Equal(t, tc.level, e.Level)
			assert.Equal(t, tc.session, e.Data["session_id"])
			assert.Equal(t, tc.turnState, e.Data[CtxTurnState])
			assert.NotEmpty(t, e.Data["request_id"])
		})
	}
}
