package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/witcon/backend/internal/auth"
	"github.com/witcon/backend/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(jwtService *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(jwtService))
	policy := auth.NewRolePolicy([]string{"admin"}, false)
	r.GET("/public", Authorize(policy, auth.OpLookup), func(c *gin.Context) {
		c.String(http.StatusOK, CallerFrom(c).Subject)
	})
	r.GET("/restricted", Authorize(policy, auth.OpList), func(c *gin.Context) {
		c.String(http.StatusOK, CallerFrom(c).Subject)
	})
	r.GET("/owned/:key", AuthorizeOwner(policy, auth.OpUpdate, auth.OpUpdateSelf, "key"), func(c *gin.Context) {
		c.String(http.StatusOK, CallerFrom(c).Subject)
	})
	return r
}

func TestAuthenticateAndAuthorize(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	adminToken, err := jwtService.Generate("admin-1", "", "admin")
	require.NoError(t, err)
	attendeeToken, err := jwtService.Generate("u1", "", "attendee")
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"anonymous public", "/public", "", http.StatusOK, ""},
		{"anonymous restricted", "/restricted", "", http.StatusUnauthorized, ""},
		{"admin restricted", "/restricted", "Bearer " + adminToken, http.StatusOK, "admin-1"},
		{"attendee restricted", "/restricted", "Bearer " + attendeeToken, http.StatusForbidden, ""},
		{"garbage token", "/public", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong scheme", "/public", "Basic abc", http.StatusUnauthorized, ""},
		{"owner on own key", "/owned/u1", "Bearer " + attendeeToken, http.StatusOK, "u1"},
		{"owner on other key", "/owned/u2", "Bearer " + attendeeToken, http.StatusForbidden, ""},
		{"anonymous on key", "/owned/u1", "", http.StatusUnauthorized, ""},
		{"admin on any key", "/owned/u2", "Bearer " + adminToken, http.StatusOK, "admin-1"},
	}
	r := newAuthRouter(jwtService)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:3000"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndLogger(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()), Metrics())
	r.GET("/attendees/:key/", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/attendees/:key/", "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendees/u1/", nil))

	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/attendees/:key/", "404"))
	assert.Equal(t, before+1, after)
}
