package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmail/backend/internal/auth/jwt"
	"dropmail/backend/internal/monitoring"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerAuth(t *testing.T) {
	manager := jwt.NewManager(testSecret, "dropmail-trigger", time.Minute)

	newRouter := func(allowUnauth bool) *gin.Engine {
		r := gin.New()
		r.POST("/ingest", NewTriggerAuth(manager, allowUnauth, nil).Require(), func(c *gin.Context) {
			key, _ := c.Get(TriggerKeyContextKey)
			c.JSON(http.StatusOK, gin.H{"key": key})
		})
		return r
	}

	t.Run("缺少令牌", func(t *testing.T) {
		w := perform(newRouter(false), http.MethodPost, "/ingest", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":401`)
	})

	t.Run("有效令牌", func(t *testing.T) {
		token, err := manager.Issue("inbound/a.eml")
		require.NoError(t, err)

		w := perform(newRouter(false), http.MethodPost, "/ingest", "", map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "inbound/a.eml")
	})

	t.Run("无效令牌", func(t *testing.T) {
		w := perform(newRouter(false), http.MethodPost, "/ingest", "", map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("非 Bearer 方案", func(t *testing.T) {
		w := perform(newRouter(false), http.MethodPost, "/ingest", "", map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("允许无认证模式", func(t *testing.T) {
		w := perform(newRouter(true), http.MethodPost, "/ingest", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("允许无认证模式下仍校验携带的令牌", func(t *testing.T) {
		w := perform(newRouter(true), http.MethodPost, "/ingest", "", map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimit(8), func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	w := perform(r, http.MethodPost, "/", `{"a":"123456789"}`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = perform(r, http.MethodPost, "/", `{}`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "8", w.Header().Get("X-Max-Body-Size"))
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRecoveryHandler(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryHandler(nil))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":500`)
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(time.Second))
	r.GET("/", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusOK)
	})

	w := perform(r, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateContentType(t *testing.T) {
	r := gin.New()
	r.Use(ValidateContentType("application/json"))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodPost, "/", "x=1", map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = perform(r, http.MethodPost, "/", `{}`, map[string]string{"Content-Type": "application/json; charset=utf-8"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodPost, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWithRegistry(reg, reg)

	r := gin.New()
	r.Use(HTTPMetrics(metrics))
	r.GET("/api/emails/:address", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, http.MethodGet, "/api/emails/a@temp.mail", "", nil)
	perform(r, http.MethodGet, "/nowhere", "", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/emails/:address", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
