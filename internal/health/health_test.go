package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealthChecker(t *testing.T) {
	var storeErr error
	hc := NewHealthChecker(nil)
	hc.AddReadiness("storage", pingerFunc(func(context.Context) error { return storeErr }))

	serve := func(h http.Handler) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	t.Run("依赖正常", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(hc.LiveHandler()))
		assert.Equal(t, http.StatusOK, serve(hc.ReadyHandler()))
	})

	t.Run("依赖故障只影响就绪", func(t *testing.T) {
		storeErr = errors.New("connection refused")
		assert.Equal(t, http.StatusOK, serve(hc.LiveHandler()))
		assert.Equal(t, http.StatusServiceUnavailable, serve(hc.ReadyHandler()))
	})
}
