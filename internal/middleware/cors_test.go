package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("explicit origin allows credentials", func(t *testing.T) {
		h := CORS([]string{"http://ui.test"})(next)
		req := httptest.NewRequest(http.MethodGet, "/history/u/s", nil)
		req.Header.Set("Origin", "http://ui.test")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "http://ui.test", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		h := CORS([]string{"http://ui.test"})(next)
		req := httptest.NewRequest(http.MethodGet, "/history/u/s", nil)
		req.Header.Set("Origin", "http://evil.test")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard never allows credentials", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodGet, "/history/u/s", nil)
		req.Header.Set("Origin", "http://any.test")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})
}
