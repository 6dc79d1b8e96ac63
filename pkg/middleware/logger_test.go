package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidepay/ledger-engine/pkg/middleware"
)

func serveThrough(t *testing.T, status int, target string) string {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := middleware.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte("body"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return buf.String()
}

func TestRequestLogger(t *testing.T) {
	t.Run("LogsRequestFields", func(t *testing.T) {
		line := serveThrough(t, http.StatusOK, "/merchants/merchant_abc/balances?currency=USD")
		assert.Contains(t, line, "level=INFO")
		assert.Contains(t, line, "request served")
		assert.Contains(t, line, "method=GET")
		assert.Contains(t, line, "path=/merchants/merchant_abc/balances")
		assert.Contains(t, line, "status=200")
		assert.Contains(t, line, "query=currency=USD")
	})

	t.Run("ServerErrorsLogAtErrorLevel", func(t *testing.T) {
		line := serveThrough(t, http.StatusInternalServerError, "/settlements")
		assert.Contains(t, line, "level=ERROR")
		assert.Contains(t, line, "request failed")
		assert.Contains(t, line, "status=500")
	})
}
