// ABOUTME: Tests for metrics recording helpers and the HTTP middleware
// ABOUTME: Reads counter values back through prometheus testutil

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordProviderCall(t *testing.T) {
	okBefore := testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("send_text", "ok"))
	errBefore := testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("send_text", "error"))

	RecordProviderCall("send_text", nil)
	RecordProviderCall("send_text", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("send_text", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("send_text", "error")))
}

func TestRecordMessagesRead_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(MessagesReadTotal.WithLabelValues("bulk"))

	RecordMessagesRead("bulk", 0)
	RecordMessagesRead("bulk", 3)

	assert.Equal(t, before+3, testutil.ToFloat64(MessagesReadTotal.WithLabelValues("bulk")))
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "GET /api/things/{id}", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things/7", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "GET /api/things/{id}", "418")))
}

func TestHandler_Exposes(t *testing.T) {
	RecordBroadcast("message_read")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "inbox_events_broadcasts_total"))
}
