package gatekeeper

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingHandler struct {
	calls int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.WriteHeader(http.StatusAccepted)
}

func serveThrough(t *testing.T, path, ua string, headers map[string]string) (*httptest.ResponseRecorder, int) {
	t.Helper()
	next := &countingHandler{}
	h := newTestGatekeeper().Middleware(zap.NewNop())(next)
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, next.calls
}

func TestMiddlewareBlocksBotsOnProtectedPages(t *testing.T) {
	t.Parallel()

	for _, ua := range []string{"friendly-bot/1.0", "web crawler", "a spider", "HeadlessChrome/119"} {
		rec, calls := serveThrough(t, "/josh", ua, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, ua)
		require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		require.Contains(t, rec.Body.String(), "can't be reached")
		require.Contains(t, rec.Body.String(), "ERR_QUIC_PROTOCOL_ERROR")
		require.Zero(t, calls, "downstream must not run for %q", ua)
	}
}

func TestMiddlewareIgnoresAPIPrefetch(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"Purpose", "Sec-Fetch-Purpose"} {
		rec, calls := serveThrough(t, "/api/track", desktopChrome, map[string]string{header: "prefetch"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Zero(t, calls, "no downstream write for %s", header)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, true, body["success"])
		require.Equal(t, true, body["ignored"])
		require.Equal(t, "prefetch", body["reason"])
	}
}

func TestMiddlewarePassesHumansAndAssets(t *testing.T) {
	t.Parallel()

	rec, calls := serveThrough(t, "/josh", desktopChrome, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, calls)

	rec, calls = serveThrough(t, "/_next/static/x.js", googlebot, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, calls)

	rec, calls = serveThrough(t, "/josh", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, calls)
}
