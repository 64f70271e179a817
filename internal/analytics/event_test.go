package analytics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkgate/internal/signals"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fwd  string
		want string
	}{
		{name: "missing", want: "unknown"},
		{name: "single", fwd: "203.0.113.7", want: "203.0.113.7"},
		{name: "chain", fwd: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{name: "blank first", fwd: " ,10.0.0.1", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/track", nil)
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			require.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestEventNormalize(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := Event{
		Page:      " josh ",
		Referrer:  "https://m.facebook.com/",
		UserAgent: strings.Repeat("a", MaxUserAgentLen+20),
	}.Normalize(signals.Default, now)

	require.Equal(t, "josh", evt.Page)
	require.Equal(t, "Facebook", evt.ReadableReferrer)
	require.Len(t, evt.UserAgent, MaxUserAgentLen)
	require.Equal(t, UnknownValue, evt.IPAddress)
	require.Equal(t, now, evt.Timestamp)
	require.Equal(t, "/josh", evt.Pathname)
	require.Equal(t, ClickPageVisit, evt.ClickType)

	direct := Event{Page: "josh", ClickType: "link_click", Pathname: "/josh/bio"}.Normalize(signals.Default, now)
	require.Equal(t, signals.DirectReferrer, direct.ReadableReferrer)
	require.Equal(t, UnknownValue, direct.UserAgent)
	require.Equal(t, "link_click", direct.ClickType)
	require.Equal(t, "/josh/bio", direct.Pathname)
}

func TestTruncateUserAgentKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	ua := strings.Repeat("a", MaxUserAgentLen-1) + "é" + "Instagram"
	got := TruncateUserAgent(ua)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", MaxUserAgentLen-1), got)

	evt := Event{Page: "josh", UserAgent: strings.Repeat("a", MaxUserAgentLen-2) + "日本"}.
		Normalize(signals.Default, time.Now())
	require.True(t, utf8.ValidString(evt.UserAgent))
	require.LessOrEqual(t, len(evt.UserAgent), MaxUserAgentLen)

	require.Equal(t, "short", TruncateUserAgent("short"))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Event{}.Validate(), ErrMissingPage)
	require.NoError(t, Event{Page: "josh"}.Validate())
}
