// Package probe exercises a deployed linkgate instance from the outside: HTTP
// cases check the gatekeeper verdicts and a headless browser checks what the
// runtime detector and escape planner make of emulated clients.
package probe

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JakeFAU/linkgate/internal/signals"
)

// User agents the default cases emulate.
const (
	UADesktopChrome   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	UAGooglebot       = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	UAObviousBot      = "linkgate-uptime-check/1.0"
	UAInstagramIOS    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 Instagram 312.0.0.22.114"
	UAFacebookAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/120.0.0.0 Mobile Safari/537.36 [FB_IAB/FB4A;FBAV/449.0.0.41.109;]"
)

// Case is one HTTP request and the response it should produce.
type Case struct {
	Name       string
	Method     string
	Path       string
	Headers    http.Header
	Body       []byte
	WantStatus int
	// WantBody must appear somewhere in the response body when set.
	WantBody string
}

// BrowserCase is one emulated client loaded in a headless tab.
type BrowserCase struct {
	Name        string
	Path        string
	UserAgent   string
	Referrer    string
	BlockPopups bool
	WantInApp   bool
	WantApp     signals.App
	WantEscape  bool
}

// DefaultCases covers each gatekeeper verdict for a protected page.
func DefaultCases(page string) []Case {
	page = strings.Trim(page, "/")
	path := "/" + page
	trackBody := mustJSON(map[string]string{"page": page})
	beaconBody := mustJSON(map[string]any{"page": page, "path": path, "ua": UAInstagramIOS})

	return []Case{
		{
			Name:       "known-bot-blocked",
			Method:     http.MethodGet,
			Path:       path,
			Headers:    http.Header{"User-Agent": {UAGooglebot}},
			WantStatus: http.StatusNotFound,
			WantBody:   "can't be reached",
		},
		{
			Name:       "obvious-bot-blocked",
			Method:     http.MethodGet,
			Path:       path,
			Headers:    http.Header{"User-Agent": {UAObviousBot}},
			WantStatus: http.StatusNotFound,
			WantBody:   "can't be reached",
		},
		{
			Name:       "human-allowed",
			Method:     http.MethodGet,
			Path:       path,
			Headers:    http.Header{"User-Agent": {UADesktopChrome}},
			WantStatus: http.StatusOK,
			WantBody:   "/api/visit-beacon",
		},
		{
			Name:   "api-bot-ignored",
			Method: http.MethodPost,
			Path:   "/api/track",
			Headers: http.Header{
				"User-Agent":   {UAObviousBot},
				"Content-Type": {"application/json"},
			},
			Body:       trackBody,
			WantStatus: http.StatusOK,
			WantBody:   `"ignored":true`,
		},
		{
			Name:   "api-prefetch-ignored",
			Method: http.MethodPost,
			Path:   "/api/track",
			Headers: http.Header{
				"User-Agent":        {UADesktopChrome},
				"Content-Type":      {"application/json"},
				"Sec-Fetch-Purpose": {"prefetch"},
			},
			Body:       trackBody,
			WantStatus: http.StatusOK,
			WantBody:   `"ignored":true`,
		},
		{
			Name:   "beacon-in-app-escape",
			Method: http.MethodPost,
			Path:   "/api/visit-beacon",
			Headers: http.Header{
				"User-Agent":   {UAInstagramIOS},
				"Content-Type": {"application/json"},
			},
			Body:       beaconBody,
			WantStatus: http.StatusOK,
			WantBody:   `"triggered":true`,
		},
	}
}

// DefaultBrowserCases loads a protected page as a desktop browser and as two
// in-app webviews.
func DefaultBrowserCases(page string) []BrowserCase {
	path := "/" + strings.Trim(page, "/")
	return []BrowserCase{
		{
			Name:      "desktop-chrome",
			Path:      path,
			UserAgent: UADesktopChrome,
		},
		{
			Name:        "instagram-ios",
			Path:        path,
			UserAgent:   UAInstagramIOS,
			Referrer:    "https://l.instagram.com/",
			BlockPopups: true,
			WantInApp:   true,
			WantApp:     signals.AppInstagram,
			WantEscape:  true,
		},
		{
			Name:       "facebook-android",
			Path:       path,
			UserAgent:  UAFacebookAndroid,
			Referrer:   "https://m.facebook.com/",
			WantInApp:  true,
			WantApp:    signals.AppFacebook,
			WantEscape: true,
		},
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
