// Package signals holds the versioned substring tables shared by the edge
// gatekeeper and the runtime browser detector. Both stages consult the same
// Table so their token lists cannot drift apart.
package signals

import "strings"

// Policy names how a classifier resolves missing or ambiguous evidence.
type Policy string

// FailOpen allows a request unless there is positive evidence of automation.
// A false block of a real visitor costs more than a missed crawler.
const FailOpen Policy = "fail-open"

// App identifies a social or messaging app whose embedded browser can be detected.
type App string

// Known in-app browser hosts.
const (
	AppNone      App = "none"
	AppInstagram App = "instagram"
	AppFacebook  App = "facebook"
	AppTwitter   App = "twitter"
	AppTikTok    App = "tiktok"
	AppSnapchat  App = "snapchat"
	AppLinkedIn  App = "linkedin"
	AppWhatsApp  App = "whatsapp"
)

// AppSignature maps a lower-cased user-agent token set to an app.
type AppSignature struct {
	App    App
	Reason string
	Tokens []string
}

// ReferrerSignature maps referrer host substrings to a reason tag.
type ReferrerSignature struct {
	Reason string
	Hosts  []string
}

// ReadableReferrer maps referrer host substrings to a dashboard label.
type ReadableReferrer struct {
	Label string
	Hosts []string
}

// Table is one version of the classification vocabulary.
type Table struct {
	Version string
	Policy  Policy
	// BotTokens are the obvious-automation user-agent substrings.
	BotTokens []string
	// PrefetchPurposes are Purpose/Sec-Purpose values marking speculative loads.
	PrefetchPurposes []string
	// InAppApps is checked in priority order; the first hit names the app.
	InAppApps        []AppSignature
	ReferrerHosts    []ReferrerSignature
	ReadableReferers []ReadableReferrer
}

// Default is the table consulted by both classification stages.
var Default = Table{
	Version:          "2025-01",
	Policy:           FailOpen,
	BotTokens:        []string{"bot", "crawler", "spider", "headless", "uptime", "insights"},
	PrefetchPurposes: []string{"prefetch"},
	InAppApps: []AppSignature{
		{App: AppInstagram, Reason: "ua:instagram", Tokens: []string{"instagram"}},
		{App: AppFacebook, Reason: "ua:facebook", Tokens: []string{"fbav", "fban", "facebook"}},
		{App: AppTwitter, Reason: "ua:twitter", Tokens: []string{"twitter"}},
		{App: AppTikTok, Reason: "ua:tiktok", Tokens: []string{"tiktok"}},
		{App: AppSnapchat, Reason: "ua:snapchat", Tokens: []string{"snapchat"}},
		{App: AppLinkedIn, Reason: "ua:linkedin", Tokens: []string{"linkedinapp"}},
		{App: AppWhatsApp, Reason: "ua:whatsapp", Tokens: []string{"whatsapp"}},
	},
	ReferrerHosts: []ReferrerSignature{
		{Reason: "referrer-instagram", Hosts: []string{"instagram.com"}},
		{Reason: "referrer-facebook", Hosts: []string{"facebook.com"}},
	},
	ReadableReferers: []ReadableReferrer{
		{Label: "Instagram", Hosts: []string{"instagram.com"}},
		{Label: "Twitter/X", Hosts: []string{"twitter.com", "x.com"}},
		{Label: "Facebook", Hosts: []string{"facebook.com", "fb.com"}},
		{Label: "TikTok", Hosts: []string{"tiktok.com"}},
		{Label: "LinkedIn", Hosts: []string{"linkedin.com"}},
		{Label: "WhatsApp", Hosts: []string{"whatsapp.com", "wa.me"}},
		{Label: "Snapchat", Hosts: []string{"snapchat.com"}},
		{Label: "YouTube", Hosts: []string{"youtube.com", "youtu.be"}},
		{Label: "Reddit", Hosts: []string{"reddit.com"}},
		{Label: "Pinterest", Hosts: []string{"pinterest.com"}},
		{Label: "Telegram", Hosts: []string{"t.me", "telegram.org"}},
		{Label: "Discord", Hosts: []string{"discord.com", "discord.gg"}},
		{Label: "Google Search", Hosts: []string{"google.com", "google.co.uk", "google.ca"}},
		{Label: "Bing Search", Hosts: []string{"bing.com"}},
		{Label: "DuckDuckGo", Hosts: []string{"duckduckgo.com"}},
	},
}

// DirectReferrer labels visits that carried no referrer.
const DirectReferrer = "Direct or unknown"

// ContainsAny reports whether haystack contains any non-empty token.
// Callers lower-case both sides.
func ContainsAny(haystack string, tokens []string) bool {
	if haystack == "" {
		return false
	}
	for _, tok := range tokens {
		if tok != "" && strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

// IsObviousBot reports whether the user agent carries an automation token.
// An empty user agent is evidence-absent and never matches.
func (t Table) IsObviousBot(userAgent string) bool {
	return ContainsAny(strings.ToLower(userAgent), t.BotTokens)
}

// IsPrefetch reports whether a Purpose or Sec-Purpose header value marks a prefetch.
func (t Table) IsPrefetch(purpose string) bool {
	purpose = strings.ToLower(strings.TrimSpace(purpose))
	if purpose == "" {
		return false
	}
	for _, p := range t.PrefetchPurposes {
		if purpose == p {
			return true
		}
	}
	return false
}

// ReadableReferrer converts a raw referrer URL into a short source label.
// Unknown referrers are returned unchanged.
func (t Table) ReadableReferrer(ref string) string {
	if ref == "" {
		return DirectReferrer
	}
	lower := strings.ToLower(ref)
	for _, rr := range t.ReadableReferers {
		if ContainsAny(lower, rr.Hosts) {
			return rr.Label
		}
	}
	return ref
}
