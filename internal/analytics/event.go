// Package analytics records page-visit events off the request path. Writes
// are fire-and-forget: a slow or failing sink never delays or fails the
// gatekeeping and escape decisions.
package analytics

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/linkgate/internal/signals"
)

// Click types recorded when the client sends none.
const (
	ClickPageVisit   = "page_visit"
	ClickVisitBeacon = "visit_beacon"
)

// MaxUserAgentLen caps stored user agents.
const MaxUserAgentLen = 500

// UnknownValue fills missing client IP and user agent.
const UnknownValue = "unknown"

// ErrMissingPage is returned when an event has no page key.
var ErrMissingPage = errors.New("page is required")

// Event is one append-only analytics row keyed by page.
type Event struct {
	ID               string    `json:"id"`
	Page             string    `json:"page"`
	Referrer         string    `json:"referrer"`
	ReadableReferrer string    `json:"readable_referrer"`
	UserAgent        string    `json:"user_agent"`
	IPAddress        string    `json:"ip_address"`
	Timestamp        time.Time `json:"timestamp"`
	Pathname         string    `json:"pathname"`
	SearchParams     string    `json:"search_params"`
	ClickType        string    `json:"click_type,omitempty"`
	LinkID           string    `json:"link_id,omitempty"`
	PageID           string    `json:"page_id,omitempty"`
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Page) == "" {
		return ErrMissingPage
	}
	return nil
}

// Normalize fills derived and defaulted fields. now is used when the event
// carries no timestamp.
func (e Event) Normalize(table signals.Table, now time.Time) Event {
	e.Page = strings.TrimSpace(e.Page)
	e.ReadableReferrer = table.ReadableReferrer(e.Referrer)
	if e.UserAgent == "" {
		e.UserAgent = UnknownValue
	}
	e.UserAgent = TruncateUserAgent(e.UserAgent)
	if e.IPAddress == "" {
		e.IPAddress = UnknownValue
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Pathname == "" {
		e.Pathname = "/" + e.Page
	}
	if e.ClickType == "" {
		e.ClickType = ClickPageVisit
	}
	return e
}

// TruncateUserAgent cuts ua to at most MaxUserAgentLen bytes without
// splitting a multi-byte character.
func TruncateUserAgent(ua string) string {
	if len(ua) <= MaxUserAgentLen {
		return ua
	}
	cut := MaxUserAgentLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}

// ClientIP returns the first X-Forwarded-For entry, or "unknown".
func ClientIP(r *http.Request) string {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return UnknownValue
	}
	first, _, _ := strings.Cut(fwd, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return UnknownValue
	}
	return first
}
