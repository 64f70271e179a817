// Package escape tries to relaunch a page in the device's default browser
// when it was opened inside a social app's embedded browser. Each technique
// is recorded as an Attempt; an invoked attempt only means the navigation
// call returned, never that the user actually left the app.
package escape

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Method names one escape technique.
type Method string

// Techniques in the order they may be attempted.
const (
	MethodAndroidIntent      Method = "android-intent"
	MethodIOSWindowOpen      Method = "ios-window-open"
	MethodIOSLocationReplace Method = "ios-location-replace"
	MethodIOSLocationHref    Method = "ios-location-href"
	MethodGenericWindowOpen  Method = "generic-window-open"
)

// KnownMethod reports whether m is one of the defined techniques.
func KnownMethod(m Method) bool {
	switch m {
	case MethodAndroidIntent, MethodIOSWindowOpen, MethodIOSLocationReplace,
		MethodIOSLocationHref, MethodGenericWindowOpen:
		return true
	}
	return false
}

// Outcome is what the navigation call did, not whether the escape worked.
// A window.open that returns no window handle is recorded as threw, with
// the blocked-popup error in Attempt.Error, and the chain moves on.
type Outcome string

// Attempt outcomes.
const (
	OutcomeInvoked Outcome = "invoked"
	OutcomeThrew   Outcome = "threw"
)

// Attempt records one technique tried.
type Attempt struct {
	Method  Method  `json:"method"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Action is the navigation primitive a step uses.
type Action string

// Navigation primitives.
const (
	ActionOpen    Action = "open"
	ActionReplace Action = "replace"
	ActionAssign  Action = "assign"
)

const (
	blankTarget    = "_blank"
	openerFeatures = "noopener,noreferrer"
	cacheBustParam = "_t"
)

// Step is one technique bound to a concrete URL.
type Step struct {
	Method   Method `json:"method"`
	Action   Action `json:"action"`
	URL      string `json:"url"`
	Target   string `json:"target,omitempty"`
	Features string `json:"features,omitempty"`
	// RepeatDelay schedules a second assignment of the page URL after the
	// step succeeds. Zero means no repeat.
	RepeatDelay time.Duration `json:"-"`
	// RepeatDelayMs mirrors RepeatDelay for the page script.
	RepeatDelayMs int64 `json:"repeatDelayMs,omitempty"`
}

// Config tunes the orchestrator.
type Config struct {
	SettleDelay    time.Duration
	RepeatDelay    time.Duration
	AndroidPackage string
}

// Defaults applied when Config fields are zero.
const (
	DefaultSettleDelay    = 2000 * time.Millisecond
	DefaultRepeatDelay    = 100 * time.Millisecond
	DefaultAndroidPackage = "com.android.chrome"
)

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:    DefaultSettleDelay,
		RepeatDelay:    DefaultRepeatDelay,
		AndroidPackage: DefaultAndroidPackage,
	}
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.RepeatDelay <= 0 {
		c.RepeatDelay = DefaultRepeatDelay
	}
	if c.AndroidPackage == "" {
		c.AndroidPackage = DefaultAndroidPackage
	}
	return c
}

// CacheBust appends _t=<epoch millis> so the destination is a fresh
// navigation rather than a reload. Existing query parameters are kept; an
// earlier _t is replaced.
func CacheBust(target string, now time.Time) string {
	target = StripCacheBust(target)
	stamp := cacheBustParam + "=" + strconv.FormatInt(now.UnixMilli(), 10)
	u, err := url.Parse(target)
	if err != nil {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		return target + sep + stamp
	}
	if u.RawQuery == "" {
		u.RawQuery = stamp
	} else {
		u.RawQuery += "&" + stamp
	}
	return u.String()
}

// CacheBusted reports whether target already carries _t, which marks the
// page as the destination of an earlier escape.
func CacheBusted(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return strings.Contains(target, "?"+cacheBustParam+"=") ||
			strings.Contains(target, "&"+cacheBustParam+"=")
	}
	return u.Query().Has(cacheBustParam)
}

// StripCacheBust drops every _t parameter from target.
func StripCacheBust(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.RawQuery == "" {
		return target
	}
	parts := strings.Split(u.RawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		key, _, _ := strings.Cut(part, "=")
		if key == cacheBustParam {
			continue
		}
		kept = append(kept, part)
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String()
}

// IntentURL builds an Android intent URI that names the browser package and
// falls back to a normal navigation to target when intents are unsupported.
func IntentURL(target, pkg string) string {
	if pkg == "" {
		pkg = DefaultAndroidPackage
	}
	scheme, rest := "https", target
	if i := strings.Index(target, "://"); i > 0 {
		scheme, rest = strings.ToLower(target[:i]), target[i+3:]
	}
	return fmt.Sprintf(
		"intent://%s#Intent;scheme=%s;package=%s;action=android.intent.action.VIEW;"+
			"category=android.intent.category.BROWSABLE;S.browser_fallback_url=%s;end",
		rest, scheme, pkg, encodeURIComponent(target),
	)
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
