package browser

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/linkgate/internal/signals"
)

// NoReasons is the sentinel reported when no signal fired.
const NoReasons = "none"

// Reasons is the ordered, append-only list of signal tags that fired.
type Reasons []string

// String joins the tags with "|" or returns NoReasons.
func (r Reasons) String() string {
	if len(r) == 0 {
		return NoReasons
	}
	return strings.Join(r, "|")
}

// Has reports whether tag fired.
func (r Reasons) Has(tag string) bool {
	for _, t := range r {
		if t == tag {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the joined form.
func (r Reasons) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Context is the runtime classification of one page session. DeviceType,
// OSName, and BrowserName are diagnostic only.
type Context struct {
	IsMobile          bool        `json:"isMobile"`
	IsAndroid         bool        `json:"isAndroid"`
	IsIOS             bool        `json:"isiOS"`
	InAppApp          signals.App `json:"inAppApp"`
	IsInstagram       bool        `json:"isInstagram"`
	IsFacebookInApp   bool        `json:"isFacebookInApp"`
	IOSWebviewSuspect bool        `json:"iosWebviewSuspect"`
	WindowOpenBlocked bool        `json:"windowOpenBlocked"`
	IsInAppBrowser    bool        `json:"isInAppBrowser"`
	Reasons           Reasons     `json:"reasons"`
	UA                string      `json:"ua"`
	DeviceType        string      `json:"deviceType"`
	OSName            string      `json:"osName"`
	BrowserName       string      `json:"browserName"`
}

// ShouldEscape reports whether the escape chain applies to this session.
func (c Context) ShouldEscape() bool {
	return c.IsInAppBrowser && c.IsMobile
}

func emptyContext() Context {
	return Context{
		InAppApp:    signals.AppNone,
		DeviceType:  "unknown",
		OSName:      "unknown",
		BrowserName: "unknown",
	}
}
