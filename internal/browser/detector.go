// Package browser classifies a live page session: platform, embedded
// in-app browser, and the reasons behind each call. Classification is a left
// fold of small pure checks over one Observation so every signal can be
// tested alone and the same input always yields the same reasons in the same
// order.
package browser

import (
	"regexp"
	"strings"

	"github.com/mileusna/useragent"

	"github.com/JakeFAU/linkgate/internal/signals"
)

var iosDeviceRe = regexp.MustCompile(`iphone|ipad|ipod`)

// Input is an Observation with the derived values checks share.
type Input struct {
	Observation
	LowerUA  string
	LowerRef string
	Parsed   useragent.UserAgent
}

// NewInput parses the user agent once for all checks.
func NewInput(obs Observation) Input {
	return Input{
		Observation: obs,
		LowerUA:     strings.ToLower(obs.UserAgent),
		LowerRef:    strings.ToLower(obs.Referrer),
		Parsed:      useragent.Parse(obs.UserAgent),
	}
}

// Check is one signal: it returns the updated context and, if the signal
// fired, the reason tag to append.
type Check struct {
	Name  string
	Apply func(in Input, c Context) (Context, string)
}

// Detector folds a fixed check list over an Input.
type Detector struct {
	table  signals.Table
	checks []Check
}

// NewDetector builds the check list from the table. Order matters: it is the
// order reasons are reported in.
func NewDetector(table signals.Table) *Detector {
	checks := []Check{
		{Name: "user-agent", Apply: checkUserAgent},
		{Name: "platform", Apply: checkPlatform},
		{Name: "mobile", Apply: checkMobile},
	}
	for _, sig := range table.InAppApps {
		checks = append(checks, appCheck(sig))
	}
	checks = append(checks,
		Check{Name: "ios-webview", Apply: checkIOSWebview},
		Check{Name: "window-open", Apply: checkWindowOpen},
	)
	for _, sig := range table.ReferrerHosts {
		checks = append(checks, referrerCheck(sig))
	}
	return &Detector{table: table, checks: checks}
}

// NewDefaultDetector uses signals.Default.
func NewDefaultDetector() *Detector {
	return NewDetector(signals.Default)
}

// Checks returns a copy of the check list in evaluation order.
func (d *Detector) Checks() []Check {
	return append([]Check(nil), d.checks...)
}

// Detect observes env and classifies the result.
func (d *Detector) Detect(env Environment) Context {
	return d.Classify(Observe(env))
}

// Classify is pure: no I/O, no shared state.
func (d *Detector) Classify(obs Observation) Context {
	c := emptyContext()
	if !obs.Available {
		return c
	}
	in := NewInput(obs)
	c.UA = obs.UserAgent
	var reasons Reasons
	for _, chk := range d.checks {
		var reason string
		c, reason = chk.Apply(in, c)
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}
	c.Reasons = reasons
	return c
}

func checkUserAgent(in Input, c Context) (Context, string) {
	p := in.Parsed
	switch {
	case p.Mobile:
		c.DeviceType = "mobile"
	case p.Tablet:
		c.DeviceType = "tablet"
	case p.Bot:
		c.DeviceType = "bot"
	case p.Desktop:
		c.DeviceType = "desktop"
	}
	if p.OS != "" {
		c.OSName = p.OS
	}
	if p.Name != "" {
		c.BrowserName = p.Name
	}
	return c, ""
}

func checkPlatform(in Input, c Context) (Context, string) {
	osName := strings.ToLower(in.Parsed.OS)
	c.IsAndroid = osName == "android"
	c.IsIOS = osName == "ios" || iosDeviceRe.MatchString(in.LowerUA)
	return c, ""
}

func checkMobile(in Input, c Context) (Context, string) {
	c.IsMobile = in.Parsed.Mobile || c.IsAndroid || c.IsIOS
	return c, ""
}

func appCheck(sig signals.AppSignature) Check {
	return Check{
		Name: "app:" + string(sig.App),
		Apply: func(in Input, c Context) (Context, string) {
			if !signals.ContainsAny(in.LowerUA, sig.Tokens) {
				return c, ""
			}
			if c.InAppApp == signals.AppNone {
				c.InAppApp = sig.App
			}
			switch sig.App {
			case signals.AppInstagram:
				c.IsInstagram = true
			case signals.AppFacebook:
				c.IsFacebookInApp = true
			}
			c.IsInAppBrowser = true
			return c, sig.Reason
		},
	}
}

// checkIOSWebview flags iOS sessions that are neither real Safari nor a
// home-screen app, the usual profile of an embedded webview.
func checkIOSWebview(in Input, c Context) (Context, string) {
	hasSafari := strings.Contains(in.LowerUA, "safari") && !strings.Contains(in.LowerUA, "chrome")
	if !c.IsIOS || hasSafari || in.Standalone {
		return c, ""
	}
	c.IOSWebviewSuspect = true
	c.IsInAppBrowser = true
	return c, "ios-no-safari-in-ua"
}

func checkWindowOpen(in Input, c Context) (Context, string) {
	if !in.PopupBlocked {
		return c, ""
	}
	c.WindowOpenBlocked = true
	c.IsInAppBrowser = true
	return c, "window.open-blocked"
}

func referrerCheck(sig signals.ReferrerSignature) Check {
	return Check{
		Name: sig.Reason,
		Apply: func(in Input, c Context) (Context, string) {
			if !signals.ContainsAny(in.LowerRef, sig.Hosts) {
				return c, ""
			}
			c.IsInAppBrowser = true
			return c, sig.Reason
		},
	}
}
