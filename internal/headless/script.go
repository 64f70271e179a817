package headless

import (
	"encoding/json"
	"strings"
)

const (
	exprUserAgent  = `navigator.userAgent || ""`
	exprReferrer   = `document.referrer || ""`
	exprStandalone = `navigator.standalone === true`
	exprPopupProbe = `(function () {
  var w = window.open("", "_blank");
  if (!w) { return false; }
  try { w.close(); } catch (e) {}
  return true;
})()`
)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func openExpr(url, target, features string) string {
	return "(function () { var w = window.open(" +
		jsString(url) + ", " + jsString(target) + ", " + jsString(features) +
		"); return !!w; })()"
}

func replaceExpr(url string) string {
	return "(function () { window.location.replace(" + jsString(url) + "); return true; })()"
}

func assignExpr(url string) string {
	return "(function () { window.location.href = " + jsString(url) + "; return true; })()"
}

// emulationScript is installed before any page script runs and fakes the
// parts of an in-app webview that a user-agent override cannot.
func emulationScript(opts TabOptions) string {
	var b strings.Builder
	if opts.Referrer != "" {
		b.WriteString("Object.defineProperty(document, \"referrer\", {get: function () { return ")
		b.WriteString(jsString(opts.Referrer))
		b.WriteString("; }});\n")
	}
	if opts.Standalone {
		b.WriteString("Object.defineProperty(navigator, \"standalone\", {get: function () { return true; }});\n")
	}
	if opts.BlockPopups {
		b.WriteString("window.open = function () { return null; };\n")
	}
	return b.String()
}
