package gatekeeper

import (
	"net/http"
	"strings"
)

// Category is the routing bucket a request path falls into.
type Category string

// Path categories, evaluated in this order.
const (
	CategoryInternalAsset   Category = "internal-asset"
	CategoryAPI             Category = "api"
	CategoryProtectedPage   Category = "protected-page"
	CategoryUnprotectedPage Category = "unprotected-page"
)

// Verdict is the gatekeeper's decision for a single request.
type Verdict string

// Verdicts. Ignore answers success without doing any work.
const (
	VerdictAllow  Verdict = "allow"
	VerdictBlock  Verdict = "block"
	VerdictIgnore Verdict = "ignore"
)

// BlockReason explains a block verdict.
type BlockReason string

// Block reasons.
const (
	ReasonKnownBotSignature BlockReason = "known-bot-signature"
	ReasonObviousBotUA      BlockReason = "obvious-bot-ua-substring"
)

// IgnoreReason explains an ignore verdict.
type IgnoreReason string

// Ignore reasons reported in the JSON body.
const (
	IgnoreBot      IgnoreReason = "bot"
	IgnorePrefetch IgnoreReason = "prefetch"
)

// AllowedHeaders is the only set of request headers the classifier reads.
var AllowedHeaders = []string{
	"purpose",
	"sec-fetch-purpose",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-dest",
	"sec-ch-ua",
	"accept-language",
	"accept-encoding",
	"x-forwarded-for",
	"referer",
}

// ClientSignal is the header-level view of one inbound request.
type ClientSignal struct {
	UserAgent string
	Headers   map[string]string
	Pathname  string
}

// Header returns an allow-listed header value by lower-case name.
func (s ClientSignal) Header(name string) string {
	return s.Headers[strings.ToLower(name)]
}

// SignalFromRequest captures the user agent, allow-listed headers, and path.
func SignalFromRequest(r *http.Request) ClientSignal {
	headers := make(map[string]string, len(AllowedHeaders))
	for _, name := range AllowedHeaders {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}
	return ClientSignal{
		UserAgent: r.UserAgent(),
		Headers:   headers,
		Pathname:  r.URL.Path,
	}
}

// Classification is the derived, stateless result of Classify.
type Classification struct {
	Category     Category
	Verdict      Verdict
	BlockReason  BlockReason
	IgnoreReason IgnoreReason
}

// Label returns the reason tag used for logs and metrics, or "none".
func (c Classification) Label() string {
	switch {
	case c.BlockReason != "":
		return string(c.BlockReason)
	case c.IgnoreReason != "":
		return string(c.IgnoreReason)
	default:
		return "none"
	}
}
