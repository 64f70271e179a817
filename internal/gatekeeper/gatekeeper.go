// Package gatekeeper classifies inbound requests from headers alone, before any
// page logic runs. It only blocks on positive evidence of automation and never
// attempts a full human/bot distinction; that is left to the in-page detector.
package gatekeeper

import (
	"strings"

	"github.com/x-way/crawlerdetect"

	"github.com/JakeFAU/linkgate/internal/signals"
)

// Config lists the path sets the gatekeeper routes on.
type Config struct {
	AssetPrefixes  []string
	APIPrefix      string
	ProtectedPaths []string
}

// DefaultAssetPrefixes are exempt from classification entirely.
var DefaultAssetPrefixes = []string{"/_next", "/favicon", "/assets", "/public"}

// DefaultAPIPrefix selects the lenient path.
const DefaultAPIPrefix = "/api/"

// Gatekeeper evaluates ClientSignals. It holds no per-request state.
type Gatekeeper struct {
	cfg       Config
	protected map[string]struct{}
	table     signals.Table
	knownBot  func(string) bool
}

// Option customizes a Gatekeeper.
type Option func(*Gatekeeper)

// WithTable swaps the classification table.
func WithTable(t signals.Table) Option {
	return func(g *Gatekeeper) { g.table = t }
}

// WithKnownBotClassifier replaces the crawler signature database.
func WithKnownBotClassifier(fn func(userAgent string) bool) Option {
	return func(g *Gatekeeper) {
		if fn != nil {
			g.knownBot = fn
		}
	}
}

// New builds a Gatekeeper, filling empty config fields with defaults.
func New(cfg Config, opts ...Option) *Gatekeeper {
	if len(cfg.AssetPrefixes) == 0 {
		cfg.AssetPrefixes = DefaultAssetPrefixes
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultAPIPrefix
	}
	protected := make(map[string]struct{}, len(cfg.ProtectedPaths))
	for _, p := range cfg.ProtectedPaths {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		protected[p] = struct{}{}
	}
	g := &Gatekeeper{
		cfg:       cfg,
		protected: protected,
		table:     signals.Default,
		knownBot:  crawlerdetect.IsCrawler,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Categorize maps a path to its routing bucket.
func (g *Gatekeeper) Categorize(pathname string) Category {
	for _, prefix := range g.cfg.AssetPrefixes {
		if strings.HasPrefix(pathname, prefix) {
			return CategoryInternalAsset
		}
	}
	if strings.HasPrefix(pathname, g.cfg.APIPrefix) {
		return CategoryAPI
	}
	if g.IsProtected(pathname) {
		return CategoryProtectedPage
	}
	return CategoryUnprotectedPage
}

// IsProtected reports whether the path is a protected page or lies beneath one.
func (g *Gatekeeper) IsProtected(pathname string) bool {
	if _, ok := g.protected[pathname]; ok {
		return true
	}
	// Walk parent segments so lookup cost tracks path depth, not list size.
	for i := len(pathname) - 1; i > 0; i-- {
		if pathname[i] != '/' {
			continue
		}
		if _, ok := g.protected[pathname[:i]]; ok {
			return true
		}
	}
	return false
}

// Classify returns the verdict for a signal. It performs no I/O and never panics
// on missing data: an empty user agent is treated as evidence-absent.
func (g *Gatekeeper) Classify(sig ClientSignal) Classification {
	category := g.Categorize(sig.Pathname)
	out := Classification{Category: category, Verdict: VerdictAllow}

	switch category {
	case CategoryAPI:
		switch {
		case g.table.IsObviousBot(sig.UserAgent):
			out.Verdict = VerdictIgnore
			out.IgnoreReason = IgnoreBot
		case g.isPrefetch(sig):
			out.Verdict = VerdictIgnore
			out.IgnoreReason = IgnorePrefetch
		}
	case CategoryProtectedPage:
		if reason, ok := g.knownBotReason(sig.UserAgent); ok {
			out.Verdict = VerdictBlock
			out.BlockReason = reason
		}
	}
	return out
}

func (g *Gatekeeper) isPrefetch(sig ClientSignal) bool {
	return g.table.IsPrefetch(sig.Header("purpose")) || g.table.IsPrefetch(sig.Header("sec-fetch-purpose"))
}

func (g *Gatekeeper) knownBotReason(userAgent string) (BlockReason, bool) {
	if strings.TrimSpace(userAgent) == "" {
		return "", false
	}
	if g.knownBot(userAgent) {
		return ReasonKnownBotSignature, true
	}
	if g.table.IsObviousBot(userAgent) {
		return ReasonObviousBotUA, true
	}
	return "", false
}
