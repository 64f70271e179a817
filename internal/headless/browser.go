// Package headless drives a real Chrome tab through chromedp so the browser
// detector and the escape chain can be exercised against a live page.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultEvalTimeout       = 5 * time.Second
)

// Config controls the shared browser process.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	EvalTimeout       time.Duration
	Logger            *zap.Logger
}

// TabOptions emulate the client a tab pretends to be.
type TabOptions struct {
	UserAgent string
	// Referrer is exposed as document.referrer and sent as the Referer header.
	Referrer string
	Headers  http.Header
	// BlockPopups makes window.open return null, the way most in-app webviews do.
	BlockPopups bool
	// Standalone sets navigator.standalone.
	Standalone bool
}

// Browser owns the Chrome allocator and bounds how many tabs run at once.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowser prepares a headless Chrome allocator. Chrome itself starts with
// the first tab.
func NewBrowser(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = defaultEvalTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-popup-blocking", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewTab opens a tab configured by opts. The caller must Close it.
func (b *Browser) NewTab(ctx context.Context, opts TabOptions) (*Tab, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	// Allocate the target on the long-lived context so per-call timeouts do
	// not close the tab.
	if err := chromedp.Run(tabCtx, b.setupAction(opts)); err != nil {
		tabCancel()
		b.release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	t := &Tab{
		ctx:         tabCtx,
		cancel:      tabCancel,
		navTimeout:  b.cfg.NavigationTimeout,
		evalTimeout: b.cfg.EvalTimeout,
		release:     b.release,
		logger:      b.logger,
		meta:        newResponseMeta(),
	}
	chromedp.ListenTarget(tabCtx, t.meta.captureEvent)
	return t, nil
}

func (b *Browser) setupAction(opts TabOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := requestHeaders(opts)
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if script := emulationScript(opts); script != "" {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("install emulation script: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func requestHeaders(opts TabOptions) http.Header {
	headers := http.Header{}
	for k, values := range opts.Headers {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	if opts.Referrer != "" && headers.Get("Referer") == "" {
		headers.Set("Referer", opts.Referrer)
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
