package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/browser"
)

// Tab is one live page. It satisfies browser.Environment and
// escape.Navigator. Methods are safe for sequential use only.
type Tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	navTimeout  time.Duration
	evalTimeout time.Duration
	release     func()
	logger      *zap.Logger
	meta        *responseMeta

	mu        sync.Mutex
	navigated bool
	closed    bool
}

// Navigation is what the tab saw when loading a document.
type Navigation struct {
	URL        string
	StatusCode int
	Duration   time.Duration
}

// Navigate loads url and waits for the body.
func (t *Tab) Navigate(url string) (Navigation, error) {
	if t.isClosed() {
		return Navigation{}, fmt.Errorf("tab closed")
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.navTimeout)
	defer cancel()

	var finalURL string
	start := time.Now()
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return Navigation{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	t.mu.Lock()
	t.navigated = true
	t.mu.Unlock()

	status, docURL := t.meta.snapshotWithFallbacks(url, finalURL)
	return Navigation{URL: docURL, StatusCode: status, Duration: time.Since(start)}, nil
}

// Location reports the current document URL.
func (t *Tab) Location() (string, error) {
	var loc string
	if err := t.run(chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close releases the tab.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	if t.release != nil {
		t.release()
	}
}

// Available implements browser.Environment.
func (t *Tab) Available() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.navigated && !t.closed && t.ctx.Err() == nil
}

// UserAgent implements browser.Environment.
func (t *Tab) UserAgent() string {
	return t.evalString(exprUserAgent)
}

// Referrer implements browser.Environment.
func (t *Tab) Referrer() string {
	return t.evalString(exprReferrer)
}

// Standalone implements browser.Environment.
func (t *Tab) Standalone() bool {
	var ok bool
	if err := t.eval(exprStandalone, &ok); err != nil {
		return false
	}
	return ok
}

// OpenPopup implements browser.Environment.
func (t *Tab) OpenPopup() error {
	var opened bool
	if err := t.eval(exprPopupProbe, &opened); err != nil {
		return err
	}
	if !opened {
		return browser.ErrPopupBlocked
	}
	return nil
}

// Open implements escape.Navigator.
func (t *Tab) Open(url, target, features string) error {
	var opened bool
	if err := t.eval(openExpr(url, target, features), &opened); err != nil {
		return err
	}
	if !opened {
		return browser.ErrPopupBlocked
	}
	return nil
}

// Replace implements escape.Navigator.
func (t *Tab) Replace(url string) error {
	var ok bool
	return t.eval(replaceExpr(url), &ok)
}

// Assign implements escape.Navigator.
func (t *Tab) Assign(url string) error {
	var ok bool
	return t.eval(assignExpr(url), &ok)
}

func (t *Tab) evalString(expr string) string {
	var out string
	if err := t.eval(expr, &out); err != nil {
		return ""
	}
	return out
}

func (t *Tab) eval(expr string, out any) error {
	if err := t.run(chromedp.Evaluate(expr, out)); err != nil {
		t.logger.Debug("tab evaluate failed", zap.Error(err))
		return err
	}
	return nil
}

func (t *Tab) run(actions ...chromedp.Action) error {
	if t.isClosed() {
		return fmt.Errorf("tab closed")
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.evalTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (t *Tab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// responseMeta keeps the status of the last document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
