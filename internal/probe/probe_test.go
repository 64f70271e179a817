package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/linkgate/internal/analytics"
	"github.com/JakeFAU/linkgate/internal/api"
	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/clock/system"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/gatekeeper"
	"github.com/JakeFAU/linkgate/internal/headless"
	"github.com/JakeFAU/linkgate/internal/id/uuid"
	"github.com/JakeFAU/linkgate/internal/signals"
)

type discardEmitter struct{}

func (discardEmitter) Record(analytics.Event) {}

func newLinkgate(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := api.NewServer(api.Deps{
		Gatekeeper: gatekeeper.New(gatekeeper.Config{ProtectedPaths: []string{"/josh"}}),
		Detector:   browser.NewDefaultDetector(),
		Escape:     escape.New(escape.DefaultConfig(), nil),
		Recorder:   discardEmitter{},
		IDs:        uuid.New(),
		Clock:      system.New(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestDefaultCasesPassAgainstService(t *testing.T) {
	t.Parallel()

	ts := newLinkgate(t)
	prober, err := NewHTTPProber(HTTPConfig{BaseURL: ts.URL + "/", Timeout: 5 * time.Second})
	require.NoError(t, err)

	report := Report{BaseURL: ts.URL, Outcomes: prober.Run(context.Background(), DefaultCases("josh"))}
	for _, o := range report.Outcomes {
		require.Truef(t, o.Passed, "%s: %s", o.Case, o.Detail)
		require.Equal(t, KindHTTP, o.Kind)
	}
	require.Zero(t, report.Failed())
}

func TestHTTPProberReportsMismatch(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "probe-agent" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	t.Cleanup(ts.Close)

	prober, err := NewHTTPProber(HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	out := prober.Check(context.Background(), Case{
		Name:       "status",
		Path:       "/x",
		Headers:    http.Header{"User-Agent": {"probe-agent"}},
		WantStatus: http.StatusOK,
	})
	require.False(t, out.Passed)
	require.Equal(t, http.StatusTeapot, out.Status)
	require.Equal(t, "status 418, want 200", out.Detail)

	out = prober.Check(context.Background(), Case{
		Name:       "body",
		Path:       "x",
		Headers:    http.Header{"User-Agent": {"probe-agent"}},
		WantStatus: http.StatusTeapot,
		WantBody:   "spout",
	})
	require.False(t, out.Passed)
	require.Contains(t, out.Detail, "spout")
}

func TestNewHTTPProberRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPProber(HTTPConfig{})
	require.Error(t, err)
}

func TestDefaultCasesTargetPage(t *testing.T) {
	t.Parallel()

	cases := DefaultCases("/josh/")
	require.NotEmpty(t, cases)
	for _, c := range cases {
		require.NotEmpty(t, c.Name)
		require.NotZero(t, c.WantStatus)
	}
	require.Equal(t, "/josh", cases[0].Path)
}

type fakeTab struct {
	browser.Snapshot
	nav    headless.Navigation
	navErr error
	closed bool
}

func (f *fakeTab) Navigate(url string) (headless.Navigation, error) {
	if f.navErr != nil {
		return headless.Navigation{}, f.navErr
	}
	nav := f.nav
	if nav.URL == "" {
		nav.URL = url
	}
	if nav.StatusCode == 0 {
		nav.StatusCode = http.StatusOK
	}
	return nav, nil
}

func (f *fakeTab) Close() { f.closed = true }

func fakeOpener(tabs map[string]*fakeTab) TabOpener {
	return func(_ context.Context, opts headless.TabOptions) (Tab, error) {
		tab, ok := tabs[opts.UserAgent]
		if !ok {
			return nil, errors.New("no tab for user agent")
		}
		tab.Present = true
		tab.UA = opts.UserAgent
		tab.Ref = opts.Referrer
		tab.PopupBlocked = opts.BlockPopups
		return tab, nil
	}
}

func TestBrowserProberDefaultCases(t *testing.T) {
	t.Parallel()

	tabs := map[string]*fakeTab{
		UADesktopChrome:   {},
		UAInstagramIOS:    {},
		UAFacebookAndroid: {},
	}
	prober, err := NewBrowserProber("https://links.example.com", fakeOpener(tabs),
		browser.NewDefaultDetector(), escape.New(escape.DefaultConfig(), nil))
	require.NoError(t, err)

	outcomes := prober.Run(context.Background(), DefaultBrowserCases("josh"))
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		require.Truef(t, o.Passed, "%s: %s", o.Case, o.Detail)
		require.Equal(t, "https://links.example.com/josh", o.URL)
	}
	require.Empty(t, outcomes[0].Steps)
	require.Equal(t, []string{
		string(escape.MethodIOSWindowOpen),
		string(escape.MethodIOSLocationReplace),
		string(escape.MethodIOSLocationHref),
		string(escape.MethodGenericWindowOpen),
	}, outcomes[1].Steps)
	require.Contains(t, outcomes[1].Reasons, "window.open-blocked")
	require.Equal(t, string(escape.MethodAndroidIntent), outcomes[2].Steps[0])
	for _, tab := range tabs {
		require.True(t, tab.closed)
	}
}

func TestBrowserProberFailures(t *testing.T) {
	t.Parallel()

	tabs := map[string]*fakeTab{"nav-fails": {navErr: errors.New("timeout")}}
	prober, err := NewBrowserProber("https://links.example.com", fakeOpener(tabs),
		browser.NewDefaultDetector(), escape.New(escape.DefaultConfig(), nil))
	require.NoError(t, err)

	out := prober.Check(context.Background(), BrowserCase{Name: "nav", Path: "/josh", UserAgent: "nav-fails"})
	require.False(t, out.Passed)
	require.Equal(t, "timeout", out.Detail)

	out = prober.Check(context.Background(), BrowserCase{Name: "open", Path: "/josh", UserAgent: "missing"})
	require.False(t, out.Passed)

	tabs[UADesktopChrome] = &fakeTab{}
	out = prober.Check(context.Background(), BrowserCase{
		Name:      "expects-in-app",
		Path:      "/josh",
		UserAgent: UADesktopChrome,
		WantInApp: true,
		WantApp:   signals.AppInstagram,
	})
	require.False(t, out.Passed)
	require.Contains(t, out.Detail, "in-app false")
}

func TestNewBrowserProberValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBrowserProber("", nil, nil, nil)
	require.Error(t, err)
	_, err = NewBrowserProber("https://x", fakeOpener(nil), nil, nil)
	require.Error(t, err)
}

func TestReportLog(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	report := Report{
		BaseURL: "https://links.example.com",
		Outcomes: []Outcome{
			{Case: "ok", Kind: KindHTTP, Passed: true},
			{Case: "bad", Kind: KindBrowser, Detail: "status 500, want 200"},
		},
	}
	require.Equal(t, 1, report.Failed())
	report.Log(zap.New(core))

	require.Equal(t, 1, logs.FilterMessage("probe passed").Len())
	failed := logs.FilterMessage("probe failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "status 500, want 200", failed[0].ContextMap()["detail"])
	require.Equal(t, 1, logs.FilterMessage("probe summary").Len())
}

func TestHTTPProberPacingHonorsContext(t *testing.T) {
	t.Parallel()

	prober, err := NewHTTPProber(HTTPConfig{BaseURL: "http://127.0.0.1:1", RPS: 0.001})
	require.NoError(t, err)
	require.NoError(t, prober.limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := prober.Check(ctx, Case{Name: "paced", Path: "/"})
	require.False(t, out.Passed)
	require.Contains(t, out.Detail, "probe pacing")
}
