package browser

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkgate/internal/signals"
)

const (
	uaInstagramIOS = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Mobile/15E148 Instagram 123.0.0.21.114 (iPhone13,2; iOS 17_0; en_US)"
	uaFacebookAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Version/4.0 Chrome/120.0.0.0 Mobile Safari/537.36 [FB_IAB/FB4A;FBAV/440.0.0.0;]"
	uaSafariIOS = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaChromeAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Mobile Safari/537.36"
	uaDesktopChrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaInstagramAndTikTok = "Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile Safari/537.36 Instagram 300.0 TikTok"
)

type fakeEnv struct {
	available  bool
	ua         string
	ref        string
	standalone bool
	popupErr   error
	panics     bool
	probes     int
}

func (f *fakeEnv) Available() bool   { return f.available }
func (f *fakeEnv) UserAgent() string { return f.ua }
func (f *fakeEnv) Referrer() string  { return f.ref }
func (f *fakeEnv) Standalone() bool  { return f.standalone }
func (f *fakeEnv) OpenPopup() error {
	f.probes++
	if f.panics {
		panic("SecurityError: sandboxed")
	}
	return f.popupErr
}

func TestDetectInstagramUA(t *testing.T) {
	t.Parallel()

	c := NewDefaultDetector().Detect(&fakeEnv{available: true, ua: uaInstagramIOS})
	require.Equal(t, signals.AppInstagram, c.InAppApp)
	require.True(t, c.IsInAppBrowser)
	require.True(t, c.IsInstagram)
	require.True(t, c.IsIOS)
	require.True(t, c.IsMobile)
	require.False(t, c.IsAndroid)
	require.True(t, c.Reasons.Has("ua:instagram"))
	require.True(t, c.Reasons.Has("ios-no-safari-in-ua"))
	require.Equal(t, "ua:instagram|ios-no-safari-in-ua", c.Reasons.String())
	require.True(t, c.ShouldEscape())
}

func TestDetectFacebookReferrerWithoutAppToken(t *testing.T) {
	t.Parallel()

	c := NewDefaultDetector().Detect(&fakeEnv{
		available: true,
		ua:        uaChromeAndroid,
		ref:       "https://m.facebook.com/story.php?id=1",
	})
	require.Equal(t, signals.AppNone, c.InAppApp)
	require.True(t, c.IsInAppBrowser)
	require.Equal(t, Reasons{"referrer-facebook"}, c.Reasons)
	require.True(t, c.IsAndroid)
	require.True(t, c.IsMobile)
}

func TestDetectDesktopChromeIsClean(t *testing.T) {
	t.Parallel()

	c := NewDefaultDetector().Detect(&fakeEnv{available: true, ua: uaDesktopChrome})
	require.False(t, c.IsMobile)
	require.False(t, c.IsInAppBrowser)
	require.Equal(t, NoReasons, c.Reasons.String())
	require.False(t, c.ShouldEscape())
	require.Equal(t, "desktop", c.DeviceType)
	require.Equal(t, "Windows", c.OSName)
	require.Equal(t, "Chrome", c.BrowserName)
}

func TestDetectRealSafariAndStandalone(t *testing.T) {
	t.Parallel()

	d := NewDefaultDetector()
	safari := d.Detect(&fakeEnv{available: true, ua: uaSafariIOS})
	require.True(t, safari.IsIOS)
	require.False(t, safari.IOSWebviewSuspect)
	require.False(t, safari.IsInAppBrowser)

	pwa := d.Detect(&fakeEnv{available: true, ua: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", standalone: true})
	require.True(t, pwa.IsIOS)
	require.False(t, pwa.IOSWebviewSuspect)
}

func TestDetectFirstAppWinsButEveryReasonRecorded(t *testing.T) {
	t.Parallel()

	c := NewDefaultDetector().Detect(&fakeEnv{available: true, ua: uaInstagramAndTikTok})
	require.Equal(t, signals.AppInstagram, c.InAppApp)
	require.Equal(t, Reasons{"ua:instagram", "ua:tiktok"}, c.Reasons)
}

func TestDetectFacebookAndroidTokens(t *testing.T) {
	t.Parallel()

	c := NewDefaultDetector().Detect(&fakeEnv{available: true, ua: uaFacebookAndroid})
	require.Equal(t, signals.AppFacebook, c.InAppApp)
	require.True(t, c.IsFacebookInApp)
	require.True(t, c.IsAndroid)
}

func TestDetectPopupProbeFailuresArePositiveSignals(t *testing.T) {
	t.Parallel()

	d := NewDefaultDetector()
	tests := []struct {
		name string
		env  *fakeEnv
	}{
		{name: "no handle", env: &fakeEnv{available: true, ua: uaDesktopChrome, popupErr: ErrPopupBlocked}},
		{name: "threw", env: &fakeEnv{available: true, ua: uaDesktopChrome, popupErr: errors.New("denied")}},
		{name: "panicked", env: &fakeEnv{available: true, ua: uaDesktopChrome, panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := d.Detect(tt.env)
			require.True(t, c.WindowOpenBlocked)
			require.True(t, c.IsInAppBrowser)
			require.Equal(t, Reasons{"window.open-blocked"}, c.Reasons)
			require.Equal(t, 1, tt.env.probes)
		})
	}
}

func TestDetectUnavailableEnvironment(t *testing.T) {
	t.Parallel()

	d := NewDefaultDetector()
	for _, env := range []Environment{nil, &fakeEnv{available: false, ua: uaInstagramIOS}} {
		c := d.Detect(env)
		require.False(t, c.IsMobile)
		require.False(t, c.IsAndroid)
		require.False(t, c.IsIOS)
		require.False(t, c.IsInAppBrowser)
		require.Equal(t, signals.AppNone, c.InAppApp)
		require.Equal(t, NoReasons, c.Reasons.String())
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	t.Parallel()

	d := NewDefaultDetector()
	env := &fakeEnv{available: true, ua: uaInstagramIOS, ref: "https://l.instagram.com/"}
	first := d.Detect(env)
	second := d.Detect(env)
	require.Equal(t, first, second)
}

func TestChecksAreIndependentlyTestable(t *testing.T) {
	t.Parallel()

	in := NewInput(Observation{Available: true, UserAgent: uaSafariIOS, Referrer: "https://www.instagram.com/p/x"})
	var byName = map[string]Check{}
	for _, c := range NewDefaultDetector().Checks() {
		byName[c.Name] = c
	}

	c, reason := byName["referrer-instagram"].Apply(in, emptyContext())
	require.Equal(t, "referrer-instagram", reason)
	require.True(t, c.IsInAppBrowser)

	c, reason = byName["app:twitter"].Apply(in, emptyContext())
	require.Empty(t, reason)
	require.False(t, c.IsInAppBrowser)
}

func TestContextJSONUsesReasonString(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewDefaultDetector().Classify(Observation{Available: true, UserAgent: uaDesktopChrome}))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"reasons":"none"`)
	require.Contains(t, string(raw), `"inAppApp":"none"`)
}

func TestSnapshotEnvironment(t *testing.T) {
	t.Parallel()

	snap := Snapshot{Present: true, UA: uaDesktopChrome, PopupBlocked: true}
	require.ErrorIs(t, snap.OpenPopup(), ErrPopupBlocked)
	obs := Observe(snap)
	require.True(t, obs.PopupBlocked)
	require.Equal(t, uaDesktopChrome, obs.UserAgent)
}
