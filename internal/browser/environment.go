package browser

import (
	"errors"
	"fmt"
)

// ErrPopupBlocked is returned by OpenPopup when the environment hands back no
// window handle.
var ErrPopupBlocked = errors.New("window.open returned no handle")

// Environment is the navigator/document/window surface of a loaded page.
// Implementations exist for a live headless tab and for a client-reported
// snapshot.
type Environment interface {
	// Available is false outside a browser execution context.
	Available() bool
	UserAgent() string
	Referrer() string
	// Standalone mirrors navigator.standalone (home-screen web app on iOS).
	Standalone() bool
	// OpenPopup opens and immediately closes an empty popup. It returns an
	// error if no handle came back or the call threw.
	OpenPopup() error
}

// Observation is everything the detector reads from an Environment.
type Observation struct {
	Available    bool   `json:"available"`
	UserAgent    string `json:"userAgent"`
	Referrer     string `json:"referrer"`
	Standalone   bool   `json:"standalone"`
	PopupBlocked bool   `json:"windowOpenBlocked"`
}

// Observe reads the environment once. The popup probe is the only side
// effect; any failure it reports, including a panic, counts as blocked.
func Observe(env Environment) Observation {
	if env == nil || !env.Available() {
		return Observation{}
	}
	return Observation{
		Available:    true,
		UserAgent:    env.UserAgent(),
		Referrer:     env.Referrer(),
		Standalone:   env.Standalone(),
		PopupBlocked: probePopup(env) != nil,
	}
}

func probePopup(env Environment) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("popup probe panicked: %v", rec)
		}
	}()
	return env.OpenPopup()
}

// Snapshot is an Environment reconstructed from values a page reported about
// itself, including the outcome of its own popup probe.
type Snapshot struct {
	Present      bool
	UA           string
	Ref          string
	IsStandalone bool
	PopupBlocked bool
}

// Available implements Environment.
func (s Snapshot) Available() bool { return s.Present }

// UserAgent implements Environment.
func (s Snapshot) UserAgent() string { return s.UA }

// Referrer implements Environment.
func (s Snapshot) Referrer() string { return s.Ref }

// Standalone implements Environment.
func (s Snapshot) Standalone() bool { return s.IsStandalone }

// OpenPopup replays the reported probe outcome.
func (s Snapshot) OpenPopup() error {
	if s.PopupBlocked {
		return ErrPopupBlocked
	}
	return nil
}
