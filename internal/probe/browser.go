package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/headless"
)

// Tab is the slice of a headless tab the browser prober drives.
type Tab interface {
	browser.Environment
	Navigate(url string) (headless.Navigation, error)
	Close()
}

// TabOpener opens a tab emulating the given client.
type TabOpener func(ctx context.Context, opts headless.TabOptions) (Tab, error)

// FromBrowser adapts a headless.Browser.
func FromBrowser(b *headless.Browser) TabOpener {
	return func(ctx context.Context, opts headless.TabOptions) (Tab, error) {
		tab, err := b.NewTab(ctx, opts)
		if err != nil {
			return nil, err
		}
		return tab, nil
	}
}

// BrowserProber loads pages in emulated clients and runs the same detector
// and escape planner the service uses.
type BrowserProber struct {
	baseURL  string
	open     TabOpener
	detector *browser.Detector
	escape   *escape.Orchestrator
}

// NewBrowserProber wires a prober. The orchestrator is only asked for plans,
// never run, so the tab is not navigated away.
func NewBrowserProber(baseURL string, open TabOpener, d *browser.Detector, o *escape.Orchestrator) (*BrowserProber, error) {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case base == "":
		return nil, fmt.Errorf("probe base url is required")
	case open == nil:
		return nil, fmt.Errorf("tab opener is required")
	case d == nil:
		return nil, fmt.Errorf("detector is required")
	case o == nil:
		return nil, fmt.Errorf("escape orchestrator is required")
	}
	return &BrowserProber{baseURL: base, open: open, detector: d, escape: o}, nil
}

// Run executes every case in order.
func (p *BrowserProber) Run(ctx context.Context, cases []BrowserCase) []Outcome {
	out := make([]Outcome, 0, len(cases))
	for _, c := range cases {
		out = append(out, p.Check(ctx, c))
	}
	return out
}

// Check loads one case and compares the detector's verdict with the case.
func (p *BrowserProber) Check(ctx context.Context, c BrowserCase) (outcome Outcome) {
	url := p.baseURL + "/" + strings.TrimLeft(c.Path, "/")
	outcome = Outcome{Case: c.Name, Kind: KindBrowser, URL: url}
	start := time.Now()
	defer func() { outcome.Duration = time.Since(start) }()

	tab, err := p.open(ctx, headless.TabOptions{
		UserAgent:   c.UserAgent,
		Referrer:    c.Referrer,
		BlockPopups: c.BlockPopups,
	})
	if err != nil {
		outcome.Detail = err.Error()
		return outcome
	}
	defer tab.Close()

	nav, err := tab.Navigate(url)
	if err != nil {
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Status = nav.StatusCode

	bc := p.detector.Detect(tab)
	plan := p.escape.Plan(bc, nav.URL)
	outcome.Reasons = bc.Reasons.String()
	for _, step := range plan.Steps {
		outcome.Steps = append(outcome.Steps, string(step.Method))
	}
	outcome.Passed, outcome.Detail = evaluateBrowser(c, bc, plan)
	return outcome
}

func evaluateBrowser(c BrowserCase, bc browser.Context, plan escape.Plan) (bool, string) {
	if bc.IsInAppBrowser != c.WantInApp {
		return false, fmt.Sprintf("in-app %t, want %t", bc.IsInAppBrowser, c.WantInApp)
	}
	if c.WantApp != "" && bc.InAppApp != c.WantApp {
		return false, fmt.Sprintf("app %s, want %s", bc.InAppApp, c.WantApp)
	}
	if plan.Triggered != c.WantEscape {
		return false, fmt.Sprintf("escape %t, want %t", plan.Triggered, c.WantEscape)
	}
	return true, ""
}
