package escape

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/clock/system"
	"github.com/JakeFAU/linkgate/internal/metrics"
)

// Navigator is the window/location surface the chain drives. Open must
// return an error when no window handle comes back.
type Navigator interface {
	Open(url, target, features string) error
	Replace(url string) error
	Assign(url string) error
}

// Clock supplies the cache-bust timestamp and the timed deferrals.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Result summarizes one trigger.
type Result struct {
	Triggered bool      `json:"triggered"`
	URL       string    `json:"url,omitempty"`
	Attempts  []Attempt `json:"attempts"`
}

// Plan is the chain rendered for a page script to execute itself.
type Plan struct {
	Triggered     bool   `json:"triggered"`
	URL           string `json:"url,omitempty"`
	SettleDelayMs int64  `json:"settleDelayMs"`
	Steps         []Step `json:"steps"`
}

// Orchestrator runs the escape chain for one session at a time.
type Orchestrator struct {
	cfg    Config
	nav    Navigator
	clock  Clock
	logger *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an Orchestrator. nav may be nil when only Plan is used.
func New(cfg Config, nav Navigator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		nav:    nav,
		clock:  system.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Chain lists the techniques for bc against an already cache-busted URL.
// Android never reaches the iOS steps; every platform ends with the generic
// window.open attempt, reached only if all earlier steps threw.
func (o *Orchestrator) Chain(bc browser.Context, target string) []Step {
	generic := Step{
		Method:   MethodGenericWindowOpen,
		Action:   ActionOpen,
		URL:      target,
		Target:   blankTarget,
		Features: openerFeatures,
	}
	switch {
	case bc.IsAndroid:
		return []Step{
			{Method: MethodAndroidIntent, Action: ActionAssign, URL: IntentURL(target, o.cfg.AndroidPackage)},
			generic,
		}
	case bc.IsIOS:
		return []Step{
			{Method: MethodIOSWindowOpen, Action: ActionOpen, URL: target, Target: blankTarget, Features: openerFeatures},
			{
				Method:        MethodIOSLocationReplace,
				Action:        ActionReplace,
				URL:           target,
				RepeatDelay:   o.cfg.RepeatDelay,
				RepeatDelayMs: o.cfg.RepeatDelay.Milliseconds(),
			},
			{Method: MethodIOSLocationHref, Action: ActionAssign, URL: target},
			generic,
		}
	default:
		return []Step{generic}
	}
}

// Plan renders the chain without running it. Sessions that are not a mobile
// in-app browser get an untriggered, empty plan, and so does a target that
// already carries _t: an app that swallows the escape and reloads in place
// would otherwise loop forever.
func (o *Orchestrator) Plan(bc browser.Context, target string) Plan {
	if CacheBusted(target) {
		return o.idlePlan()
	}
	return o.Retrigger(bc, target)
}

// Retrigger renders the chain for an explicit user request. Unlike Plan it
// ignores an existing _t, which is replaced with a fresh one.
func (o *Orchestrator) Retrigger(bc browser.Context, target string) Plan {
	p := o.idlePlan()
	if !bc.ShouldEscape() || target == "" {
		return p
	}
	p.Triggered = true
	p.URL = CacheBust(target, o.clock.Now())
	p.Steps = o.Chain(bc, p.URL)
	return p
}

func (o *Orchestrator) idlePlan() Plan {
	return Plan{SettleDelayMs: o.cfg.SettleDelay.Milliseconds(), Steps: []Step{}}
}

// Run waits the settle delay, then walks the chain until a step does not
// throw. It blocks for the delays and cannot be cancelled once started.
func (o *Orchestrator) Run(bc browser.Context, target string) Result {
	res := Result{Attempts: []Attempt{}}
	if !bc.ShouldEscape() || target == "" || o.nav == nil || CacheBusted(target) {
		return res
	}
	res.Triggered = true
	res.URL = CacheBust(target, o.clock.Now())
	<-o.clock.After(o.cfg.SettleDelay)

	for _, step := range o.Chain(bc, res.URL) {
		err := o.invoke(step)
		att := Attempt{Method: step.Method, Outcome: OutcomeInvoked}
		if err != nil {
			att.Outcome = OutcomeThrew
			att.Error = err.Error()
		}
		res.Attempts = append(res.Attempts, att)
		metrics.ObserveEscapeAttempt(string(att.Method), string(att.Outcome))
		o.logger.Debug("escape attempt",
			zap.String("method", string(att.Method)),
			zap.String("outcome", string(att.Outcome)),
			zap.Error(err),
		)
		if err != nil {
			continue
		}
		if step.RepeatDelay > 0 {
			<-o.clock.After(step.RepeatDelay)
			if rerr := o.call(func() error { return o.nav.Assign(res.URL) }); rerr != nil {
				o.logger.Debug("escape repeat assign failed", zap.Error(rerr))
			}
		}
		break
	}
	return res
}

func (o *Orchestrator) invoke(step Step) error {
	return o.call(func() error {
		switch step.Action {
		case ActionOpen:
			return o.nav.Open(step.URL, step.Target, step.Features)
		case ActionReplace:
			return o.nav.Replace(step.URL)
		case ActionAssign:
			return o.nav.Assign(step.URL)
		default:
			return fmt.Errorf("unknown action %q", step.Action)
		}
	})
}

// call turns a panicking navigator into an ordinary failure.
func (o *Orchestrator) call(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("navigation panicked: %v", rec)
		}
	}()
	return fn()
}
