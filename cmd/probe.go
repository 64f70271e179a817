package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/config"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/headless"
	"github.com/JakeFAU/linkgate/internal/probe"
)

type probeFlags struct {
	baseURL string
	paths   []string
	browser bool
}

func newProbeCmd() *cobra.Command {
	var flags probeFlags
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check a running deployment from the outside",
		Long: `probe sends requests as known bots, obvious bots, prefetchers, and a
desktop browser to each protected path and checks the verdicts. With
--browser it also loads each path in headless Chrome emulating desktop and
in-app clients and checks the detector and escape plan.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbeCommand(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "deployment to probe (overrides probe.base_url)")
	cmd.Flags().StringSliceVar(&flags.paths, "path", nil, "protected path to probe, repeatable (overrides probe.paths)")
	cmd.Flags().BoolVar(&flags.browser, "browser", false, "also run headless Chrome cases")
	return cmd
}

func runProbeCommand(cmd *cobra.Command, flags probeFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, logger := e.cfg, e.logger.Named("probe")

	baseURL := cfg.Probe.BaseURL
	if flags.baseURL != "" {
		baseURL = flags.baseURL
	}
	paths := probePaths(cfg, flags.paths)
	if len(paths) == 0 {
		return fmt.Errorf("no paths to probe: set probe.paths, gatekeeper.protected_paths, or --path")
	}

	httpProber, err := probe.NewHTTPProber(probe.HTTPConfig{BaseURL: baseURL, RPS: cfg.Probe.RPS})
	if err != nil {
		return err
	}
	report := probe.Report{BaseURL: baseURL}
	for _, p := range paths {
		report.Outcomes = append(report.Outcomes, httpProber.Run(ctx, probe.DefaultCases(p))...)
	}

	if flags.browser || cfg.Probe.Browser {
		outcomes, err := runBrowserProbe(cmd, cfg, baseURL, paths, logger)
		if err != nil {
			return err
		}
		report.Outcomes = append(report.Outcomes, outcomes...)
	}

	report.Log(logger)
	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d probe cases failed", failed, len(report.Outcomes))
	}
	return nil
}

func runBrowserProbe(cmd *cobra.Command, cfg config.Config, baseURL string, paths []string, logger *zap.Logger) ([]probe.Outcome, error) {
	b, err := headless.NewBrowser(headless.Config{
		MaxParallel:       1,
		NavigationTimeout: cfg.NavTimeout(),
		Logger:            logger.Named("headless"),
	})
	if err != nil {
		return nil, fmt.Errorf("init headless browser: %w", err)
	}
	defer b.Close()

	prober, err := probe.NewBrowserProber(baseURL, probe.FromBrowser(b),
		browser.NewDefaultDetector(), escape.New(cfg.EscapeSettings(), nil))
	if err != nil {
		return nil, err
	}
	var out []probe.Outcome
	for _, p := range paths {
		out = append(out, prober.Run(cmd.Context(), probe.DefaultBrowserCases(p))...)
	}
	return out, nil
}

func probePaths(cfg config.Config, override []string) []string {
	src := cfg.Probe.Paths
	switch {
	case len(override) > 0:
		src = override
	case len(src) == 0:
		src = cfg.Gatekeeper.ProtectedPaths
	}
	out := make([]string, 0, len(src))
	for _, p := range src {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}
