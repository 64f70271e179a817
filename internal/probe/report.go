package probe

import (
	"time"

	"go.uber.org/zap"
)

// Kind says which prober produced an Outcome.
type Kind string

// Prober kinds.
const (
	KindHTTP    Kind = "http"
	KindBrowser Kind = "browser"
)

// Outcome is the result of one case.
type Outcome struct {
	Case     string        `json:"case"`
	Kind     Kind          `json:"kind"`
	URL      string        `json:"url"`
	Status   int           `json:"status,omitempty"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Reasons  string        `json:"reasons,omitempty"`
	Steps    []string      `json:"steps,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report collects the outcomes of one probe run.
type Report struct {
	BaseURL  string    `json:"baseURL"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed counts failing outcomes.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Passed {
			n++
		}
	}
	return n
}

// Log writes one line per outcome and a summary.
func (r Report) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	for _, o := range r.Outcomes {
		fields := []zap.Field{
			zap.String("case", o.Case),
			zap.String("kind", string(o.Kind)),
			zap.String("url", o.URL),
			zap.Int("status", o.Status),
			zap.Duration("duration", o.Duration),
		}
		if o.Reasons != "" {
			fields = append(fields, zap.String("reasons", o.Reasons))
		}
		if len(o.Steps) > 0 {
			fields = append(fields, zap.Strings("steps", o.Steps))
		}
		if o.Passed {
			logger.Info("probe passed", fields...)
			continue
		}
		logger.Warn("probe failed", append(fields, zap.String("detail", o.Detail))...)
	}
	logger.Info("probe summary",
		zap.String("base_url", r.BaseURL),
		zap.Int("cases", len(r.Outcomes)),
		zap.Int("failed", r.Failed()),
	)
}
