package gatekeeper

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/metrics"
)

type ignoredResponse struct {
	Success bool         `json:"success"`
	Ignored bool         `json:"ignored"`
	Reason  IgnoreReason `json:"reason,omitempty"`
}

// Middleware enforces Classify before the wrapped handler runs. Block verdicts
// get the decoy error page with status 404; ignore verdicts get a 200 JSON
// acknowledgement and the wrapped handler is never invoked.
func (g *Gatekeeper) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := SignalFromRequest(r)
			c := g.Classify(sig)
			if c.Category == CategoryInternalAsset {
				next.ServeHTTP(w, r)
				return
			}
			metrics.ObserveVerdict(string(c.Category), string(c.Verdict), c.Label())

			switch c.Verdict {
			case VerdictBlock:
				logger.Info("request blocked",
					zap.String("path", sig.Pathname),
					zap.String("reason", string(c.BlockReason)),
					zap.String("user_agent", sig.UserAgent),
				)
				writeBlockPage(w, logger)
			case VerdictIgnore:
				logger.Info("request ignored",
					zap.String("path", sig.Pathname),
					zap.String("reason", string(c.IgnoreReason)),
				)
				writeIgnored(w, c.IgnoreReason, logger)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeBlockPage(w http.ResponseWriter, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNotFound)
	if _, err := w.Write([]byte(blockPage)); err != nil {
		logger.Debug("write block page failed", zap.Error(err))
	}
}

func writeIgnored(w http.ResponseWriter, reason IgnoreReason, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ignoredResponse{Success: true, Ignored: true, Reason: reason}); err != nil {
		logger.Debug("write ignore response failed", zap.Error(err))
	}
}
