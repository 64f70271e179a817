package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/analytics"
	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/logging"
	"github.com/JakeFAU/linkgate/internal/metrics"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	readTimeout       = 3 * time.Second

	analyticsCacheControl = "public, s-maxage=60, stale-while-revalidate=300"
)

// Click types the visit beacon records.
const (
	// ClickEscapeReport marks beacons that report escape attempts.
	ClickEscapeReport = "escape_report"
	// ClickManualOpen marks a user pressing the page's open-in-browser control.
	ClickManualOpen = "manual_open"
)

const eventManualOpen = "manual_open"

type trackRequest struct {
	Page         string `json:"page"`
	Referrer     string `json:"referrer"`
	Timestamp    string `json:"timestamp"`
	Pathname     string `json:"pathname"`
	SearchParams string `json:"searchParams"`
	ClickType    string `json:"click_type"`
	LinkID       string `json:"link_id"`
	PageID       string `json:"page_id"`
}

// track handles POST /api/track. The write is queued and the response does
// not wait for any sink.
func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Page) == "" {
		writeError(w, http.StatusBadRequest, "Page parameter is required")
		return
	}
	now := s.deps.Clock.Now()
	evt := analytics.Event{
		Page:         req.Page,
		Referrer:     req.Referrer,
		UserAgent:    r.UserAgent(),
		IPAddress:    analytics.ClientIP(r),
		Timestamp:    parseTimestamp(req.Timestamp, now),
		Pathname:     req.Pathname,
		SearchParams: req.SearchParams,
		ClickType:    req.ClickType,
		LinkID:       req.LinkID,
		PageID:       req.PageID,
	}.Normalize(s.deps.Table, now)
	s.deps.Recorder.Record(evt)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": evt})
}

// listAnalytics handles GET /api/analytics?page=&limit=&offset=.
func (s *Server) listAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics store unavailable")
		return
	}
	page := strings.TrimSpace(r.URL.Query().Get("page"))
	if page == "" {
		writeError(w, http.StatusBadRequest, "Page parameter is required in query string")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	logger := logging.FromContext(r.Context(), s.logger)
	total, err := s.deps.Reader.CountEvents(ctx, page)
	if err != nil {
		logger.Error("count events failed", zap.String("page", page), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count events")
		return
	}
	rows, err := s.deps.Reader.ListEvents(ctx, page, limit, offset)
	if err != nil {
		logger.Error("list events failed", zap.String("page", page), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	w.Header().Set("Cache-Control", analyticsCacheControl)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"page":           page,
		"data":           rows,
		"totalRecords":   total,
		"fetchedRecords": len(rows),
		"limit":          limit,
		"offset":         offset,
	})
}

type beaconRequest struct {
	TS                int64            `json:"ts"`
	Event             string           `json:"event"`
	Page              string           `json:"page"`
	Path              string           `json:"path"`
	UA                string           `json:"ua"`
	Referrer          string           `json:"referrer"`
	Standalone        bool             `json:"standalone"`
	WindowOpenBlocked bool             `json:"windowOpenBlocked"`
	Target            string           `json:"target"`
	Attempts          []escape.Attempt `json:"attempts"`
}

type beaconResponse struct {
	OK      bool            `json:"ok"`
	Context browser.Context `json:"context"`
	Escape  escape.Plan     `json:"escape"`
	// Manual is the plan the open-in-browser control runs. It is rendered
	// even when Escape is held back for an already escaped URL.
	Manual  escape.Plan     `json:"manual"`
}

// visitBeacon handles POST /api/visit-beacon. The page reports what it can
// see of its own environment; the server classifies it and answers with the
// escape plan the page should run.
func (s *Server) visitBeacon(w http.ResponseWriter, r *http.Request) {
	var req beaconRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid payload"})
		return
	}
	if req.UA == "" {
		req.UA = r.UserAgent()
	}
	req.UA = analytics.TruncateUserAgent(req.UA)
	manual := req.Event == eventManualOpen

	bc := s.deps.Detector.Detect(browser.Snapshot{
		Present:      true,
		UA:           req.UA,
		Ref:          req.Referrer,
		IsStandalone: req.Standalone,
		PopupBlocked: req.WindowOpenBlocked,
	})
	// Reports follow a page_view beacon that already counted this session.
	if len(req.Attempts) == 0 && !manual {
		metrics.ObserveDetection(bc.IsInAppBrowser, string(bc.InAppApp))
	}

	target := req.Target
	if target == "" {
		target = requestURL(r, req.Path)
	}
	plan := s.deps.Escape.Plan(bc, target)
	retry := s.deps.Escape.Retrigger(bc, target)

	reported := 0
	for _, att := range req.Attempts {
		if !escape.KnownMethod(att.Method) {
			continue
		}
		if att.Outcome != escape.OutcomeInvoked && att.Outcome != escape.OutcomeThrew {
			continue
		}
		metrics.ObserveEscapeAttempt(string(att.Method), string(att.Outcome))
		reported++
	}

	logging.FromContext(r.Context(), s.logger).Debug("visit beacon",
		zap.String("event", req.Event),
		zap.Bool("in_app", bc.IsInAppBrowser),
		zap.String("app", string(bc.InAppApp)),
		zap.String("reasons", bc.Reasons.String()),
		zap.Bool("escape", plan.Triggered),
		zap.Int("attempts_reported", reported),
	)

	page := req.Page
	if page == "" {
		page = strings.Trim(req.Path, "/")
	}
	if page != "" {
		clickType := analytics.ClickVisitBeacon
		switch {
		case manual:
			clickType = ClickManualOpen
		case reported > 0:
			clickType = ClickEscapeReport
		}
		now := s.deps.Clock.Now()
		ts := now
		if req.TS > 0 {
			ts = time.UnixMilli(req.TS)
		}
		s.deps.Recorder.Record(analytics.Event{
			Page:      page,
			Referrer:  req.Referrer,
			UserAgent: req.UA,
			IPAddress: analytics.ClientIP(r),
			Timestamp: ts,
			Pathname:  req.Path,
			ClickType: clickType,
		}.Normalize(s.deps.Table, now))
	}

	writeJSON(w, http.StatusOK, beaconResponse{OK: true, Context: bc, Escape: plan, Manual: retry})
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fallback
	}
	return ts
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// requestURL rebuilds the public URL of path on the host that served r.
func requestURL(r *http.Request, path string) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + r.Host + path
}
