package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if gateVerdictsTotal == nil || escapeAttemptsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveVerdict(t *testing.T) {
	Init()
	counter := gateVerdictsTotal.WithLabelValues("protected-page", "block", "known-bot-signature")
	before := testutil.ToFloat64(counter)

	ObserveVerdict("protected-page", "block", "known-bot-signature")

	require.InDelta(t, before+1, testutil.ToFloat64(counter), 1e-9)
}

func TestObserveEscapeAndDetection(t *testing.T) {
	Init()
	attempts := escapeAttemptsTotal.WithLabelValues("ios-location-replace", "invoked")
	detections := browserDetectionsTotal.WithLabelValues("true", "instagram")
	beforeAttempts := testutil.ToFloat64(attempts)
	beforeDetections := testutil.ToFloat64(detections)

	ObserveEscapeAttempt("ios-location-replace", "invoked")
	ObserveDetection(true, "instagram")

	require.InDelta(t, beforeAttempts+1, testutil.ToFloat64(attempts), 1e-9)
	require.InDelta(t, beforeDetections+1, testutil.ToFloat64(detections), 1e-9)
}

func TestObserveAnalytics(t *testing.T) {
	Init()
	before := testutil.ToFloat64(analyticsDroppedTotal)
	ObserveAnalyticsDropped(0)
	ObserveAnalyticsDropped(3)
	require.InDelta(t, before+3, testutil.ToFloat64(analyticsDroppedTotal), 1e-9)

	writes := analyticsEventsTotal.WithLabelValues("memory", "ok")
	beforeWrites := testutil.ToFloat64(writes)
	ObserveAnalyticsWrite("memory", "ok")
	require.InDelta(t, beforeWrites+1, testutil.ToFloat64(writes), 1e-9)
}

func TestObserveHTTPRequest(t *testing.T) {
	Init()
	counter := httpRequestsTotal.WithLabelValues("POST", "202")
	before := testutil.ToFloat64(counter)

	ObserveHTTPRequest("POST", "/api/track", 202, 15*time.Millisecond)

	require.InDelta(t, before+1, testutil.ToFloat64(counter), 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
