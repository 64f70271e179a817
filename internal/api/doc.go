// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/track and GET /api/analytics for page-visit analytics.
//   - POST /api/visit-beacon, where a loaded page reports its environment and
//     receives its browser classification and escape plan.
//   - GET on protected pages, which serves a stub carrying the beacon script.
//
// Every request passes the edge gatekeeper before reaching a handler.
package api
