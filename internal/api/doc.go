// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/v1/notices for recently delivered circulars.
//   - GET /api/v1/stats and /api/v1/status for cycle introspection.
package api
