// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /v1/fetch runs a batch and returns its results.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
