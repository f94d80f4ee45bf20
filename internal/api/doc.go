// Package api hosts the HTTP surface of the collector:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources and /v1/sources/{name} to describe registered sources.
//   - POST /v1/update and /v1/sources/{name}/update to run sources.
//
// Shutting the server down cancels a running update and waits for it to
// drain before the listener closes.
package api
