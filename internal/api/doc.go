// Package api hosts the ops HTTP server shared by every role. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the batch consumer's counters (consume role only).
package api
