// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/companies for the monitored company registry and its snapshots and documents.
//   - /v1/monitor for manual triggers, synchronous runs and scan status.
//   - /v1/changes for the change audit trail and snapshot comparison.
package api
