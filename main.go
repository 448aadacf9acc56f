// Package main hosts the irwatcher entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server registers companies, triggers scans, and serves snapshots, documents,
//     changes and scheduler state. Health (/healthz, /readyz) and Prometheus (/metrics) endpoints are public;
//     everything under /v1 sits behind the optional API key.
//   - Scan pipeline: internal/orchestrator takes the per-company lock (redis with an in-process fallback),
//     opens one scan run per idempotency window, fetches the page through the SSRF guard and per-domain rate
//     limiter, normalizes it, snapshots it when its hashes move, downloads linked PDFs, extracts financial
//     metrics, grades the change and publishes it.
//   - Dispatcher & queue: manual triggers and scheduler ticks flow through a bounded in-memory queue sized by
//     worker.queue_depth and are fanned out to worker.concurrency workers. Failed scans are dead-lettered.
//   - Persistence: Postgres (migrated with goose) or the in-memory store; raw pages and PDFs go to local disk,
//     GCS, S3 or memory. Change notifications go to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from a file and WEBWATCHER_* env vars; zap provides
//     structured logging; cobra exposes serve, scan, tick and migrate.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml
//   - One-off scans: go run . scan --all, or go run . scan 12 14
//   - Schema: go run . migrate (or set database.auto_migrate)
package main

import (
	"github.com/JakeFAU/realtime-ir-watcher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
