// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawl service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to start a crawl, GET /v1/jobs to list jobs.
//   - GET /v1/jobs/{job_id}/status, /pages and /pages/{index} for polling.
//   - DELETE /v1/jobs/{job_id} to stop and forget a job.
package api
