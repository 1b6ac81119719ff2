// Package api hosts the HTTP server, middleware, and REST handlers for the
// extractor. Notable routes:
//   - POST /extract to submit a documentation site.
//   - GET /status/{id} and /results/{id} to poll a job.
//   - POST /extract/{id}/cancel and DELETE /extract/{id} to stop or forget one.
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus.
package api
