// Package api hosts the HTTP server, middleware, and handlers that trigger
// catalog crawls. Notable routes:
//   - GET / for a plain-text liveness check.
//   - GET /crawl?page=N&num_chapters=M to crawl one catalog page.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
