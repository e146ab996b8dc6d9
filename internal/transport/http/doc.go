// Package http serves the optional status surface of a harvest run.
//
// Routes:
//
//	GET /healthz  liveness and build version
//	GET /metrics  Prometheus exposition of the pipeline metrics
//	GET /status   snapshot of the current or most recent run
//
// /status answers 404 with an APIError until the first run starts.
package http
