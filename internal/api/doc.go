// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /links, POST /links, PATCH /links/{id}, DELETE /links/{id} for the registry.
//   - POST /links/{id}/check to run a check and GET /links/{id}/history for snapshots.
//   - GET /health for the dependency report.
//   - GET /metrics for Prometheus scraping.
package api
