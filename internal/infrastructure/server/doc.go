// Package server provides the read-only admin listener.
//
// Routes:
//   - GET /healthz       200 while the pool accepts work, 503 after shutdown
//   - GET /pool          pool occupancy (leased, open, idle, per target)
//   - GET /breakers      per-target circuit breaker states
//   - GET /robots        robots directive cache size
//   - GET /metrics       Prometheus exposition
//   - GET /metrics/json  call counters snapshot
//
// Example Usage:
//
//	srv := server.New(cfg.Admin, server.Deps{Pool: p, Client: c, Metrics: m, Gatherer: reg})
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
