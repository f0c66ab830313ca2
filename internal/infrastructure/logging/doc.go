// Package logging provides structured logging using uber/zap.
//
// Two encodings are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Transport components take a *Logger and derive named children with
// Named, so every line carries the component that produced it
// ("pool", "robots", "client").
//
// Example Usage:
//
//	logger := logging.FromConfig(cfg.Logging)
//	logger.Info("Pool started", zap.Int("max_total", 200))
//	logger.Warn("Dropping body", zap.String("method", "GET"))
package logging
