/*
Package monitoring provides Prometheus metrics for the transport.

# Overview

Metrics are registered against a caller-supplied prometheus.Registerer so
several clients can live in one process (and in one test binary) without
colliding on the default registry.

# Features

- Call metrics (count by method and status class, latency, body size)
- Error counts by failure kind
- Redirect hops and robots outcomes
- Pool gauges (leased, open) and acquire wait time
- Reaper counts by reason
- Admin endpoint request metrics

A nil *Metrics is valid and records nothing.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	timer := monitoring.NewTimer(metrics, "GET")
	// ... perform call ...
	timer.Stop(200, size)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
