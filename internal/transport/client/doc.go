/*
Package client executes requests through the shared connection pool.

# Overview

A Client ties the transport pieces together for one configuration:

	Builder -> Interceptors -> Pool.Acquire -> resty dispatch
	        -> (redirect.Target -> Policy.Permits -> Policy.Next)* -> Reader.Read -> Release

Each hop acquires its own lease and releases it exactly once, whatever
happens. Redirects are followed by the client itself, never by net/http,
so every hop goes through robot directives, crawl delay and the hop limit.

# Errors

HTTP 4xx and 5xx answers are returned as responses. Only transport
problems are errors, classified by the fault package:

	resp, err := c.Execute(ctx, http.MethodGet, "/v1/orders", nil, nil)
	switch {
	case errors.Is(err, fault.ErrPoolExhausted):
		// back off
	case errors.Is(err, fault.ErrRedirectBlocked):
		// robots disallowed the target or the hop limit was hit
	case err != nil:
		return err
	case resp.IsFailure():
		// business-level error in resp.Content()
	}

# Usage

	p := pool.New(pool.SettingsFrom(cfg.Pool, cfg.Client.AllowUntrustedSSL), logger, metrics)
	_ = p.Start()
	defer p.Shutdown()

	c, err := client.New(client.Options{
		Client:  cfg.Client,
		Robots:  cfg.Robots,
		Breaker: cfg.Breaker,
		Pool:    p,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer, // optional
	})
	if err != nil {
		return err
	}
	defer c.Close()
*/
package client
