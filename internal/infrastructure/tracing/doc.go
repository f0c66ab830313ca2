/*
Package tracing provides lightweight spans for outbound calls and the admin listener.

# Overview

A Send on the transport client opens one span for the whole call and a
child span per hop. Hop spans pick up connection milestones (dns, connect,
tls, first byte) from net/http/httptrace, and the trace and span ids are
propagated to the remote side in request headers. Finished spans are
logged by a background collector.

# Usage

	tracer := tracing.New("marketwire", logger)
	defer tracer.Close()

	// Admin listener
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "sync-listings")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("seller", sellerID)
	span.Log("page fetched", map[string]interface{}{"page": n})

# Trace Format

Traces use HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

- Buffered span collection (1000 spans), dropped with a warning when full
- Async span processing
- A nil *Tracer is valid and exports nothing
*/
package tracing
