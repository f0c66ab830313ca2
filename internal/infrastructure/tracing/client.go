package tracing

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
)

// Inject writes the trace and span ids carried by ctx into h.
func Inject(ctx context.Context, h http.Header) {
	if traceID := GetTraceID(ctx); traceID != "" {
		h.Set(TraceHeader, string(traceID))
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		h.Set(SpanHeader, string(spanID))
	}
}

// WithClientTrace returns ctx with an httptrace hook set that records
// connection milestones on span. Hooks already in ctx keep firing.
func WithClientTrace(ctx context.Context, span *Span) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				span.SetTag("conn.reused", "true")
			} else {
				span.SetTag("conn.reused", "false")
			}
			if info.Conn != nil {
				span.SetTag("net.peer", info.Conn.RemoteAddr().String())
			}
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			fields := map[string]interface{}{"addrs": len(info.Addrs)}
			if info.Err != nil {
				fields["error"] = info.Err.Error()
			}
			span.Log("dns done", fields)
		},
		ConnectDone: func(network, addr string, err error) {
			fields := map[string]interface{}{"network": network, "addr": addr}
			if err != nil {
				fields["error"] = err.Error()
			}
			span.Log("connect done", fields)
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			fields := map[string]interface{}{"version": tls.VersionName(state.Version)}
			if err != nil {
				fields["error"] = err.Error()
			}
			span.Log("tls handshake done", fields)
		},
		GotFirstResponseByte: func() {
			span.Log("first byte", nil)
		},
	})
}
