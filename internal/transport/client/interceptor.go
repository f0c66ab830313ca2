package client

import (
	"github.com/GriffinCanCode/marketwire/internal/shared/id"
	"github.com/GriffinCanCode/marketwire/internal/transport/request"
)

// RequestIDHeader carries the call's request id.
const RequestIDHeader = "X-Request-Id"

// Interceptor transforms an outgoing request before its first dispatch.
// It receives a private copy and returns the request to send.
type Interceptor func(*request.Outgoing) *request.Outgoing

// UserAgent sets the User-Agent header.
func UserAgent(agent string) Interceptor {
	return func(out *request.Outgoing) *request.Outgoing {
		if agent != "" {
			out.Header.Set("User-Agent", agent)
		}
		return out
	}
}

// RequestID stamps a fresh request id unless the caller supplied one.
func RequestID(gen *id.Generator) Interceptor {
	return func(out *request.Outgoing) *request.Outgoing {
		if out.Header.Get(RequestIDHeader) == "" {
			out.Header.Set(RequestIDHeader, gen.GenerateWithPrefix(id.RequestPrefix))
		}
		return out
	}
}

func intercept(out *request.Outgoing, chain []Interceptor) *request.Outgoing {
	for _, fn := range chain {
		if next := fn(out); next != nil {
			out = next
		}
	}
	return out
}
