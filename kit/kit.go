// Package kit holds the transport-agnostic plumbing shared by the HTTP and
// MCP surfaces: the Endpoint abstraction, middleware chaining, and the
// context keys used to carry request metadata across layers.
package kit

import "context"

// Endpoint is a single transport-agnostic operation. HTTP handlers and MCP
// tools both decode into a typed request and delegate to an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middleware left to right: the first argument is the
// outermost wrapper.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}
