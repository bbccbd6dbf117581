// Package middleware provides the request-lifecycle middleware stack:
// proxy unwrapping, forced HTTPS, method override, correlation ids, and
// the ordered before/after hook chain around handler invocation.
package middleware

import (
	"net/http"
)

// BeforeHook runs before the handler. Returning a non-nil request
// replaces the request for the rest of the chain. Returning stop=true
// means the hook produced the response itself; remaining before hooks
// and the handler are skipped, but after hooks still observe the
// short-circuit response.
type BeforeHook func(w http.ResponseWriter, r *http.Request) (next *http.Request, stop bool)

// AfterHook runs after the handler (or a short-circuiting before hook)
// with the observed response status.
type AfterHook func(status int, r *http.Request)

type namedBefore struct {
	name string
	fn   BeforeHook
}

type namedAfter struct {
	name string
	fn   AfterHook
}

// Chain composes before and after hooks around a handler. Hooks of the
// same phase execute in registration order; the order between phases is
// fixed: befores, handler, afters.
type Chain struct {
	before []namedBefore
	after  []namedAfter
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Before registers a named before hook.
func (c *Chain) Before(name string, fn BeforeHook) *Chain {
	c.before = append(c.before, namedBefore{name: name, fn: fn})
	return c
}

// After registers a named after hook.
func (c *Chain) After(name string, fn AfterHook) *Chain {
	c.after = append(c.after, namedAfter{name: name, fn: fn})
	return c
}

// Then wraps handler with the registered hooks.
func (c *Chain) Then(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := newStatusWriter(w)

		stopped := false
		for _, hook := range c.before {
			next, stop := hook.fn(sw, r)
			if next != nil {
				r = next
			}
			if stop {
				stopped = true
				break
			}
		}

		if !stopped {
			handler.ServeHTTP(sw, r)
		}

		for _, hook := range c.after {
			hook.fn(sw.Status(), r)
		}
	})
}

// Wrap adapts a plain func(http.Handler) http.Handler stack applied
// outside the hook chain, innermost first.
func Wrap(handler http.Handler, outer ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range outer {
		handler = mw(handler)
	}
	return handler
}
