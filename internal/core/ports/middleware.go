package ports

import (
	"net/http"
)

// MiddlewareDecision is the three-way outcome of one chain link
// (spec.md §4.C9): Continue hands off to the next link, Respond ends the
// chain having already written a response, Fail ends the chain with an
// error the caller turns into an error response.
type MiddlewareDecision int

const (
	Continue MiddlewareDecision = iota
	Respond
	Fail
)

// MiddlewareResult is returned by both the request and response phases of
// a Middleware.
type MiddlewareResult struct {
	Err      error
	Decision MiddlewareDecision
}

// Middleware is one named link in the request/response pipeline. OnRequest
// runs before the proxy call; OnResponse runs after, even when OnRequest
// short-circuited with Respond/Fail further down the chain is skipped but
// already-run OnRequest links still get their matching OnResponse call
// (LIFO), mirroring how the teacher's logging middleware wraps a
// ResponseWriter around the whole call.
type Middleware interface {
	Name() string
	OnRequest(w http.ResponseWriter, r *http.Request) (*http.Request, MiddlewareResult)
	OnResponse(w http.ResponseWriter, r *http.Request, result MiddlewareResult)
}

// MiddlewareChain runs an ordered list of Middleware around a terminal
// http.Handler.
type MiddlewareChain interface {
	Use(mw Middleware) MiddlewareChain
	Then(final http.Handler) http.Handler
}
