package middleware

import (
	"net/http"

	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// Chain implements ports.MiddlewareChain: an ordered list of named links
// run around a terminal handler. Mirrors the short-circuit-on-first-deny
// discipline of ports.SecurityChain, generalised beyond security checks to
// any request/response link (CORS, compression, auth).
type Chain struct {
	links []ports.Middleware
}

var _ ports.MiddlewareChain = (*Chain)(nil)

func NewChain() *Chain {
	return &Chain{}
}

func (c *Chain) Use(mw ports.Middleware) ports.MiddlewareChain {
	c.links = append(c.links, mw)
	return c
}

// Then wraps final with every registered link, in registration order on
// the request side. If a link returns Respond or Fail, later links'
// OnRequest are skipped and the chain unwinds calling OnResponse only for
// links that already ran, last-registered first (LIFO), same as the
// teacher's logging middleware unwrapping the ResponseWriter it wrapped.
func (c *Chain) Then(final http.Handler) http.Handler {
	links := make([]ports.Middleware, len(c.links))
	copy(links, c.links)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ran []ports.Middleware
		var results []ports.MiddlewareResult

		unwind := func() {
			for i := len(ran) - 1; i >= 0; i-- {
				ran[i].OnResponse(w, r, results[i])
			}
		}

		for _, mw := range links {
			nextReq, result := mw.OnRequest(w, r)
			ran = append(ran, mw)
			results = append(results, result)

			if nextReq != nil {
				r = nextReq
			}

			switch result.Decision {
			case ports.Respond:
				unwind()
				return
			case ports.Fail:
				if result.Err == nil {
					result.Err = http.ErrAbortHandler
				}
				http.Error(w, result.Err.Error(), http.StatusInternalServerError)
				unwind()
				return
			}
		}

		final.ServeHTTP(w, r)
		unwind()
	})
}
