package middleware

import (
	"net/http"

	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// SecurityMiddleware adapts the existing ports.SecurityChain (rate limit +
// size validation, see adapter/security) into a Chain link, so those
// validators run alongside routing, CORS and compression in one ordered
// pipeline instead of the nested func(http.Handler) http.Handler wrapping
// adapter/security/factory.go builds by hand.
type SecurityMiddleware struct {
	chain *ports.SecurityChain
}

func NewSecurityMiddleware(chain *ports.SecurityChain) *SecurityMiddleware {
	return &SecurityMiddleware{chain: chain}
}

func (m *SecurityMiddleware) Name() string { return "security" }

func (m *SecurityMiddleware) OnRequest(w http.ResponseWriter, r *http.Request) (*http.Request, ports.MiddlewareResult) {
	req := ports.SecurityRequest{
		ClientID: r.RemoteAddr,
		Endpoint: r.URL.Path,
		Method:   r.Method,
		BodySize: r.ContentLength,
		Headers:  r.Header,
	}

	result, err := m.chain.Validate(r.Context(), req)
	if err != nil {
		return r, ports.MiddlewareResult{Decision: ports.Fail, Err: err}
	}
	if !result.Allowed {
		http.Error(w, result.Reason, http.StatusTooManyRequests)
		return r, ports.MiddlewareResult{Decision: ports.Respond}
	}
	return r, ports.MiddlewareResult{Decision: ports.Continue}
}

func (m *SecurityMiddleware) OnResponse(http.ResponseWriter, *http.Request, ports.MiddlewareResult) {}
