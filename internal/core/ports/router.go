package ports

import (
	"net/http"

	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// Router matches an inbound request to the highest-priority enabled Route
// whose path, host, method and header conditions all agree (spec.md
// §4.C8). Match returns ok=false when nothing matches, in which case the
// caller should respond 404.
type Router interface {
	Match(r *http.Request) (match domain.RouteMatch, ok bool)
	Routes() []*domain.Route
}

// RouteTable is the mutable side Router reads from: routes are published
// as a whole, pre-sorted slice swapped atomically so concurrent Match
// calls never observe a partial update.
type RouteTable interface {
	Router
	Add(route *domain.Route) error
	Remove(id string) error
	Replace(routes []*domain.Route) error
}
