// Package router implements the request-matching route table (spec.md
// §4.C8): an ordered set of Routes, each binding a path/host/method/header
// predicate to an upstream group, matched highest-priority-first.
package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/util/pattern"
)

// maxMatchBodyBytes caps how much of a request body the matcher will
// buffer in memory to evaluate a BodyJSONConditions predicate.
const maxMatchBodyBytes = 1 << 20

// Table is a concurrency-safe ports.RouteTable: the whole sorted route
// slice is swapped atomically so Match never observes a half-applied
// Add/Remove, mirroring the registry's "publish the whole set" style.
type Table struct {
	routes atomic.Pointer[[]*domain.Route]
}

var _ ports.RouteTable = (*Table)(nil)

func NewTable() *Table {
	t := &Table{}
	empty := make([]*domain.Route, 0)
	t.routes.Store(&empty)
	return t
}

// Add inserts route, re-sorting the published slice by (Priority desc,
// InsertionOrder asc) so the earliest-declared route wins ties; path
// segment count plays no part in the order.
func (t *Table) Add(route *domain.Route) error {
	if route.ID == "" {
		return fmt.Errorf("router: route must have an ID")
	}
	current := *t.routes.Load()
	next := make([]*domain.Route, 0, len(current)+1)
	for _, r := range current {
		if r.ID == route.ID {
			return fmt.Errorf("router: route ID %q already registered", route.ID)
		}
		next = append(next, r)
	}
	next = append(next, route)
	sortRoutes(next)
	t.routes.Store(&next)
	return nil
}

func (t *Table) Remove(id string) error {
	current := *t.routes.Load()
	next := make([]*domain.Route, 0, len(current))
	found := false
	for _, r := range current {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if !found {
		return fmt.Errorf("router: no route with ID %q", id)
	}
	t.routes.Store(&next)
	return nil
}

// Replace swaps the entire route set, used when reloading configuration.
func (t *Table) Replace(routes []*domain.Route) error {
	next := make([]*domain.Route, len(routes))
	copy(next, routes)
	sortRoutes(next)
	t.routes.Store(&next)
	return nil
}

func (t *Table) Routes() []*domain.Route {
	current := *t.routes.Load()
	out := make([]*domain.Route, len(current))
	copy(out, current)
	return out
}

// sortRoutes orders highest-priority first; among equal priority, the
// earliest-registered route wins ties (stable declaration order), with
// no intermediate specificity key.
func sortRoutes(routes []*domain.Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Priority != routes[j].Priority {
			return routes[i].Priority > routes[j].Priority
		}
		return routes[i].InsertionOrder < routes[j].InsertionOrder
	})
}

// Match walks the published route set in priority order and returns the
// first enabled route whose method, host, path, header and body-JSON
// conditions all agree with r. The request body is only read, buffered
// and restored onto r.Body if some candidate route declares a
// BodyJSONConditions predicate; routes with none never pay that cost.
func (t *Table) Match(r *http.Request) (domain.RouteMatch, bool) {
	current := *t.routes.Load()
	var body []byte
	bodyRead := false
	for _, route := range current {
		if !route.Enabled {
			continue
		}
		if !methodMatches(route, r.Method) {
			continue
		}
		if !hostMatches(route, r.Host) {
			continue
		}
		params, ok := pathMatches(route, r.URL.Path)
		if !ok {
			continue
		}
		if !headersMatch(route, r) {
			continue
		}
		if len(route.BodyJSONConditions) > 0 {
			if !bodyRead {
				body = bufferBody(r)
				bodyRead = true
			}
			if !bodyJSONMatches(route, body) {
				continue
			}
		}
		return domain.RouteMatch{Route: route, Params: params, Score: route.Priority}, true
	}
	return domain.RouteMatch{}, false
}

// bufferBody drains r.Body (capped at maxMatchBodyBytes so a condition
// predicate can never be used to force unbounded buffering) and replaces
// it with a fresh reader over the same bytes so downstream handlers -
// the proxy engine, middleware - still see the full, unconsumed body.
func bufferBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r.Body, maxMatchBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data
}

func bodyJSONMatches(route *domain.Route, body []byte) bool {
	for path, cond := range route.BodyJSONConditions {
		if !cond.Matches(body, path) {
			return false
		}
	}
	return true
}

func methodMatches(route *domain.Route, method string) bool {
	if len(route.Methods) == 0 {
		return true
	}
	for _, m := range route.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func hostMatches(route *domain.Route, host string) bool {
	if !route.HasHostPattern() {
		return true
	}
	host = stripPort(host)
	if route.HostRegex != nil {
		return route.HostRegex.MatchString(host)
	}
	return pattern.MatchesGlob(host, route.HostPattern)
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}

// pathMatches reports whether path satisfies route's pattern, returning
// any named capture groups from a regex route as params.
func pathMatches(route *domain.Route, path string) (map[string]string, bool) {
	if route.PathRegex != nil {
		match := route.PathRegex.FindStringSubmatch(path)
		if match == nil {
			return nil, false
		}
		params := make(map[string]string)
		for i, name := range route.PathRegex.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			params[name] = match[i]
		}
		return params, true
	}
	return nil, pattern.MatchesGlob(path, route.Pattern)
}

func headersMatch(route *domain.Route, r *http.Request) bool {
	for name, cond := range route.HeaderConditions {
		if !cond.Matches(r.Header.Get(name)) {
			return false
		}
	}
	return true
}
