package domain

import (
	"regexp"

	"github.com/tidwall/gjson"
)

// Route binds a request-matching predicate to an upstream group. Routes are
// immutable once published; the router swaps the whole sorted slice under a
// single writer lock to add/remove/modify one (spec.md §5 Route table policy).
type Route struct {
	PathRegex           *regexp.Regexp
	HostRegex           *regexp.Regexp
	HeaderConditions    map[string]*HeaderCondition
	BodyJSONConditions  map[string]*BodyJSONCondition
	Metadata            map[string]string
	ID                  string
	Pattern             string
	HostPattern         string
	UpstreamGroup       string
	Methods             []string
	PathSegments        []string
	Priority            int
	InsertionOrder      int
	Enabled             bool
}

// HeaderCondition is a literal-or-regex constraint evaluated against a
// single lower-cased request header value.
type HeaderCondition struct {
	Regex   *regexp.Regexp
	Literal string
	IsRegex bool
}

func (h *HeaderCondition) Matches(value string) bool {
	if h.IsRegex {
		return h.Regex.MatchString(value)
	}
	return h.Literal == value
}

// BodyJSONCondition is a literal-or-regex constraint evaluated against the
// value gjson extracts from a request body at a given dot-path (e.g.
// "model" or "options.stream"), keyed by that path in Route's
// BodyJSONConditions map. This lets a route condition on a JSON request
// body the way HeaderCondition conditions on a header, for requests that
// route by payload rather than by header or path (spec.md §3/§4.C8
// extended condition type).
type BodyJSONCondition struct {
	Regex   *regexp.Regexp
	Literal string
	IsRegex bool
}

// Matches extracts path from body with gjson and compares its string
// representation against the condition. A path that resolves to nothing
// (missing field, or body isn't valid JSON) never matches.
func (b *BodyJSONCondition) Matches(body []byte, path string) bool {
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return false
	}
	if b.IsRegex {
		return b.Regex.MatchString(result.String())
	}
	return b.Literal == result.String()
}

// RouteMatch is the result of a successful Router.Match call.
type RouteMatch struct {
	Route  *Route
	Params map[string]string
	Score  int
}

// IsLiteralPath reports whether Pattern contains no ":param"/regex markers,
// used by the matcher's informational scoring (spec.md §4.C8).
func (r *Route) IsLiteralPath() bool {
	return r.PathRegex == nil
}

func (r *Route) IsLiteralHost() bool {
	return r.HostPattern != "" && r.HostRegex == nil
}

func (r *Route) HasHostPattern() bool {
	return r.HostPattern != "" || r.HostRegex != nil
}
