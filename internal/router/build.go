package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// regexPatternPrefix marks a RouteConfig.PathPattern/HostPattern as a
// regular expression rather than a glob: "re:^/v1/(?P<model>[^/]+)$".
const regexPatternPrefix = "re:"

// BuildRoute compiles one config.RouteConfig into a domain.Route, resolving
// glob patterns via util/pattern and "re:"-prefixed patterns via regexp so
// the matcher can capture named path/host params (spec.md §4.C8).
func BuildRoute(cfg config.RouteConfig, insertionOrder int) (*domain.Route, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("router: route config missing an id")
	}
	if cfg.UpstreamGroup == "" {
		return nil, fmt.Errorf("router: route %q missing an upstream_group", cfg.ID)
	}

	route := &domain.Route{
		ID:             cfg.ID,
		Pattern:        cfg.PathPattern,
		HostPattern:    cfg.HostPattern,
		UpstreamGroup:  cfg.UpstreamGroup,
		Methods:        cfg.Methods,
		Priority:       cfg.Priority,
		InsertionOrder: insertionOrder,
		Enabled:        cfg.Enabled,
		Metadata:       map[string]string{"kind": routeKind(cfg.Kind)},
	}

	if strings.HasPrefix(cfg.PathPattern, regexPatternPrefix) {
		re, err := regexp.Compile(strings.TrimPrefix(cfg.PathPattern, regexPatternPrefix))
		if err != nil {
			return nil, fmt.Errorf("router: route %q has an invalid path regex: %w", cfg.ID, err)
		}
		route.PathRegex = re
	} else {
		route.PathSegments = splitSegments(cfg.PathPattern)
	}

	if strings.HasPrefix(cfg.HostPattern, regexPatternPrefix) {
		re, err := regexp.Compile(strings.TrimPrefix(cfg.HostPattern, regexPatternPrefix))
		if err != nil {
			return nil, fmt.Errorf("router: route %q has an invalid host regex: %w", cfg.ID, err)
		}
		route.HostRegex = re
	}

	if len(cfg.Headers) > 0 {
		route.HeaderConditions = make(map[string]*domain.HeaderCondition, len(cfg.Headers))
		for _, h := range cfg.Headers {
			cond := &domain.HeaderCondition{Literal: h.Literal}
			if h.Regex != "" {
				re, err := regexp.Compile(h.Regex)
				if err != nil {
					return nil, fmt.Errorf("router: route %q header %q has an invalid regex: %w", cfg.ID, h.Name, err)
				}
				cond.Regex = re
				cond.IsRegex = true
			}
			route.HeaderConditions[h.Name] = cond
		}
	}

	if len(cfg.BodyJSON) > 0 {
		route.BodyJSONConditions = make(map[string]*domain.BodyJSONCondition, len(cfg.BodyJSON))
		for _, b := range cfg.BodyJSON {
			if b.Path == "" {
				return nil, fmt.Errorf("router: route %q has a body_json condition missing a path", cfg.ID)
			}
			cond := &domain.BodyJSONCondition{Literal: b.Literal}
			if b.Regex != "" {
				re, err := regexp.Compile(b.Regex)
				if err != nil {
					return nil, fmt.Errorf("router: route %q body_json %q has an invalid regex: %w", cfg.ID, b.Path, err)
				}
				cond.Regex = re
				cond.IsRegex = true
			}
			route.BodyJSONConditions[b.Path] = cond
		}
	}

	return route, nil
}

// routeKind normalises an empty Kind to the default reverse-proxy shape.
func routeKind(kind string) string {
	if kind == "" {
		return "reverse"
	}
	return kind
}

func splitSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
