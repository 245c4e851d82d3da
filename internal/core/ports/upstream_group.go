package ports

import "github.com/gantry-proxy/gantry/internal/core/domain"

// UpstreamGroup binds a route's named upstream target to the discovery
// source and load-balancer strategy used to pick among its endpoints
// (spec.md §4.C11). Each group owns an independent DiscoveryService so
// one group's health/membership churn never affects another's.
type UpstreamGroup struct {
	Name      string
	Discovery DiscoveryService
	Selector  domain.EndpointSelector
}

// UpstreamGroupRegistry resolves a domain.Route's UpstreamGroup name to
// the group the engine should dispatch through.
type UpstreamGroupRegistry interface {
	Get(name string) (*UpstreamGroup, bool)
	Register(group *UpstreamGroup)
	Names() []string
}
