// Package groups implements ports.UpstreamGroupRegistry: the lookup from a
// route's upstream group name to the discovery service and balancer
// strategy serving it (spec.md §4.C11).
package groups

import (
	"sort"

	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry is a concurrency-safe ports.UpstreamGroupRegistry, keyed by
// group name. Grounded on the xsync.Map-backed registries already used
// for endpoint/model lookups in adapter/registry.
type Registry struct {
	groups *xsync.Map[string, *ports.UpstreamGroup]
}

var _ ports.UpstreamGroupRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{groups: xsync.NewMap[string, *ports.UpstreamGroup]()}
}

func (r *Registry) Register(group *ports.UpstreamGroup) {
	r.groups.Store(group.Name, group)
}

func (r *Registry) Get(name string) (*ports.UpstreamGroup, bool) {
	return r.groups.Load(name)
}

func (r *Registry) Names() []string {
	names := make([]string, 0)
	r.groups.Range(func(name string, _ *ports.UpstreamGroup) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
