package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/constants"
	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// EndpointSummary is the per-endpoint slice of the status response.
// Grounded on the shape the teacher's status endpoint reported, trimmed
// to the fields a generic gateway's operator actually needs.
type EndpointSummary struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	Status              string `json:"status"`
	Priority            int    `json:"priority"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastLatencyMs       int64  `json:"last_latency_ms"`
}

// GroupSummary reports one upstream group's endpoint set.
type GroupSummary struct {
	Name      string            `json:"name"`
	Endpoints []EndpointSummary `json:"endpoints"`
}

// StatusResponse is the top-level /internal/status payload.
type StatusResponse struct {
	Uptime string         `json:"uptime"`
	Groups []GroupSummary `json:"groups"`
	Routes []string       `json:"routes"`
}

func (a *Application) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Uptime: time.Since(a.StartTime).String(),
		Routes: routeDescriptions(a.gateway.RouteTable().Routes()),
	}

	for _, name := range a.gateway.GroupRegistry().Names() {
		group, ok := a.gateway.GroupRegistry().Get(name)
		if !ok {
			continue
		}
		endpoints, err := group.Discovery.GetEndpoints(r.Context())
		if err != nil {
			continue
		}
		resp.Groups = append(resp.Groups, GroupSummary{Name: name, Endpoints: endpointSummaries(endpoints)})
	}

	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *Application) endpointsStatusHandler(w http.ResponseWriter, r *http.Request) {
	groupName := r.URL.Query().Get("group")
	var out []EndpointSummary

	for _, name := range a.gateway.GroupRegistry().Names() {
		if groupName != "" && name != groupName {
			continue
		}
		group, ok := a.gateway.GroupRegistry().Get(name)
		if !ok {
			continue
		}
		endpoints, err := group.Discovery.GetEndpoints(r.Context())
		if err != nil {
			continue
		}
		out = append(out, endpointSummaries(endpoints)...)
	}

	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(out)
}

// auditHandler exposes the auth proxy's bounded audit ring, empty when
// auth gating isn't enabled.
func (a *Application) auditHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(a.gateway.AuthAudit())
}

func endpointSummaries(endpoints []*domain.Endpoint) []EndpointSummary {
	out := make([]EndpointSummary, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, EndpointSummary{
			Name:                e.Name,
			URL:                 e.URLString,
			Status:              e.Status.String(),
			Priority:            e.Priority,
			ConsecutiveFailures: e.ConsecutiveFailures,
			LastLatencyMs:       e.LastLatency.Milliseconds(),
		})
	}
	return out
}

func routeDescriptions(routes []*domain.Route) []string {
	out := make([]string, 0, len(routes))
	for _, rt := range routes {
		out = append(out, rt.ID+" -> "+rt.UpstreamGroup)
	}
	return out
}
