package services

import (
	"fmt"
)

// ServiceRegistry facilitates runtime service discovery and dependency injection
// after the registration phase completes.
type ServiceRegistry struct {
	services map[string]ManagedService
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]ManagedService),
	}
}

func (r *ServiceRegistry) Register(name string, service ManagedService) {
	r.services[name] = service
}

func (r *ServiceRegistry) Get(name string) (ManagedService, error) {
	service, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s not found", name)
	}
	return service, nil
}

func (r *ServiceRegistry) GetStats() (*StatsService, error) {
	service, err := r.Get("stats")
	if err != nil {
		return nil, err
	}
	stats, ok := service.(*StatsService)
	if !ok {
		return nil, fmt.Errorf("service stats is not a StatsService")
	}
	return stats, nil
}

func (r *ServiceRegistry) GetSecurity() (*SecurityService, error) {
	service, err := r.Get("security")
	if err != nil {
		return nil, err
	}
	security, ok := service.(*SecurityService)
	if !ok {
		return nil, fmt.Errorf("service security is not a SecurityService")
	}
	return security, nil
}

func (r *ServiceRegistry) GetGateway() (*GatewayService, error) {
	service, err := r.Get("gateway")
	if err != nil {
		return nil, err
	}
	gateway, ok := service.(*GatewayService)
	if !ok {
		return nil, fmt.Errorf("service gateway is not a GatewayService")
	}
	return gateway, nil
}

func (r *ServiceRegistry) GetHTTP() (*HTTPService, error) {
	service, err := r.Get("http")
	if err != nil {
		return nil, err
	}
	http, ok := service.(*HTTPService)
	if !ok {
		return nil, fmt.Errorf("service http is not a HTTPService")
	}
	return http, nil
}
