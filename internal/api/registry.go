package api

import (
	"fmt"
	"net/http"
	"sort"
)

// Registry collects endpoints and mounts them on a mux. Each method and path
// pair may be registered once.
type Registry struct {
	endpoints []Endpoint
	patterns  map[string]bool
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[string]bool)}
}

// Register adds an endpoint, rejecting a second endpoint for the same route.
func (r *Registry) Register(ep Endpoint) error {
	method, path, _ := ep.Route()
	pattern := method + " " + path
	if r.patterns[pattern] {
		return fmt.Errorf("duplicate route %q", pattern)
	}
	r.patterns[pattern] = true
	r.endpoints = append(r.endpoints, ep)
	return nil
}

// RegisterAll registers eps in order and stops at the first duplicate.
func (r *Registry) RegisterAll(eps []Endpoint) error {
	for _, ep := range eps {
		if err := r.Register(ep); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRoutes mounts every endpoint on mux. Endpoints that report
// RequiresInit are wrapped with initMiddleware.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() && initMiddleware != nil {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// Endpoints returns the registered endpoints in registration order.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// Patterns returns the sorted "METHOD /path" routes.
func (r *Registry) Patterns() []string {
	out := make([]string, 0, len(r.patterns))
	for p := range r.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
