package h2c

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
)

// Wildcard is the StaticEndpoints key used when a service has no entry.
const Wildcard = "*"

// EndpointProvider resolves a fully-qualified gRPC service name
// (e.g. "grpc.health.v1.Health") to the host:port endpoints serving it.
// It must return at least one endpoint or an error, and be safe for
// concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// StaticEndpoints serves a fixed service -> endpoints table. Services with
// no entry fall back to the Wildcard entry.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	s := &StaticEndpoints{data: make(map[string][]string, len(m))}
	for svc, eps := range m {
		s.data[svc] = append([]string(nil), eps...)
	}
	return s
}

// ParseBackends builds a StaticEndpoints from "service=host:port" backends.
// Repeated services accumulate endpoints.
func ParseBackends(backends ...string) (*StaticEndpoints, error) {
	s := NewStaticEndpoints(nil)
	for _, b := range backends {
		svc, ep, ok := strings.Cut(b, "=")
		svc, ep = strings.TrimSpace(svc), strings.TrimSpace(ep)
		if !ok || svc == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, b)
		}
		if _, _, err := net.SplitHostPort(ep); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidBackend, b, err)
		}
		s.data[svc] = append(s.data[svc], ep)
	}
	return s, nil
}

// Set replaces the endpoints of service.
func (s *StaticEndpoints) Set(service string, endpoints ...string) {
	eps := append([]string(nil), endpoints...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[service] = eps
}

// Services lists the configured service names, the wildcard included.
func (s *StaticEndpoints) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for svc := range s.data {
		out = append(out, svc)
	}
	return out
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eps := s.data[service]
	if len(eps) == 0 {
		eps = s.data[Wildcard]
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoints, service)
	}
	return append([]string(nil), eps...), nil
}
