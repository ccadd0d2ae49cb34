package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrServiceNotFound is returned when calling a name nobody registered.
var ErrServiceNotFound = errors.New("service not found")

// ServiceHandler runs a named operation and returns a JSON friendly result.
type ServiceHandler func(ctx context.Context) (interface{}, error)

// Services is the registry of named operations exposed to operators.
type Services struct {
	mu       sync.RWMutex
	handlers map[string]ServiceHandler
}

// NewServices returns an empty registry.
func NewServices() *Services {
	return &Services{handlers: make(map[string]ServiceHandler)}
}

func serviceKey(domain, name string) string {
	return domain + "." + name
}

// Register adds or replaces domain.name.
func (s *Services) Register(domain, name string, h ServiceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[serviceKey(domain, name)] = h
}

// Remove deletes domain.name if present.
func (s *Services) Remove(domain, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, serviceKey(domain, name))
}

// Call runs domain.name.
func (s *Services) Call(ctx context.Context, domain, name string) (interface{}, error) {
	s.mu.RLock()
	h, ok := s.handlers[serviceKey(domain, name)]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrServiceNotFound, serviceKey(domain, name))
	}
	return h(ctx)
}

// Names lists registered operations as domain.name, sorted.
func (s *Services) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
