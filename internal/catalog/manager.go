package catalog

import (
	"errors"
	"fmt"
	"sync"

	"soulspot/internal/logger"
)

// ErrUnknownSource is returned when a lookup names a source that was never
// registered.
var ErrUnknownSource = errors.New("unknown source")

// Manager is the registry of configured sources. Sync iterates them in
// registration order; lookups by name serve the API and the enrich flow.
type Manager struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
	logger  *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		sources: make(map[string]Source),
		logger:  log.WithComponent("catalog"),
	}
}

func (m *Manager) Register(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.sources[name]; !exists {
		m.order = append(m.order, name)
	}
	m.sources[name] = source
	m.logger.Info("Registered source", "source", name)
}

func (m *Manager) Get(name string) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return source, nil
}

// Names returns the registered source names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// All returns the registered sources in registration order.
func (m *Manager) All() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make([]Source, 0, len(m.order))
	for _, name := range m.order {
		sources = append(sources, m.sources[name])
	}
	return sources
}
