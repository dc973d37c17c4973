package collection

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

// Manager owns one collection store per mounted context, enforcing the
// single-context-single-store rule: two views of the same context share
// the same instance and can never mutate the same cached item through
// different stores.
type Manager struct {
	mu          sync.Mutex
	fetcher     Fetcher
	entities    *store.EntityStore
	filters     *store.FilterStore
	stats       *SubItemStore
	notifier    *Notifier
	logger      *log.Logger
	perPage     int
	collections map[string]*Collection
}

// ManagerConfig wires the manager's shared collaborators.
type ManagerConfig struct {
	Fetcher  Fetcher
	Entities *store.EntityStore
	Filters  *store.FilterStore
	Stats    *SubItemStore
	Notifier *Notifier
	Logger   *log.Logger
	PerPage  int
}

// NewManager creates a manager. Entities, Stats and Notifier are
// created when absent so a minimal config still works.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Entities == nil {
		cfg.Entities = store.NewEntityStore()
	}
	if cfg.Stats == nil {
		cfg.Stats = NewSubItemStore(cfg.Fetcher, cfg.Entities)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	return &Manager{
		fetcher:     cfg.Fetcher,
		entities:    cfg.Entities,
		filters:     cfg.Filters,
		stats:       cfg.Stats,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		perPage:     cfg.PerPage,
		collections: map[string]*Collection{},
	}
}

// Collection returns the store for a context, creating it on first
// mount.
func (m *Manager) Collection(desc Descriptor) *Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[desc.Key()]; ok {
		return c
	}
	c := New(Config{
		Descriptor: desc,
		Fetcher:    m.fetcher,
		Entities:   m.entities,
		Filters:    m.filters,
		Stats:      m.stats,
		Notifier:   m.notifier,
		Logger:     m.logger,
		PerPage:    m.perPage,
	})
	m.collections[desc.Key()] = c
	return c
}

// Release tears a context down on unmount, aborting in-flight fetches.
// Entity records stay; they are shared across contexts and live for the
// session.
func (m *Manager) Release(contextKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[contextKey]; ok {
		c.Close()
		delete(m.collections, contextKey)
	}
}

// Entities exposes the shared entity store.
func (m *Manager) Entities() *store.EntityStore { return m.entities }

// Filters exposes the shared filter store.
func (m *Manager) Filters() *store.FilterStore { return m.filters }

// Stats exposes the shared sub-item store.
func (m *Manager) Stats() *SubItemStore { return m.stats }

// Notifier exposes the shared change notifier.
func (m *Manager) Notifier() *Notifier { return m.notifier }
