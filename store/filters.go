package store

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
)

// FilterAPI is the remote half of filter persistence.
type FilterAPI interface {
	FetchFilters(ctx context.Context, contextKey string) (domain.FilterDocument, error)
	PatchFilters(ctx context.Context, contextKey, section string, payload []byte) error
}

// DefaultGroupBy picks the kanban fallback grouping for a context key.
// Work-item lists group by state; per-person views group by priority.
type DefaultGroupBy func(contextKey string) domain.GroupBy

// FilterStore holds the active filter state for every context,
// lazily loaded local-first from the Redis cache with the remote filter
// API as fallback. Mutations take effect in memory immediately and are
// persisted through the write-behind worker; persistence failures never
// undo what the user already sees.
type FilterStore struct {
	mu       sync.Mutex
	api      FilterAPI
	cache    *FilterCache
	persist  *PersistWorker
	logger   *log.Logger
	defaults DefaultGroupBy
	contexts map[string]*domain.ContextFilters
}

// NewFilterStore creates the store. cache and persist may be nil; the
// store then keeps state in memory only.
func NewFilterStore(api FilterAPI, cache *FilterCache, persist *PersistWorker, defaults DefaultGroupBy, logger *log.Logger) *FilterStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if defaults == nil {
		defaults = func(string) domain.GroupBy { return domain.GroupByState }
	}
	return &FilterStore{
		api:      api,
		cache:    cache,
		persist:  persist,
		logger:   logger,
		defaults: defaults,
		contexts: make(map[string]*domain.ContextFilters),
	}
}

func defaultContextFilters() domain.ContextFilters {
	return domain.ContextFilters{
		Display: domain.DisplayFilters{
			Layout:  domain.LayoutList,
			OrderBy: domain.OrderBySortOrder,
		},
		Properties: domain.DisplayProperties{
			Assignee: true,
			Priority: true,
			State:    true,
			DueDate:  true,
		},
	}
}

// Fetch loads the persisted filter state for a context, local cache
// first, then the remote API. A remote 404 means the context has no
// saved filters yet and resolves to defaults without error. Any other
// remote failure also resolves to defaults; the user can still work,
// the miss is logged.
func (s *FilterStore) Fetch(ctx context.Context, contextKey string) (domain.ContextFilters, error) {
	s.mu.Lock()
	if cf, ok := s.contexts[contextKey]; ok {
		out := *cf
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	doc, cached := s.cache.Get(ctx, contextKey)
	if !cached && s.api != nil {
		var err error
		doc, err = s.api.FetchFilters(ctx, contextKey)
		switch {
		case err == nil:
			s.cache.Set(ctx, contextKey, doc)
		case remote.IsNotFound(err):
			doc = domain.FilterDocument{}
		default:
			s.logger.WithError(err).WithField("context", contextKey).
				Warn("filter fetch failed; applying defaults")
			doc = domain.FilterDocument{}
		}
	}

	cf := s.resolve(contextKey, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.contexts[contextKey]; ok {
		return *existing, nil
	}
	s.contexts[contextKey] = &cf
	return cf, nil
}

func (s *FilterStore) resolve(contextKey string, doc domain.FilterDocument) domain.ContextFilters {
	cf := defaultContextFilters()
	if doc.RichFilters != nil {
		cf.Rich = *doc.RichFilters
	}
	if doc.DisplayFilters != nil {
		cf.Display = *doc.DisplayFilters
	}
	if doc.DisplayProperties != nil {
		cf.Properties = *doc.DisplayProperties
	}
	if doc.KanbanFilters != nil {
		cf.Kanban = *doc.KanbanFilters
	}
	cf.Display = cf.Display.Normalize(s.defaults(contextKey))
	return cf
}

// Applied returns the current in-memory filter state, materializing
// defaults for contexts that were never fetched.
func (s *FilterStore) Applied(contextKey string) domain.ContextFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.loadLocked(contextKey)
}

func (s *FilterStore) loadLocked(contextKey string) *domain.ContextFilters {
	cf, ok := s.contexts[contextKey]
	if !ok {
		fresh := defaultContextFilters()
		fresh.Display = fresh.Display.Normalize(s.defaults(contextKey))
		cf = &fresh
		s.contexts[contextKey] = cf
	}
	return cf
}

// UpdateDisplayFilters merges the patch, re-normalizes the grouping
// invariants and reports whether the caller must refetch from the
// server (grouping/ordering changed) as opposed to re-grouping the
// already loaded data client-side.
func (s *FilterStore) UpdateDisplayFilters(ctx context.Context, contextKey string, patch domain.DisplayFiltersPatch) (bool, error) {
	s.mu.Lock()
	cf := s.loadLocked(contextKey)
	before := cf.Display
	after := patch.Apply(before).Normalize(s.defaults(contextKey))
	cf.Display = after
	snapshot := *cf
	s.mu.Unlock()

	err := s.persistSection(ctx, contextKey, domain.SectionDisplayFilters, after, snapshot)
	return displayRefetchRequired(before, after), err
}

func displayRefetchRequired(before, after domain.DisplayFilters) bool {
	return before.GroupBy != after.GroupBy ||
		before.SubGroupBy != after.SubGroupBy ||
		before.OrderBy != after.OrderBy ||
		before.ShowSubItems != after.ShowSubItems
}

// UpdateRichFilters replaces the rich filter expression. Rich filters
// always narrow the server-side result set, so the caller must refetch.
func (s *FilterStore) UpdateRichFilters(ctx context.Context, contextKey string, rich domain.RichFilter) (bool, error) {
	s.mu.Lock()
	cf := s.loadLocked(contextKey)
	cf.Rich = rich
	snapshot := *cf
	s.mu.Unlock()

	err := s.persistSection(ctx, contextKey, domain.SectionRichFilters, rich, snapshot)
	return true, err
}

// UpdateDisplayProperties replaces the rendered-fields record. Display
// properties never require new data.
func (s *FilterStore) UpdateDisplayProperties(ctx context.Context, contextKey string, props domain.DisplayProperties) error {
	s.mu.Lock()
	cf := s.loadLocked(contextKey)
	cf.Properties = props
	snapshot := *cf
	s.mu.Unlock()

	return s.persistSection(ctx, contextKey, domain.SectionDisplayProperties, props, snapshot)
}

// UpdateKanbanFilters replaces the board-only toggles.
func (s *FilterStore) UpdateKanbanFilters(ctx context.Context, contextKey string, kf domain.KanbanFilters) error {
	s.mu.Lock()
	cf := s.loadLocked(contextKey)
	cf.Kanban = kf
	snapshot := *cf
	s.mu.Unlock()

	return s.persistSection(ctx, contextKey, domain.SectionKanbanFilters, kf, snapshot)
}

// persistSection refreshes the local cache with the full document and
// hands the remote patch to the write-behind pool. When the pool is
// saturated the patch runs inline; an inline failure is returned as a
// warning-grade error, the in-memory state stands either way.
func (s *FilterStore) persistSection(ctx context.Context, contextKey, section string, payload any, snapshot domain.ContextFilters) error {
	s.cache.Set(ctx, contextKey, documentOf(snapshot))

	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	if s.persist != nil {
		if s.persist.Enqueue(contextKey, section, data) {
			return nil
		}
		s.logger.WithField("context", contextKey).Warn("persist buffer saturated; patching inline")
	}
	if s.api == nil {
		return nil
	}
	if err := s.api.PatchFilters(ctx, contextKey, section, data); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"context": contextKey,
			"section": section,
		}).Warn("filter persistence failed; in-memory state retained")
		return err
	}
	return nil
}

func documentOf(cf domain.ContextFilters) domain.FilterDocument {
	rich := cf.Rich
	display := cf.Display
	props := cf.Properties
	kanban := cf.Kanban
	return domain.FilterDocument{
		RichFilters:       &rich,
		DisplayFilters:    &display,
		DisplayProperties: &props,
		KanbanFilters:     &kanban,
	}
}

// Forget drops the in-memory state for a context. The next Fetch
// reloads it from the caches.
func (s *FilterStore) Forget(contextKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextKey)
}
