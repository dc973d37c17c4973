package store

import (
	"sync"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

// ArchivedFilter selects which items GetByIDs returns.
type ArchivedFilter int

const (
	// AllItems returns every known item.
	AllItems ArchivedFilter = iota
	// ActiveOnly skips archived items.
	ActiveOnly
	// ArchivedOnly returns only archived items.
	ArchivedOnly
)

// EntityStore is the single source of truth for item records, keyed by
// id and shared across every context. Records are merged in place and
// never duplicate-allocated; all reads return copies.
type EntityStore struct {
	mu    sync.RWMutex
	items map[string]domain.Item
}

// NewEntityStore creates an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{items: make(map[string]domain.Item)}
}

// UpsertMany merges the given records by id. For an existing record the
// incoming non-zero fields win, and updatedAt is stamped with the
// incoming server timestamp when newer, otherwise the process-monotonic
// clock.
func (s *EntityStore) UpsertMany(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range items {
		if in.ID == "" {
			continue
		}
		existing, ok := s.items[in.ID]
		if !ok {
			if in.UpdatedAt == 0 {
				in.UpdatedAt = NextTimestamp()
			}
			s.items[in.ID] = in
			continue
		}
		s.items[in.ID] = mergeItem(existing, in)
	}
}

func mergeItem(existing, in domain.Item) domain.Item {
	out := existing
	if in.ParentID != "" {
		out.ParentID = in.ParentID
	}
	if in.StateID != "" {
		out.StateID = in.StateID
	}
	if in.StateGroup != "" {
		out.StateGroup = in.StateGroup
	}
	if in.Priority != "" {
		out.Priority = in.Priority
	}
	if in.AssigneeIDs != nil {
		out.AssigneeIDs = append([]string(nil), in.AssigneeIDs...)
	}
	if in.SprintID != "" {
		out.SprintID = in.SprintID
	}
	if in.EpicID != "" {
		out.EpicID = in.EpicID
	}
	if in.SortOrder != 0 {
		out.SortOrder = in.SortOrder
	}
	if in.CreatedAt != 0 {
		out.CreatedAt = in.CreatedAt
	}
	out.ArchivedAt = in.ArchivedAt
	if in.UpdatedAt > existing.UpdatedAt {
		out.UpdatedAt = in.UpdatedAt
	} else {
		out.UpdatedAt = NextTimestamp()
	}
	return out
}

// Get returns a copy of the record for id.
func (s *EntityStore) Get(id string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if ok {
		it.AssigneeIDs = append([]string(nil), it.AssigneeIDs...)
	}
	return it, ok
}

// GetByIDs resolves ids to item copies, skipping unknown ids and
// applying the archived filter. Order follows the input ids.
func (s *EntityStore) GetByIDs(ids []string, filter ArchivedFilter) []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		switch filter {
		case ActiveOnly:
			if it.Archived() {
				continue
			}
		case ArchivedOnly:
			if !it.Archived() {
				continue
			}
		}
		it.AssigneeIDs = append([]string(nil), it.AssigneeIDs...)
		out = append(out, it)
	}
	return out
}

// Put replaces the record wholesale. Used by rollback paths that must
// restore an exact pre-mutation snapshot.
func (s *EntityStore) Put(it domain.Item) {
	if it.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// Patch applies a partial update and returns the pre-mutation snapshot.
// Unknown ids no-op and report ok=false.
func (s *EntityStore) Patch(id string, p domain.ItemPatch) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[id]
	if !ok {
		return domain.Item{}, false
	}
	updated := p.Apply(existing)
	updated.UpdatedAt = NextTimestamp()
	s.items[id] = updated
	return existing, true
}

// Remove deletes the record. Unknown ids no-op.
func (s *EntityStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Len reports the number of records held.
func (s *EntityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
