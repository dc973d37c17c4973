package collection

import (
	"context"
	"sync"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

// SubItemStore tracks parent → children relationships and a per-parent
// distribution of children by state group, used for hierarchical
// roll-ups and progress indicators. Mutations patch exactly the
// affected buckets; only FetchChildren rebuilds a parent wholesale.
type SubItemStore struct {
	mu       sync.Mutex
	fetcher  Fetcher
	entities *store.EntityStore
	children map[string][]string
	dist     map[string]domain.Distribution
}

// NewSubItemStore creates an empty sub-item store.
func NewSubItemStore(fetcher Fetcher, entities *store.EntityStore) *SubItemStore {
	return &SubItemStore{
		fetcher:  fetcher,
		entities: entities,
		children: map[string][]string{},
		dist:     map[string]domain.Distribution{},
	}
}

// FetchChildren loads a parent's children from the retrieval API and
// replaces both the child list and the distribution wholesale.
func (s *SubItemStore) FetchChildren(ctx context.Context, parentID string) ([]domain.Item, error) {
	set, err := s.fetcher.FetchItems(ctx, remote.PageRequest{
		Params:  map[string]string{"parent": parentID},
		PerPage: 100,
	})
	if err != nil {
		return nil, err
	}
	items := set.Items()
	s.entities.UpsertMany(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	dist := domain.NewDistribution()
	for _, it := range items {
		ids = append(ids, it.ID)
		dist.Add(stateBucket(it.StateGroup), it.ID)
	}
	s.children[parentID] = ids
	s.dist[parentID] = dist
	return items, nil
}

// AddChildren registers ids under a parent and files each one into the
// distribution bucket matching its current state.
func (s *SubItemStore) AddChildren(parentID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.addChildLocked(parentID, id)
	}
}

func (s *SubItemStore) addChildLocked(parentID, id string) {
	for _, existing := range s.children[parentID] {
		if existing == id {
			return
		}
	}
	s.children[parentID] = append(s.children[parentID], id)
	d := s.distLocked(parentID)
	group := domain.StateGroupBacklog
	if it, ok := s.entities.Get(id); ok {
		group = stateBucket(it.StateGroup)
	}
	d.Add(group, id)
}

// stateBucket maps a state group to its distribution bucket. Items with
// no state yet count as backlog; every code path filing or moving an id
// must use the same mapping or the conservation invariant breaks.
func stateBucket(g domain.StateGroup) domain.StateGroup {
	if g == "" {
		return domain.StateGroupBacklog
	}
	return g
}

// RemoveChild drops one id from a parent's list and its distribution
// bucket. Unknown pairs no-op.
func (s *SubItemStore) RemoveChild(parentID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeChildLocked(parentID, id)
}

func (s *SubItemStore) removeChildLocked(parentID, id string) {
	bucket := s.children[parentID]
	for i, existing := range bucket {
		if existing != id {
			continue
		}
		s.children[parentID] = append(bucket[:i:i], bucket[i+1:]...)
		break
	}
	if d, ok := s.dist[parentID]; ok {
		for _, g := range domain.StateGroups {
			d.Remove(g, id)
		}
	}
}

// MoveChild transfers one id between parents, keeping both child lists
// and both distributions consistent in a single step.
func (s *SubItemStore) MoveChild(oldParentID, newParentID, id string) {
	if oldParentID == newParentID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeChildLocked(oldParentID, id)
	s.addChildLocked(newParentID, id)
}

// ItemChanged implements StatsObserver: every mutation that changes a
// child's state or parent moves exactly one id between exactly the two
// affected buckets.
func (s *SubItemStore) ItemChanged(before, after *domain.Item) {
	switch {
	case before == nil && after == nil:
		return
	case before == nil:
		if after.ParentID != "" {
			s.AddChildren(after.ParentID, after.ID)
		}
	case after == nil:
		if before.ParentID != "" {
			s.RemoveChild(before.ParentID, before.ID)
		}
	case before.ParentID != after.ParentID:
		if before.ParentID != "" && after.ParentID != "" {
			s.MoveChild(before.ParentID, after.ParentID, after.ID)
		} else if before.ParentID != "" {
			s.RemoveChild(before.ParentID, before.ID)
		} else {
			s.AddChildren(after.ParentID, after.ID)
		}
	case before.StateGroup != after.StateGroup && after.ParentID != "":
		s.mu.Lock()
		if d, ok := s.dist[after.ParentID]; ok {
			d.Move(stateBucket(before.StateGroup), stateBucket(after.StateGroup), after.ID)
		}
		s.mu.Unlock()
	}
}

// Children returns a copy of a parent's child id list.
func (s *SubItemStore) Children(parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.children[parentID]...)
}

// ChildCount is the derived child count kept in sync with every
// structural change.
func (s *SubItemStore) ChildCount(parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children[parentID])
}

// Distribution returns a copy of a parent's state-group breakdown.
func (s *SubItemStore) Distribution(parentID string) domain.Distribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dist[parentID]; ok {
		return d.Clone()
	}
	return domain.NewDistribution()
}

func (s *SubItemStore) distLocked(parentID string) domain.Distribution {
	d, ok := s.dist[parentID]
	if !ok {
		d = domain.NewDistribution()
		s.dist[parentID] = d
	}
	return d
}
