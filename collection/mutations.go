package collection

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

// CreateItem optimistically inserts the item into the entity store, the
// grouped index and the aggregates before the network call settles, so
// the UI never blocks. On failure every local effect is undone and the
// error returned. On success the server's canonical record replaces the
// optimistic one, re-keying the index when the server assigned a new id.
func (c *Collection) CreateItem(ctx context.Context, it domain.Item) (domain.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := store.NextTimestamp()
	if it.CreatedAt == 0 {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	c.mu.Lock()
	c.entities.UpsertMany([]domain.Item{it})
	c.applyIndexDeltaLocked(nil, &it)
	c.mu.Unlock()
	c.notify(EventMutated)

	created, err := c.fetcher.CreateItem(ctx, c.desc.ScopeParams(), it)
	if err != nil {
		c.mu.Lock()
		c.applyIndexDeltaLocked(&it, nil)
		c.entities.Remove(it.ID)
		c.mu.Unlock()
		c.notify(EventMutated)
		return domain.Item{}, err
	}

	c.mu.Lock()
	if created.ID != it.ID {
		// Server assigned the real id; drop the optimistic record.
		c.applyIndexDeltaLocked(&it, nil)
		c.entities.Remove(it.ID)
		c.entities.UpsertMany([]domain.Item{created})
		c.applyIndexDeltaLocked(nil, &created)
	} else {
		c.entities.UpsertMany([]domain.Item{created})
		merged, _ := c.entities.Get(created.ID)
		c.applyIndexDeltaLocked(&it, &merged)
	}
	c.mu.Unlock()
	c.notify(EventMutated)
	return created, nil
}

// UpdateItem applies the patch optimistically, moving the id between
// group buckets when the grouped key changed, then confirms with the
// server. A network failure restores the exact pre-mutation snapshot in
// both the entity store and the index and returns the error. When no
// local snapshot exists the store cannot roll back, so it falls back to
// a full refetch of the context rather than failing silently.
func (c *Collection) UpdateItem(ctx context.Context, id string, patch domain.ItemPatch) (domain.Item, error) {
	c.mu.Lock()
	before, ok := c.entities.Patch(id, patch)
	if !ok {
		c.mu.Unlock()
		updated, err := c.fetcher.UpdateItem(ctx, id, patch)
		if err != nil {
			return domain.Item{}, err
		}
		c.logger.WithFields(log.Fields{
			"context": c.desc.Key(),
			"item":    id,
		}).Warn("update without local snapshot; refetching context")
		if ferr := c.FetchFirstPage(ctx, FetchOptions{}); ferr != nil {
			return updated, ferr
		}
		return updated, nil
	}
	after, _ := c.entities.Get(id)
	c.applyIndexDeltaLocked(&before, &after)
	c.mu.Unlock()
	c.notify(EventMutated)

	updated, err := c.fetcher.UpdateItem(ctx, id, patch)
	if err != nil {
		c.mu.Lock()
		current, _ := c.entities.Get(id)
		c.entities.Put(before)
		c.applyIndexDeltaLocked(&current, &before)
		c.mu.Unlock()
		c.notify(EventMutated)
		return domain.Item{}, err
	}

	c.mu.Lock()
	prev, _ := c.entities.Get(id)
	c.entities.UpsertMany([]domain.Item{updated})
	merged, _ := c.entities.Get(id)
	c.applyIndexDeltaLocked(&prev, &merged)
	c.mu.Unlock()
	return updated, nil
}

// ArchiveItem stamps the item archived, removes it from the active
// index optimistically and confirms with the server, adopting the
// server's archive timestamp. Rollback mirrors UpdateItem.
func (c *Collection) ArchiveItem(ctx context.Context, id string) error {
	stamp := store.NextTimestamp()
	patch := domain.ItemPatch{ArchivedAt: &stamp}

	c.mu.Lock()
	before, ok := c.entities.Patch(id, patch)
	if !ok {
		c.mu.Unlock()
		_, err := c.fetcher.ArchiveItem(ctx, id)
		return err
	}
	after, _ := c.entities.Get(id)
	c.applyIndexDeltaLocked(&before, &after)
	c.mu.Unlock()
	c.notify(EventMutated)

	archivedAt, err := c.fetcher.ArchiveItem(ctx, id)
	if err != nil {
		c.mu.Lock()
		current, _ := c.entities.Get(id)
		c.entities.Put(before)
		c.applyIndexDeltaLocked(&current, &before)
		c.mu.Unlock()
		c.notify(EventMutated)
		return err
	}
	if archivedAt != 0 {
		c.mu.Lock()
		c.entities.Patch(id, domain.ItemPatch{ArchivedAt: &archivedAt})
		c.mu.Unlock()
	}
	return nil
}

// RemoveItem deletes the item locally first, then server-side. A
// network failure restores the record and its index membership.
func (c *Collection) RemoveItem(ctx context.Context, id string) error {
	c.mu.Lock()
	before, ok := c.entities.Get(id)
	if ok {
		c.applyIndexDeltaLocked(&before, nil)
		c.entities.Remove(id)
	}
	c.mu.Unlock()
	c.notify(EventMutated)

	if err := c.fetcher.DeleteItem(ctx, id); err != nil {
		if ok {
			c.mu.Lock()
			c.entities.Put(before)
			c.applyIndexDeltaLocked(nil, &before)
			c.mu.Unlock()
			c.notify(EventMutated)
		}
		return err
	}
	return nil
}

// BulkUpdate applies one patch to many items optimistically and settles
// them with a single request. On failure every item is rolled back to
// its own snapshot, in reverse order of application.
func (c *Collection) BulkUpdate(ctx context.Context, ids []string, patch domain.ItemPatch) error {
	type applied struct {
		before domain.Item
		after  domain.Item
	}
	c.mu.Lock()
	snapshots := make([]applied, 0, len(ids))
	for _, id := range ids {
		before, ok := c.entities.Patch(id, patch)
		if !ok {
			continue
		}
		after, _ := c.entities.Get(id)
		c.applyIndexDeltaLocked(&before, &after)
		snapshots = append(snapshots, applied{before: before, after: after})
	}
	c.mu.Unlock()
	c.notify(EventMutated)

	if err := c.fetcher.BulkUpdateItems(ctx, ids, patch); err != nil {
		c.mu.Lock()
		for i := len(snapshots) - 1; i >= 0; i-- {
			s := snapshots[i]
			c.entities.Put(s.before)
			c.applyIndexDeltaLocked(&s.after, &s.before)
		}
		c.mu.Unlock()
		c.notify(EventMutated)
		return err
	}
	return nil
}

// applyIndexDeltaLocked reconciles one item transition against the
// grouped index, the per-group totals and the parent aggregates. It
// touches exactly the buckets the item left and entered, never the rest
// of the index. A nil before means the item entered the context; a nil
// after means it left.
func (c *Collection) applyIndexDeltaLocked(before, after *domain.Item) {
	oldKeys := map[bucketKey]bool{}
	if before != nil && c.admits(*before) {
		for _, bk := range bucketsFor(*before, c.groupBy, c.subGroupBy) {
			oldKeys[bk] = true
		}
	}
	newKeys := map[bucketKey]bool{}
	if after != nil && c.admits(*after) {
		for _, bk := range bucketsFor(*after, c.groupBy, c.subGroupBy) {
			newKeys[bk] = true
		}
	}

	id := ""
	if before != nil {
		id = before.ID
	}
	if after != nil {
		id = after.ID
	}

	for bk := range oldKeys {
		if newKeys[bk] {
			continue
		}
		c.removeFromBucket(bk, id)
		if c.totals[bk.Group] > 0 && !groupStillHas(newKeys, bk.Group) {
			c.totals[bk.Group]--
		}
	}
	entered := map[string]bool{}
	for bk := range newKeys {
		if oldKeys[bk] {
			continue
		}
		c.appendIfAbsentLocked(bk, id)
		c.buckets[bk] = c.sortIDs(c.buckets[bk])
		if !groupStillHas(oldKeys, bk.Group) && !entered[bk.Group] {
			c.totals[bk.Group]++
			entered[bk.Group] = true
		}
	}

	switch {
	case len(oldKeys) == 0 && len(newKeys) > 0:
		c.total++
	case len(oldKeys) > 0 && len(newKeys) == 0 && c.total > 0:
		c.total--
	}

	if c.stats != nil {
		c.stats.ItemChanged(before, after)
	}
}

// groupStillHas reports whether the other key set keeps the item inside
// the same top-level group, in which case the group total is unchanged.
func groupStillHas(other map[bucketKey]bool, group string) bool {
	for bk := range other {
		if bk.Group == group {
			return true
		}
	}
	return false
}
