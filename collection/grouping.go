package collection

import (
	"sort"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

// ungroupedKey is the fallback bucket for items with no value on the
// grouping field. A disabled grouping axis uses the empty key instead.
const ungroupedKey = "none"

// bucketKey addresses one ordered id list in the grouped index.
type bucketKey struct {
	Group string
	Sub   string
}

// groupKeys returns the bucket keys an item belongs to along one
// grouping axis. Multi-value fields (assignees) yield several keys; an
// empty axis yields the single empty key.
func groupKeys(it domain.Item, by domain.GroupBy) []string {
	switch by {
	case domain.GroupByNone:
		return []string{""}
	case domain.GroupByState:
		return []string{orNone(it.StateID)}
	case domain.GroupByStateGroup:
		return []string{orNone(string(it.StateGroup))}
	case domain.GroupByPriority:
		return []string{orNone(it.Priority)}
	case domain.GroupByAssignee:
		if len(it.AssigneeIDs) == 0 {
			return []string{ungroupedKey}
		}
		return append([]string(nil), it.AssigneeIDs...)
	case domain.GroupBySprint:
		return []string{orNone(it.SprintID)}
	case domain.GroupByEpic:
		return []string{orNone(it.EpicID)}
	case domain.GroupByParent:
		return []string{orNone(it.ParentID)}
	default:
		return []string{ungroupedKey}
	}
}

func orNone(v string) string {
	if v == "" {
		return ungroupedKey
	}
	return v
}

// bucketsFor computes the full set of buckets an item occupies under
// the current grouping, the cross product of both axes.
func bucketsFor(it domain.Item, groupBy, subGroupBy domain.GroupBy) []bucketKey {
	groups := groupKeys(it, groupBy)
	subs := groupKeys(it, subGroupBy)
	out := make([]bucketKey, 0, len(groups)*len(subs))
	for _, g := range groups {
		for _, s := range subs {
			out = append(out, bucketKey{Group: g, Sub: s})
		}
	}
	return out
}

// lessItems orders two items under the active orderBy key. Ties break
// by sortOrder, then id, so every ordering is total and deterministic.
func lessItems(a, b domain.Item, orderBy domain.OrderBy) bool {
	switch orderBy {
	case domain.OrderByCreatedAt:
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
	case domain.OrderByCreatedAtDesc:
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
	case domain.OrderByUpdatedAt:
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt < b.UpdatedAt
		}
	case domain.OrderByUpdatedAtDesc:
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
	case domain.OrderByPriority:
		ra, rb := domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority)
		if ra != rb {
			return ra < rb
		}
	}
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.ID < b.ID
}

// sortIDs resolves ids against the entity store and re-sorts them under
// orderBy. Ids with no record keep their relative order at the tail.
func (c *Collection) sortIDs(ids []string) []string {
	items := make([]domain.Item, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		it, ok := c.entities.Get(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return lessItems(items[i], items[j], c.orderBy)
	})
	out := make([]string, 0, len(ids))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return append(out, unknown...)
}

// mergeBucket appends incoming ids to a bucket, drops duplicates and
// re-sorts the merged list. One deterministic rule for every merge: the
// full set is always re-sorted, so an id's final position never depends
// on which page it arrived with.
func (c *Collection) mergeBucket(bk bucketKey, ids []string) {
	existing := c.buckets[bk]
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	merged := existing
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	c.buckets[bk] = c.sortIDs(merged)
}

// removeFromBucket deletes one id from a bucket, dropping the bucket
// entirely when it empties.
func (c *Collection) removeFromBucket(bk bucketKey, id string) {
	bucket := c.buckets[bk]
	for i, existing := range bucket {
		if existing != id {
			continue
		}
		bucket = append(bucket[:i:i], bucket[i+1:]...)
		if len(bucket) == 0 {
			delete(c.buckets, bk)
		} else {
			c.buckets[bk] = bucket
		}
		return
	}
}
