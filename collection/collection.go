package collection

import (
	"context"
	"errors"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

type cursorState struct {
	Next    string
	HasNext bool
	PerPage int
}

// Collection is the per-context state machine: it orchestrates the
// paginated fetch, owns the grouped-id index and per-group cursors, and
// keeps the index, the entity store and the parent aggregates
// consistent through optimistic mutations. One instance exists per
// mounted context; starting a new initial fetch cancels the previous
// one so the displayed page always matches the most recent filter
// state.
type Collection struct {
	mu       sync.Mutex
	desc     Descriptor
	fetcher  Fetcher
	entities *store.EntityStore
	filters  *store.FilterStore
	stats    StatsObserver
	notifier *Notifier
	logger   *log.Logger
	perPage  int

	state      State
	lastErr    error
	groupBy    domain.GroupBy
	subGroupBy domain.GroupBy
	orderBy    domain.OrderBy
	grouped    bool // server returned the grouped shape
	buckets    map[bucketKey][]string
	cursors    map[bucketKey]cursorState
	loading    map[bucketKey]bool
	totals     map[string]int
	total      int

	gen    int
	cancel context.CancelFunc
}

// Config wires a collection's collaborators.
type Config struct {
	Descriptor Descriptor
	Fetcher    Fetcher
	Entities   *store.EntityStore
	Filters    *store.FilterStore
	Stats      StatsObserver
	Notifier   *Notifier
	Logger     *log.Logger
	PerPage    int
}

// New creates an idle collection store for one context.
func New(cfg Config) *Collection {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	return &Collection{
		desc:     cfg.Descriptor,
		fetcher:  cfg.Fetcher,
		entities: cfg.Entities,
		filters:  cfg.Filters,
		stats:    cfg.Stats,
		notifier: cfg.Notifier,
		logger:   logger,
		perPage:  perPage,
		buckets:  map[bucketKey][]string{},
		cursors:  map[bucketKey]cursorState{},
		loading:  map[bucketKey]bool{},
		totals:   map[string]int{},
	}
}

// FetchOptions tune an initial fetch.
type FetchOptions struct {
	// PerPage overrides the configured page size for this context.
	PerPage int
	// Preserve keeps the existing index and cursors, used when the same
	// pagination options are re-applied after an orthogonal filter
	// change that needs no new data.
	Preserve bool
}

// FetchFirstPage (re)loads the context from page one. It discards the
// grouped index and every stored cursor (unless Preserve), cancels any
// still-pending initial fetch for this context and rebuilds the index
// from the response. On failure the index is left empty and the store
// transitions to the error state; the error is returned for the UI to
// offer a retry.
func (c *Collection) FetchFirstPage(ctx context.Context, opts FetchOptions) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen

	applied := c.filters.Applied(c.desc.Key())
	c.groupBy = applied.Display.GroupBy
	c.subGroupBy = applied.Display.SubGroupBy
	c.orderBy = applied.Display.OrderBy
	perPage := c.perPage
	if opts.PerPage > 0 {
		perPage = opts.PerPage
	}
	if !opts.Preserve {
		c.buckets = map[bucketKey][]string{}
		c.cursors = map[bucketKey]cursorState{}
		c.loading = map[bucketKey]bool{}
		c.totals = map[string]int{}
	}
	c.state = StateLoading
	req := remote.PageRequest{
		Params:  c.desc.FilterParams(applied),
		GroupBy: c.groupBy,
		PerPage: perPage,
	}
	c.mu.Unlock()

	set, err := c.fetcher.FetchItems(fctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// A newer fetch superseded this one; its response is stale and
		// must not clobber the index (last-request-wins).
		if err != nil {
			return err
		}
		return context.Canceled
	}
	if err != nil {
		c.buckets = map[bucketKey][]string{}
		c.cursors = map[bucketKey]cursorState{}
		c.state = StateError
		c.lastErr = err
		return err
	}

	c.entities.UpsertMany(set.Items())
	c.grouped = set.Grouped
	c.total = set.Total
	for key, page := range set.Groups {
		for _, it := range page.Results {
			c.indexItemLocked(it, key, set.Grouped)
		}
		var bk bucketKey
		if set.Grouped {
			bk = bucketKey{Group: key}
			c.totals[key] = page.TotalCount
		}
		c.cursors[bk] = cursorState{Next: page.NextCursor, HasNext: page.NextPageResults, PerPage: perPage}
	}
	if !set.Grouped {
		for g, n := range c.loadedByGroupLocked() {
			c.totals[g] = n
		}
	}
	for bk := range c.buckets {
		c.buckets[bk] = c.sortIDs(c.buckets[bk])
	}
	c.state = StateLoaded
	c.lastErr = nil
	c.notify(EventLoaded)
	return nil
}

// indexItemLocked inserts an item into every bucket it belongs to. For
// a server-grouped response the top-level key is the server's; the
// sub-group axis is always computed client-side.
func (c *Collection) indexItemLocked(it domain.Item, serverGroup string, grouped bool) {
	if !c.admits(it) {
		return
	}
	var keys []bucketKey
	if grouped {
		for _, sub := range groupKeys(it, c.subGroupBy) {
			keys = append(keys, bucketKey{Group: serverGroup, Sub: sub})
		}
	} else {
		keys = bucketsFor(it, c.groupBy, c.subGroupBy)
	}
	for _, bk := range keys {
		c.appendIfAbsentLocked(bk, it.ID)
	}
}

// admits reports whether the item belongs on this context's side of the
// archive line.
func (c *Collection) admits(it domain.Item) bool {
	if c.desc.Archived() == ArchivedItems {
		return it.Archived()
	}
	return !it.Archived()
}

func (c *Collection) appendIfAbsentLocked(bk bucketKey, id string) {
	for _, existing := range c.buckets[bk] {
		if existing == id {
			return
		}
	}
	c.buckets[bk] = append(c.buckets[bk], id)
}

// FetchNextPage loads the next page for one (group, subGroup) pair, or
// for the whole context when both keys are empty (flat pagination).
// Calling it with no stored cursor or an exhausted one is a silent
// no-op: races between UI scroll events and in-flight pagination are
// expected, not errors. A stale cursor just drops the cursor; any other
// failure puts the store into the error state until a fetch succeeds.
// Responses for a superseded filter generation are discarded.
func (c *Collection) FetchNextPage(ctx context.Context, group, subGroup string) error {
	c.mu.Lock()
	bk := bucketKey{Group: group, Sub: subGroup}
	cur, ok := c.cursors[bk]
	if !ok || !cur.HasNext {
		c.mu.Unlock()
		return nil
	}
	if c.loading[bk] {
		// A next-page request for this bucket is already in flight; a
		// second one would double-append.
		c.mu.Unlock()
		return nil
	}
	c.loading[bk] = true
	gen := c.gen
	applied := c.filters.Applied(c.desc.Key())
	params := c.desc.FilterParams(applied)
	if c.grouped && group != "" {
		params["group_id"] = group
	}
	req := remote.PageRequest{
		Params:  params,
		GroupBy: c.groupBy,
		PerPage: cur.PerPage,
		Cursor:  cur.Next,
	}
	c.mu.Unlock()

	set, err := c.fetcher.FetchItems(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loading, bk)
	if c.gen != gen {
		return nil
	}
	if err != nil {
		var stale domain.InvalidCursorError
		if errors.As(err, &stale) {
			// The server no longer honors this cursor; drop it rather
			// than surfacing a race as a failure.
			delete(c.cursors, bk)
			return nil
		}
		c.state = StateError
		c.lastErr = err
		return err
	}

	page, ok := pageFor(set, group)
	if !ok {
		delete(c.cursors, bk)
		return nil
	}
	c.entities.UpsertMany(page.Results)
	affected := map[bucketKey][]string{}
	for _, it := range page.Results {
		if !c.admits(it) {
			continue
		}
		var keys []bucketKey
		if c.grouped {
			for _, sub := range groupKeys(it, c.subGroupBy) {
				keys = append(keys, bucketKey{Group: group, Sub: sub})
			}
		} else {
			keys = bucketsFor(it, c.groupBy, c.subGroupBy)
		}
		for _, k := range keys {
			affected[k] = append(affected[k], it.ID)
		}
	}
	for k, ids := range affected {
		c.mergeBucket(k, ids)
	}
	c.cursors[bk] = cursorState{Next: page.NextCursor, HasNext: page.NextPageResults, PerPage: cur.PerPage}
	if c.grouped && group != "" && page.TotalCount > 0 {
		c.totals[group] = page.TotalCount
	} else if !c.grouped {
		for g, n := range c.loadedByGroupLocked() {
			if n > c.totals[g] {
				c.totals[g] = n
			}
		}
	}
	c.state = StateLoaded
	c.lastErr = nil
	c.notify(EventPage)
	return nil
}

func pageFor(set remote.PageSet, group string) (remote.Page, bool) {
	if set.Grouped {
		page, ok := set.Groups[group]
		return page, ok
	}
	page, ok := set.Groups[""]
	return page, ok
}

// loadedByGroupLocked counts distinct loaded ids per top-level group.
func (c *Collection) loadedByGroupLocked() map[string]int {
	seen := map[string]map[string]bool{}
	for bk, ids := range c.buckets {
		set := seen[bk.Group]
		if set == nil {
			set = map[string]bool{}
			seen[bk.Group] = set
		}
		for _, id := range ids {
			set[id] = true
		}
	}
	out := make(map[string]int, len(seen))
	for g, set := range seen {
		out[g] = len(set)
	}
	return out
}

func (c *Collection) notify(kind EventKind) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(Event{ContextKey: c.desc.Key(), Kind: kind})
}

// Close aborts any in-flight initial fetch. Called on context unmount.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

// Key returns the context key this collection serves.
func (c *Collection) Key() string { return c.desc.Key() }

// State reports the store's lifecycle state.
func (c *Collection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that put the store into the error state.
func (c *Collection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Groups lists the top-level group keys in sorted order.
func (c *Collection) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{}
	for bk := range c.buckets {
		seen[bk.Group] = true
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// SubGroups lists the sub-group keys under one group, sorted.
func (c *Collection) SubGroups(group string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for bk := range c.buckets {
		if bk.Group == group {
			out = append(out, bk.Sub)
		}
	}
	sort.Strings(out)
	return out
}

// IDs returns a copy of the ordered id list for one bucket.
func (c *Collection) IDs(group, subGroup string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.buckets[bucketKey{Group: group, Sub: subGroup}]...)
}

// Items resolves one bucket to item copies in index order.
func (c *Collection) Items(group, subGroup string) []domain.Item {
	ids := c.IDs(group, subGroup)
	filter := store.ActiveOnly
	if c.desc.Archived() == ArchivedItems {
		filter = store.ArchivedOnly
	}
	return c.entities.GetByIDs(ids, filter)
}

// HasNextPage reports whether a bucket has more pages server-side.
func (c *Collection) HasNextPage(group, subGroup string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[bucketKey{Group: group, Sub: subGroup}]
	return ok && cur.HasNext
}

// GroupTotals returns the per-group aggregate counts: server-reported
// totals when the response was grouped, loaded counts otherwise, both
// kept current through mutations.
func (c *Collection) GroupTotals() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.totals))
	for g, n := range c.totals {
		out[g] = n
	}
	return out
}

// TotalCount returns the server-reported total for the whole context.
func (c *Collection) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
