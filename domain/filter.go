package domain

import (
	"sort"
	"strings"
)

// Layout selects how a context renders its items.
type Layout string

const (
	LayoutList        Layout = "list"
	LayoutKanban      Layout = "kanban"
	LayoutCalendar    Layout = "calendar"
	LayoutSpreadsheet Layout = "spreadsheet"
	LayoutGantt       Layout = "gantt"
)

// GroupBy names the item field a grouped index is keyed on. The empty
// value means ungrouped.
type GroupBy string

const (
	GroupByNone       GroupBy = ""
	GroupByState      GroupBy = "state"
	GroupByStateGroup GroupBy = "state_group"
	GroupByPriority   GroupBy = "priority"
	GroupByAssignee   GroupBy = "assignee"
	GroupBySprint     GroupBy = "sprint"
	GroupByEpic       GroupBy = "epic"
	GroupByParent     GroupBy = "parent"
)

// OrderBy names the sort key applied within each group bucket.
type OrderBy string

const (
	OrderBySortOrder     OrderBy = "sort_order"
	OrderByCreatedAt     OrderBy = "created_at"
	OrderByCreatedAtDesc OrderBy = "-created_at"
	OrderByUpdatedAt     OrderBy = "updated_at"
	OrderByUpdatedAtDesc OrderBy = "-updated_at"
	OrderByPriority      OrderBy = "priority"
)

// DisplayFilters are the flat per-context display options.
type DisplayFilters struct {
	Layout          Layout  `json:"layout"`
	GroupBy         GroupBy `json:"group_by,omitempty"`
	SubGroupBy      GroupBy `json:"sub_group_by,omitempty"`
	OrderBy         OrderBy `json:"order_by"`
	ShowSubItems    bool    `json:"show_sub_items"`
	ShowEmptyGroups bool    `json:"show_empty_groups"`
}

// DisplayFiltersPatch is a partial update to DisplayFilters.
type DisplayFiltersPatch struct {
	Layout          *Layout  `json:"layout,omitempty"`
	GroupBy         *GroupBy `json:"group_by,omitempty"`
	SubGroupBy      *GroupBy `json:"sub_group_by,omitempty"`
	OrderBy         *OrderBy `json:"order_by,omitempty"`
	ShowSubItems    *bool    `json:"show_sub_items,omitempty"`
	ShowEmptyGroups *bool    `json:"show_empty_groups,omitempty"`
}

// Apply merges the patch into a copy of the filters and returns it.
func (p DisplayFiltersPatch) Apply(d DisplayFilters) DisplayFilters {
	if p.Layout != nil {
		d.Layout = *p.Layout
	}
	if p.GroupBy != nil {
		d.GroupBy = *p.GroupBy
	}
	if p.SubGroupBy != nil {
		d.SubGroupBy = *p.SubGroupBy
	}
	if p.OrderBy != nil {
		d.OrderBy = *p.OrderBy
	}
	if p.ShowSubItems != nil {
		d.ShowSubItems = *p.ShowSubItems
	}
	if p.ShowEmptyGroups != nil {
		d.ShowEmptyGroups = *p.ShowEmptyGroups
	}
	return d
}

// AsPatch converts a full filters record into a patch setting every
// field, for callers that replace rather than merge.
func (d DisplayFilters) AsPatch() DisplayFiltersPatch {
	return DisplayFiltersPatch{
		Layout:          &d.Layout,
		GroupBy:         &d.GroupBy,
		SubGroupBy:      &d.SubGroupBy,
		OrderBy:         &d.OrderBy,
		ShowSubItems:    &d.ShowSubItems,
		ShowEmptyGroups: &d.ShowEmptyGroups,
	}
}

// Normalize enforces the grouping invariants on display filters:
// a missing group forces the sub-group off, a sub-group may never equal
// the group, and the kanban layout always has a group key, falling back
// to the provided default.
func (d DisplayFilters) Normalize(kanbanDefault GroupBy) DisplayFilters {
	if d.OrderBy == "" {
		d.OrderBy = OrderBySortOrder
	}
	if d.Layout == LayoutKanban && d.GroupBy == GroupByNone {
		d.GroupBy = kanbanDefault
	}
	if d.GroupBy == GroupByNone {
		d.SubGroupBy = GroupByNone
	}
	if d.Layout == LayoutKanban && d.SubGroupBy == d.GroupBy {
		d.SubGroupBy = GroupByNone
	}
	return d
}

// DisplayProperties toggle which item fields the presentational layer
// renders. The engine only stores and persists them.
type DisplayProperties struct {
	Assignee   bool `json:"assignee"`
	Priority   bool `json:"priority"`
	State      bool `json:"state"`
	SubItems   bool `json:"sub_items"`
	Labels     bool `json:"labels"`
	DueDate    bool `json:"due_date"`
	CreatedOn  bool `json:"created_on"`
	UpdatedOn  bool `json:"updated_on"`
	Link       bool `json:"link"`
	Attachment bool `json:"attachment"`
}

// KanbanFilters hold board-only toggles.
type KanbanFilters struct {
	ShowEmptyColumns bool     `json:"show_empty_columns"`
	CollapsedGroups  []string `json:"collapsed_groups,omitempty"`
}

// RichFilter is a serializable predicate tree over item fields. A leaf
// carries a field and the accepted values; branches combine children
// with "and" / "or".
type RichFilter struct {
	Op       string       `json:"op,omitempty"`
	Field    string       `json:"field,omitempty"`
	Values   []string     `json:"values,omitempty"`
	Children []RichFilter `json:"children,omitempty"`
}

// Empty reports whether the filter matches everything.
func (f RichFilter) Empty() bool {
	return f.Field == "" && len(f.Children) == 0
}

// QueryParams flattens the filter into the field → comma-joined value
// map the retrieval API accepts. Only and-combined leaves contribute;
// values for a repeated field are unioned.
func (f RichFilter) QueryParams() map[string]string {
	acc := map[string][]string{}
	f.collect(acc)
	if len(acc) == 0 {
		return nil
	}
	out := make(map[string]string, len(acc))
	for field, vals := range acc {
		seen := map[string]bool{}
		uniq := vals[:0]
		for _, v := range vals {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			uniq = append(uniq, v)
		}
		sort.Strings(uniq)
		out[field] = strings.Join(uniq, ",")
	}
	return out
}

func (f RichFilter) collect(acc map[string][]string) {
	if f.Field != "" && len(f.Values) > 0 {
		acc[f.Field] = append(acc[f.Field], f.Values...)
	}
	for _, c := range f.Children {
		c.collect(acc)
	}
}

// ContextFilters is the fully resolved filter state for one context.
type ContextFilters struct {
	Rich       RichFilter        `json:"rich_filters"`
	Display    DisplayFilters    `json:"display_filters"`
	Properties DisplayProperties `json:"display_properties"`
	Kanban     KanbanFilters     `json:"kanban_filters"`
}

// FilterDocument is the persisted per-context filter state. Sections are
// pointers so a partial document round-trips without inventing fields.
type FilterDocument struct {
	RichFilters       *RichFilter        `json:"rich_filters,omitempty"`
	DisplayFilters    *DisplayFilters    `json:"display_filters,omitempty"`
	DisplayProperties *DisplayProperties `json:"display_properties,omitempty"`
	KanbanFilters     *KanbanFilters     `json:"kanban_filters,omitempty"`
}

// Filter document section names, used as persistence field-groups so a
// failure updating one section does not block the others.
const (
	SectionRichFilters       = "rich_filters"
	SectionDisplayFilters    = "display_filters"
	SectionDisplayProperties = "display_properties"
	SectionKanbanFilters     = "kanban_filters"
)
