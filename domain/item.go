package domain

// StateGroup buckets workflow states for progress roll-ups.
type StateGroup string

const (
	StateGroupBacklog   StateGroup = "backlog"
	StateGroupUnstarted StateGroup = "unstarted"
	StateGroupStarted   StateGroup = "started"
	StateGroupCompleted StateGroup = "completed"
	StateGroupCancelled StateGroup = "cancelled"
)

// StateGroups lists every state group in display order.
var StateGroups = []StateGroup{
	StateGroupBacklog,
	StateGroupUnstarted,
	StateGroupStarted,
	StateGroupCompleted,
	StateGroupCancelled,
}

// Item is a single work item in the read model. Items are owned by the
// entity store; every other structure references them by id only.
type Item struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id,omitempty"`
	StateID     string     `json:"state_id"`
	StateGroup  StateGroup `json:"state_group,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	AssigneeIDs []string   `json:"assignee_ids,omitempty"`
	SprintID    string     `json:"sprint_id,omitempty"`
	EpicID      string     `json:"epic_id,omitempty"`
	SortOrder   float64    `json:"sort_order"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
	ArchivedAt  int64      `json:"archived_at,omitempty"`
}

// Archived reports whether the item has been moved out of active lists.
func (i Item) Archived() bool { return i.ArchivedAt != 0 }

// ItemPatch is a partial update. Nil fields are left untouched so stale
// writers cannot clobber values they never saw.
type ItemPatch struct {
	ParentID    *string     `json:"parent_id,omitempty"`
	StateID     *string     `json:"state_id,omitempty"`
	StateGroup  *StateGroup `json:"state_group,omitempty"`
	Priority    *string     `json:"priority,omitempty"`
	AssigneeIDs *[]string   `json:"assignee_ids,omitempty"`
	SprintID    *string     `json:"sprint_id,omitempty"`
	EpicID      *string     `json:"epic_id,omitempty"`
	SortOrder   *float64    `json:"sort_order,omitempty"`
	ArchivedAt  *int64      `json:"archived_at,omitempty"`
}

// Apply merges the patch into a copy of the item and returns it.
func (p ItemPatch) Apply(it Item) Item {
	if p.ParentID != nil {
		it.ParentID = *p.ParentID
	}
	if p.StateID != nil {
		it.StateID = *p.StateID
	}
	if p.StateGroup != nil {
		it.StateGroup = *p.StateGroup
	}
	if p.Priority != nil {
		it.Priority = *p.Priority
	}
	if p.AssigneeIDs != nil {
		it.AssigneeIDs = append([]string(nil), (*p.AssigneeIDs)...)
	}
	if p.SprintID != nil {
		it.SprintID = *p.SprintID
	}
	if p.EpicID != nil {
		it.EpicID = *p.EpicID
	}
	if p.SortOrder != nil {
		it.SortOrder = *p.SortOrder
	}
	if p.ArchivedAt != nil {
		it.ArchivedAt = *p.ArchivedAt
	}
	return it
}

// Empty reports whether the patch carries no fields.
func (p ItemPatch) Empty() bool {
	return p.ParentID == nil && p.StateID == nil && p.StateGroup == nil &&
		p.Priority == nil && p.AssigneeIDs == nil && p.SprintID == nil &&
		p.EpicID == nil && p.SortOrder == nil && p.ArchivedAt == nil
}

var priorityRank = map[string]int{
	"urgent": 0,
	"high":   1,
	"medium": 2,
	"low":    3,
	"none":   4,
	"":       4,
}

// PriorityRank maps a priority name to its sort position, lowest first.
// Unknown priorities sort after the known set.
func PriorityRank(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}
