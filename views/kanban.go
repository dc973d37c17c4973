package views

import "github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"

// draggableGroupKeys are the grouping axes a kanban card may be dragged
// across. Date- and relation-derived axes are read-only.
var draggableGroupKeys = map[domain.GroupBy]bool{
	domain.GroupByState:      true,
	domain.GroupByStateGroup: true,
	domain.GroupByPriority:   true,
	domain.GroupByAssignee:   true,
	domain.GroupBySprint:     true,
}

// CanDragBetween reports whether dragging between kanban columns is
// permitted under the current grouping: the group axis must be
// draggable, and when sub-grouped the sub axis must be too.
func CanDragBetween(groupBy, subGroupBy domain.GroupBy) bool {
	if !draggableGroupKeys[groupBy] {
		return false
	}
	if subGroupBy != domain.GroupByNone && !draggableGroupKeys[subGroupBy] {
		return false
	}
	return true
}
