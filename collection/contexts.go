package collection

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

// contextDescriptor is the one concrete Descriptor. The seven context
// kinds differ only in their key prefix, scope params and archive side,
// so they collapse into data rather than subclasses.
type contextDescriptor struct {
	key      string
	scope    map[string]string
	archived ArchivedSide
}

func (d contextDescriptor) Key() string { return d.key }

func (d contextDescriptor) ScopeParams() map[string]string {
	out := make(map[string]string, len(d.scope))
	for k, v := range d.scope {
		out[k] = v
	}
	return out
}

func (d contextDescriptor) FilterParams(f domain.ContextFilters) map[string]string {
	params := d.ScopeParams()
	for field, vals := range f.Rich.QueryParams() {
		if _, taken := params[field]; taken {
			continue
		}
		params[field] = vals
	}
	if f.Display.OrderBy != "" {
		params["order_by"] = string(f.Display.OrderBy)
	}
	params["sub_items"] = strconv.FormatBool(f.Display.ShowSubItems)
	return params
}

func (d contextDescriptor) Archived() ArchivedSide { return d.archived }

// ProjectContext scopes the engine to one project.
func ProjectContext(projectID string) Descriptor {
	return contextDescriptor{
		key:   "project/" + projectID,
		scope: map[string]string{"project": projectID},
	}
}

// EpicContext scopes the engine to one epic.
func EpicContext(epicID string) Descriptor {
	return contextDescriptor{
		key:   "epic/" + epicID,
		scope: map[string]string{"epic": epicID},
	}
}

// SprintContext scopes the engine to one sprint.
func SprintContext(sprintID string) Descriptor {
	return contextDescriptor{
		key:   "sprint/" + sprintID,
		scope: map[string]string{"sprint": sprintID},
	}
}

// WorkspaceContext is the workspace-wide view.
func WorkspaceContext() Descriptor {
	return contextDescriptor{key: "workspace", scope: map[string]string{}}
}

// ArchivedContext lists a project's archived items.
func ArchivedContext(projectID string) Descriptor {
	return contextDescriptor{
		key:      "archived/" + projectID,
		scope:    map[string]string{"project": projectID, "archived": "true"},
		archived: ArchivedItems,
	}
}

// DraftContext lists a user's draft items.
func DraftContext(userID string) Descriptor {
	return contextDescriptor{
		key:   "draft/" + userID,
		scope: map[string]string{"draft": "true", "created_by": userID},
	}
}

// ProfileContext is the per-user assigned-work view.
func ProfileContext(userID string) Descriptor {
	return contextDescriptor{
		key:   "profile/" + userID,
		scope: map[string]string{"assignee": userID},
	}
}

// DescriptorFor maps a (kind, id) pair from a route or config to a
// descriptor.
func DescriptorFor(kind, id string) (Descriptor, error) {
	switch kind {
	case "projects":
		return ProjectContext(id), nil
	case "epics":
		return EpicContext(id), nil
	case "sprints":
		return SprintContext(id), nil
	case "workspace":
		return WorkspaceContext(), nil
	case "archived":
		return ArchivedContext(id), nil
	case "drafts":
		return DraftContext(id), nil
	case "profiles":
		return ProfileContext(id), nil
	default:
		return nil, fmt.Errorf("unknown context kind %q", kind)
	}
}

// DefaultGroupByFor picks the kanban fallback grouping per context:
// per-person views group by priority, everything else by state.
func DefaultGroupByFor(contextKey string) domain.GroupBy {
	if strings.HasPrefix(contextKey, "profile/") || strings.HasPrefix(contextKey, "draft/") {
		return domain.GroupByPriority
	}
	return domain.GroupByState
}
