package users

// Action enumerates the visibility-sensitive and mutating operations the
// policy is consulted for.
type Action string

const (
	ActionUpload     Action = "upload"
	ActionRevise     Action = "revise"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionComment    Action = "comment"
	ActionModerate   Action = "moderate"
	ActionBan        Action = "ban"
	ActionViewHidden Action = "view_hidden"
)

// Actor is the authenticated caller of an operation. The zero value is an
// anonymous reader.
type Actor struct {
	UID    string
	Admin  bool
	Banned bool
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool {
	return a.UID == ""
}

// Decision is an explicit allow/deny with the reason for the denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize is the single authorization policy for the repository. Every
// mutating handler and every hidden-record read path consults it instead of
// repeating admin/ban checks inline. ownerUID is the author of the record
// being acted on, or empty when the action has no owner (upload, ban).
func Authorize(actor Actor, action Action, ownerUID string) Decision {
	if actor.Anonymous() {
		return deny("authentication required")
	}

	switch action {
	case ActionModerate, ActionBan, ActionViewHidden:
		if !actor.Admin {
			return deny("administrator privilege required")
		}
		return allow()
	case ActionUpload, ActionRevise, ActionComment:
		if actor.Banned {
			return deny("user is banned")
		}
		return allow()
	case ActionEdit, ActionDelete:
		if actor.Banned {
			return deny("user is banned")
		}
		if actor.Admin || actor.UID == ownerUID {
			return allow()
		}
		return deny("only the author or an administrator may do this")
	default:
		return deny("unknown action")
	}
}
