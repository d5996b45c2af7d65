// Package access decides whether an actor may perform a message action.
package access

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

type Decision int

const (
	Allow Decision = iota
	Unauthenticated
	NotFound
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Actor is the request-scoped identity resolved from the session.
type Actor struct {
	UserID        int64
	Authenticated bool
}

func Anonymous() Actor {
	return Actor{}
}

func User(id int64) Actor {
	return Actor{UserID: id, Authenticated: id != 0}
}

// Resource describes the target message. A nil *Resource means the
// message does not exist.
type Resource struct {
	OwnerID int64
}

// Decide applies the checks in order: authentication, existence, ownership.
func Decide(actor Actor, action Action, resource *Resource) Decision {
	switch action {
	case ActionView:
		if resource == nil {
			return NotFound
		}
		return Allow
	case ActionCreate:
		if !actor.Authenticated {
			return Unauthenticated
		}
		return Allow
	case ActionDelete:
		if !actor.Authenticated {
			return Unauthenticated
		}
		if resource == nil {
			return NotFound
		}
		if resource.OwnerID != actor.UserID {
			return Forbidden
		}
		return Allow
	default:
		return Forbidden
	}
}
