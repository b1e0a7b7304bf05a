package appointment

import (
	"github.com/google/uuid"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Subject is what access decisions are taken against.
type Subject struct {
	CustomerID       uuid.UUID
	ConsultantUserID *uuid.UUID
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func isStaff(r Role) bool {
	return r == RoleStaff || r == RoleManager || r == RoleAdmin
}

func assignedConsultant(s Subject, actor Actor) bool {
	return actor.Role == RoleConsultant && s.ConsultantUserID != nil && *s.ConsultantUserID == actor.ID
}

// CanCancel lets customers cancel their own appointments; staff roles and the
// assigned consultant may cancel any.
func CanCancel(s Subject, actor Actor) Decision {
	switch {
	case isStaff(actor.Role), assignedConsultant(s, actor):
		return allow()
	case actor.Role == RoleCustomer:
		if actor.ID == s.CustomerID {
			return allow()
		}
		return deny("customers may only cancel their own appointments")
	}
	return deny("role " + string(actor.Role) + " may not cancel this appointment")
}

// CanManageAttendance covers confirm, check-in, late check-in, start,
// complete and no-show.
func CanManageAttendance(s Subject, actor Actor) Decision {
	if isStaff(actor.Role) || assignedConsultant(s, actor) {
		return allow()
	}
	if actor.Role == RoleConsultant {
		return deny("consultant is not assigned to this appointment")
	}
	return deny("role " + string(actor.Role) + " may not manage attendance")
}

func CanDelete(_ Subject, actor Actor) Decision {
	if isStaff(actor.Role) {
		return allow()
	}
	return deny("only staff may delete appointments")
}

// CanBook lets customers book for themselves and staff roles book for anyone.
func CanBook(customerID uuid.UUID, actor Actor) Decision {
	switch {
	case isStaff(actor.Role):
		return allow()
	case actor.Role == RoleCustomer && actor.ID == customerID:
		return allow()
	case actor.Role == RoleCustomer:
		return deny("customers may only book for themselves")
	}
	return deny("role " + string(actor.Role) + " may not book appointments")
}

// CanView hides other customers' appointments from a customer.
func CanView(customerID uuid.UUID, actor Actor) Decision {
	if actor.Role == RoleCustomer && actor.ID != customerID {
		return deny("customers may only view their own appointments")
	}
	return allow()
}
