package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPolicies(t *testing.T) {
	customer := uuid.New()
	consultantUser := uuid.New()
	sub := Subject{CustomerID: customer, ConsultantUserID: &consultantUser}

	tests := []struct {
		name       string
		actor      Actor
		cancel     bool
		attendance bool
		del        bool
	}{
		{name: "owning customer", actor: Actor{ID: customer, Role: RoleCustomer}, cancel: true},
		{name: "other customer", actor: Actor{ID: uuid.New(), Role: RoleCustomer}},
		{name: "assigned consultant", actor: Actor{ID: consultantUser, Role: RoleConsultant}, cancel: true, attendance: true},
		{name: "other consultant", actor: Actor{ID: uuid.New(), Role: RoleConsultant}},
		{name: "staff", actor: Actor{ID: uuid.New(), Role: RoleStaff}, cancel: true, attendance: true, del: true},
		{name: "manager", actor: Actor{ID: uuid.New(), Role: RoleManager}, cancel: true, attendance: true, del: true},
		{name: "admin", actor: Actor{ID: uuid.New(), Role: RoleAdmin}, cancel: true, attendance: true, del: true},
		{name: "customer id reused under consultant role", actor: Actor{ID: customer, Role: RoleConsultant}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CanCancel(sub, tt.actor)
			assert.Equal(t, tt.cancel, c.Allowed)
			if !c.Allowed {
				assert.NotEmpty(t, c.Reason)
			}
			assert.Equal(t, tt.attendance, CanManageAttendance(sub, tt.actor).Allowed)
			assert.Equal(t, tt.del, CanDelete(sub, tt.actor).Allowed)
		})
	}
}

func TestAttendancePolicyWithoutAssignedConsultant(t *testing.T) {
	sub := Subject{CustomerID: uuid.New()}
	d := CanManageAttendance(sub, Actor{ID: uuid.New(), Role: RoleConsultant})
	assert.False(t, d.Allowed)
	assert.Equal(t, "consultant is not assigned to this appointment", d.Reason)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("MANAGER")
	assert.NoError(t, err)
	assert.Equal(t, RoleManager, r)

	_, err = ParseRole("manager")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestBookAndViewPolicies(t *testing.T) {
	customer := uuid.New()

	assert.True(t, CanBook(customer, Actor{ID: customer, Role: RoleCustomer}).Allowed)
	assert.False(t, CanBook(customer, Actor{ID: uuid.New(), Role: RoleCustomer}).Allowed)
	assert.False(t, CanBook(customer, Actor{ID: uuid.New(), Role: RoleConsultant}).Allowed)
	assert.True(t, CanBook(customer, Actor{ID: uuid.New(), Role: RoleStaff}).Allowed)

	assert.True(t, CanView(customer, Actor{ID: customer, Role: RoleCustomer}).Allowed)
	assert.False(t, CanView(customer, Actor{ID: uuid.New(), Role: RoleCustomer}).Allowed)
	assert.True(t, CanView(customer, Actor{ID: uuid.New(), Role: RoleConsultant}).Allowed)
}
