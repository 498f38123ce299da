package model

type StaffRole string

const (
	RoleSalesStaff  StaffRole = "sales_staff"
	RoleBeautician  StaffRole = "beautician"
	RoleReception   StaffRole = "reception"
	RoleClinicOwner StaffRole = "clinic_owner"
	RoleSystem      StaffRole = "system"
)

// Staff is a read-only projection of the host system's user directory, used
// for task auto-assignment. PendingTasks is the current pending-task count
// used for load balancing.
type Staff struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	Role         StaffRole `json:"role"`
	PendingTasks int       `json:"pendingTasks"`
}

// HasRole reports whether any of the actor's roles is in the required set. An
// empty required set allows everyone.
func HasRole(roles []StaffRole, required []StaffRole) bool {
	if len(required) == 0 {
		return true
	}
	for _, role := range roles {
		for _, want := range required {
			if role == want {
				return true
			}
		}
	}
	return false
}
