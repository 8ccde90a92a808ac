package models

// Role is the actor's role within a salon.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
)

// ActorContext identifies the caller for every core operation. It is
// constructed by the platform gateway once per request and passed in
// explicitly; the core never re-derives identity or tenant on its own.
type ActorContext struct {
	ActorID string `json:"actor_id"`
	SalonID string `json:"salon_id"`
	Role    Role   `json:"role"`
	// Email is the actor's own address, used as the fallback recipient
	// for test sends.
	Email string `json:"email,omitempty"`
}

// CanManageCampaigns reports whether the actor may create, edit, schedule
// and send campaigns for their salon.
func (a ActorContext) CanManageCampaigns() bool {
	switch a.Role {
	case RoleOwner, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// CanDeleteCampaigns reports whether the actor may delete campaigns and
// templates. Admins manage sends but may not destroy data.
func (a ActorContext) CanDeleteCampaigns() bool {
	return a.Role == RoleOwner || a.Role == RoleManager
}
