package models

import "time"

const (
	RoleRestaurant = "restaurant"

	SubRoleWaiter  = "waiter"
	SubRoleChef    = "chef"
	SubRoleCashier = "cashier"
	SubRoleManager = "manager"
)

type StaffUser struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	Email     string `gorm:"type:varchar(255);unique;not null" json:"email"`
	Password  string `gorm:"type:varchar(255);not null" json:"-"`
	Role      string `gorm:"type:varchar(50);not null" json:"role"`
	SubRole   string `gorm:"type:varchar(50)" json:"sub_role"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StaffUser) TableName() string {
	return "users"
}

// Actor is who performs a transition. It is passed explicitly to the
// authority instead of being read from session storage on each call.
type Actor struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	SubRole string `json:"sub_role"`
}

func (u StaffUser) Actor() Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role, SubRole: u.SubRole}
}

func (a Actor) IsCashier() bool {
	return a.Role == RoleRestaurant && a.SubRole == SubRoleCashier
}

func (a Actor) CanServeKOT() bool {
	return a.SubRole == SubRoleChef || a.SubRole == SubRoleManager
}

// Audience is the alert audience for this actor's sub-role.
func (a Actor) Audience() string {
	if a.SubRole == SubRoleChef {
		return AudienceKitchen
	}
	return AudienceWaitstaff
}
