package models

import "github.com/google/uuid"

type GroupRole string

const (
	GroupRoleOwner            GroupRole = "owner"
	GroupRoleAdmin            GroupRole = "admin"
	GroupRoleContributor      GroupRole = "contributor"
	GroupRoleViewer           GroupRole = "viewer"
	GroupRoleRestrictedViewer GroupRole = "restricted-viewer"
)

// groupRoleRank defines the total order over roles. A role satisfies any
// threshold at or below its own rank.
var groupRoleRank = map[GroupRole]int{
	GroupRoleOwner:            5,
	GroupRoleAdmin:            4,
	GroupRoleContributor:      3,
	GroupRoleViewer:           2,
	GroupRoleRestrictedViewer: 1,
}

func (r GroupRole) Valid() bool {
	_, ok := groupRoleRank[r]
	return ok
}

func (r GroupRole) AtLeast(required GroupRole) bool {
	return groupRoleRank[r] >= groupRoleRank[required]
}

type GroupMembership struct {
	BaseModel
	UserID  uuid.UUID `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_group"`
	GroupID uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_group"`
	Role    GroupRole `json:"role" gorm:"type:varchar(20);not null;default:'restricted-viewer'"`
	User    User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Group   Group     `json:"group,omitempty" gorm:"foreignKey:GroupID"`
}
