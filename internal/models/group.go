package models

import "github.com/google/uuid"

// InviteCodeLength is the fixed length of group invite codes.
const InviteCodeLength = 6

type Group struct {
	BaseModel
	Name        string            `json:"name" gorm:"type:varchar(150);not null"`
	Description *string           `json:"description,omitempty" gorm:"type:text"`
	CreatorID   *uuid.UUID        `json:"creatorID,omitempty" gorm:"type:uuid;index"`
	InviteCode  string            `json:"inviteCode" gorm:"type:varchar(12);uniqueIndex;not null"`
	Creator     *User             `json:"creator,omitempty" gorm:"foreignKey:CreatorID;constraint:OnDelete:SET NULL"`
	Memberships []GroupMembership `json:"memberships,omitempty" gorm:"foreignKey:GroupID"`
	Photos      []Photo           `json:"-" gorm:"foreignKey:GroupID"`
}
