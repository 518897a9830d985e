package models

const DefaultBio = "Hey there, I'm using SnapVault!"

// MaxBioLength caps the profile bio accepted on registration and update.
const MaxBioLength = 500

type User struct {
	BaseModel
	Name             string            `json:"name" gorm:"type:varchar(100);not null"`
	Email            string            `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash     string            `json:"-" gorm:"type:text;not null"`
	Bio              string            `json:"bio" gorm:"type:varchar(500)"`
	AvatarKey        *string           `json:"avatarKey,omitempty" gorm:"type:text"`
	GroupMemberships []GroupMembership `json:"-" gorm:"foreignKey:UserID"`
	Photos           []Photo           `json:"-" gorm:"foreignKey:UploaderID"`
}
