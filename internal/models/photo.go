package models

import "github.com/google/uuid"

// Photo rows outlive their uploader: UploaderID is cleared to NULL when the
// account is deleted, while the photo stays in its group.
type Photo struct {
	BaseModel
	GroupID     uuid.UUID  `json:"groupID" gorm:"type:uuid;not null;index"`
	UploaderID  *uuid.UUID `json:"uploaderID,omitempty" gorm:"type:uuid;index"`
	StorageKey  string     `json:"-" gorm:"type:text;not null"`
	MimeType    string     `json:"mimeType" gorm:"type:varchar(100);not null"`
	Size        int64      `json:"size" gorm:"not null;default:0"`
	Description *string    `json:"description,omitempty" gorm:"type:text"`
	Tags        []string   `json:"tags,omitempty" gorm:"serializer:json"`
	Group       Group      `json:"-" gorm:"foreignKey:GroupID"`
	Uploader    *User      `json:"uploader,omitempty" gorm:"foreignKey:UploaderID;constraint:OnDelete:SET NULL"`
}
