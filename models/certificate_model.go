package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Certificate records one issued certificate. Rows are only ever inserted.
type Certificate struct {
	ID                 uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID             uuid.UUID `gorm:"type:uuid;not null;index:idx_certificates_user_course" json:"user_id"`
	CourseID           string    `gorm:"size:64;not null;index:idx_certificates_user_course" json:"course_id"`
	AuthenticationCode string    `gorm:"size:32;not null;uniqueIndex" json:"authentication_code"`
	ArtifactReference  *string   `gorm:"type:text" json:"artifact_reference"`

	StudentName    string    `gorm:"size:255;not null" json:"student_name"`
	CourseName     string    `gorm:"size:255;not null" json:"course_name"`
	CompletionDate string    `gorm:"size:64;not null" json:"completion_date"`
	IssuedAt       time.Time `gorm:"not null" json:"issued_at"`
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
