package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/treinanr/academy/models"
)

type EnrollmentStore struct {
	db *gorm.DB
}

func NewEnrollmentStore(db *gorm.DB) *EnrollmentStore {
	return &EnrollmentStore{db: db}
}

// PendingCompletions returns completed enrollments that have no certificate
// for the same user and course, oldest completion first.
func (s *EnrollmentStore) PendingCompletions(ctx context.Context, limit int) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("enrollments.completed_at IS NOT NULL").
		Where("NOT EXISTS (?)", s.db.Model(&models.Certificate{}).
			Select("1").
			Where("certificates.user_id = enrollments.user_id AND certificates.course_id = enrollments.course_id")).
		Order("enrollments.completed_at asc").
		Limit(limit).
		Find(&enrollments).Error
	if err != nil {
		return nil, errors.Wrap(err, "query pending completions")
	}
	return enrollments, nil
}
