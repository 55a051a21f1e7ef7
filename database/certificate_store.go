package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/treinanr/academy/models"
)

var ErrNotFound = errors.New("certificate not found")

type CertificateStore struct {
	db *gorm.DB
}

func NewCertificateStore(db *gorm.DB) *CertificateStore {
	return &CertificateStore{db: db}
}

func (s *CertificateStore) InsertCertificate(ctx context.Context, cert *models.Certificate) error {
	if err := s.db.WithContext(ctx).Create(cert).Error; err != nil {
		return errors.Wrapf(err, "insert certificate %s", cert.AuthenticationCode)
	}
	return nil
}

func (s *CertificateStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("authentication_code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "look up authentication code")
	}
	return count > 0, nil
}

// ListByUser returns the user's certificates, newest first.
func (s *CertificateStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Certificate, error) {
	certificates := []models.Certificate{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at desc").
		Find(&certificates).Error
	if err != nil {
		return nil, errors.Wrap(err, "list certificates")
	}
	return certificates, nil
}

func (s *CertificateStore) FindByCode(ctx context.Context, code string) (*models.Certificate, error) {
	var cert models.Certificate
	err := s.db.WithContext(ctx).Where("authentication_code = ?", code).First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find certificate")
	}
	return &cert, nil
}
