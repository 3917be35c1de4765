package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sphere-health-server/internal/models"
)

// GormStore keeps challenges in the challenges table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, c *models.Challenge) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *GormStore) Find(ctx context.Context, tokenHash string) (*models.Challenge, error) {
	var c models.Challenge
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	return &c, nil
}

func (s *GormStore) ReplaceCode(ctx context.Context, tokenHash, codeHash string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Challenge{}).
		Where("token_hash = ?", tokenHash).
		Updates(map[string]interface{}{"code_hash": codeHash, "expires_at": expiresAt})
	if res.Error != nil {
		return fmt.Errorf("failed to replace code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Attempt(ctx context.Context, tokenHash string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Challenge{}).
			Where("token_hash = ?", tokenHash).
			UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// the update holds the row lock, so this reads our own increment
		return tx.Model(&models.Challenge{}).
			Select("attempts").
			Where("token_hash = ?", tokenHash).
			Row().Scan(&attempts)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	return attempts, nil
}

func (s *GormStore) Consume(ctx context.Context, tokenHash, codeHash string, now time.Time) error {
	res := s.db.WithContext(ctx).
		Where("token_hash = ? AND code_hash = ? AND expires_at > ? AND token_expires_at > ?", tokenHash, codeHash, now, now).
		Delete(&models.Challenge{})
	if res.Error != nil {
		return fmt.Errorf("failed to consume challenge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, tokenHash string) error {
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&models.Challenge{}).Error; err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *GormStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("token_expires_at < ?", cutoff).Delete(&models.Challenge{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge challenges: %w", res.Error)
	}
	return res.RowsAffected, nil
}
