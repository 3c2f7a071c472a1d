package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// stickerModel maps to the stickers table. Each row is one image URL in the
// shared sticker library.
type stickerModel struct {
	ID        string `gorm:"primaryKey"`
	URL       string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

func (stickerModel) TableName() string {
	return "stickers"
}

// StickerRepo accesses the sticker library.
type StickerRepo struct {
	db *gorm.DB
}

// NewStickerRepo returns a StickerRepo.
func NewStickerRepo(db *gorm.DB) *StickerRepo {
	return &StickerRepo{db: db}
}

// List returns all sticker URLs in insertion order.
func (r *StickerRepo) List(ctx context.Context) ([]string, error) {
	var records []stickerModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list stickers: %w", err)
	}
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.URL)
	}
	return out, nil
}

// Add inserts a sticker URL, ignoring duplicates.
func (r *StickerRepo) Add(ctx context.Context, url string) error {
	record := stickerModel{ID: uuid.NewString(), URL: url}
	err := r.db.WithContext(ctx).
		Where("url = ?", url).
		FirstOrCreate(&record).Error
	if err != nil {
		return fmt.Errorf("failed to insert sticker: %w", err)
	}
	return nil
}

// Remove deletes a sticker URL.
func (r *StickerRepo) Remove(ctx context.Context, url string) error {
	if err := r.db.WithContext(ctx).Delete(&stickerModel{}, "url = ?", url).Error; err != nil {
		return fmt.Errorf("failed to delete sticker: %w", err)
	}
	return nil
}
