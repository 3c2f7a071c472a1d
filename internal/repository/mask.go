package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

// maskModel maps to the user_masks table.
type maskModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Emoji       string
	Description string
	Avatar      string
	Birthday    string
	Height      string
	MBTI        string
	Likes       string
	Dislikes    string
	Personality string
	Background  string
	Other       string
}

func (maskModel) TableName() string {
	return "user_masks"
}

// MaskRepo accesses user masks.
type MaskRepo struct {
	db *gorm.DB
}

// NewMaskRepo returns a MaskRepo.
func NewMaskRepo(db *gorm.DB) *MaskRepo {
	return &MaskRepo{db: db}
}

func (r *MaskRepo) Create(ctx context.Context, m *types.UserMask) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(maskToModel(m)).Error; err != nil {
		return fmt.Errorf("failed to insert mask: %w", err)
	}
	return nil
}

func (r *MaskRepo) GetByID(ctx context.Context, id string) (*types.UserMask, error) {
	var record maskModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to query mask %s: %w", id, err)
	}
	return maskFromModel(record), nil
}

func (r *MaskRepo) List(ctx context.Context) ([]types.UserMask, error) {
	var records []maskModel
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list masks: %w", err)
	}
	out := make([]types.UserMask, 0, len(records))
	for _, record := range records {
		out = append(out, *maskFromModel(record))
	}
	return out, nil
}

func (r *MaskRepo) Update(ctx context.Context, m *types.UserMask) error {
	if err := r.db.WithContext(ctx).Save(maskToModel(m)).Error; err != nil {
		return fmt.Errorf("failed to update mask %s: %w", m.ID, err)
	}
	return nil
}

func (r *MaskRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&maskModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete mask %s: %w", id, err)
	}
	return nil
}

func maskToModel(m *types.UserMask) *maskModel {
	return &maskModel{
		ID:          m.ID,
		Name:        m.Name,
		Emoji:       m.Emoji,
		Description: m.Description,
		Avatar:      m.Avatar,
		Birthday:    m.Birthday,
		Height:      m.Height,
		MBTI:        m.MBTI,
		Likes:       m.Likes,
		Dislikes:    m.Dislikes,
		Personality: m.Personality,
		Background:  m.Background,
		Other:       m.Other,
	}
}

func maskFromModel(record maskModel) *types.UserMask {
	return &types.UserMask{
		ID:          record.ID,
		Name:        record.Name,
		Emoji:       record.Emoji,
		Description: record.Description,
		Avatar:      record.Avatar,
		Birthday:    record.Birthday,
		Height:      record.Height,
		MBTI:        record.MBTI,
		Likes:       record.Likes,
		Dislikes:    record.Dislikes,
		Personality: record.Personality,
		Background:  record.Background,
		Other:       record.Other,
	}
}
