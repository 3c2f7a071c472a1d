package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

// characterModel maps to the characters table. Nested lists live in JSONB.
type characterModel struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	Avatar         string
	CorePrompt     string
	RawPersona     string
	DialogExamples json.RawMessage `gorm:"type:jsonb"`
	MemoryChunks   json.RawMessage `gorm:"type:jsonb"`
	Birthday       string
	Height         string
	MBTI           string
	Likes          string
	Dislikes       string
	Personality    string
	Background     string
	Other          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (characterModel) TableName() string {
	return "characters"
}

// CharacterRepo accesses character profiles.
type CharacterRepo struct {
	db *gorm.DB
}

// NewCharacterRepo returns a CharacterRepo.
func NewCharacterRepo(db *gorm.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) Create(ctx context.Context, c *types.Character) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	record, err := characterToModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	return nil
}

func (r *CharacterRepo) GetByID(ctx context.Context, id string) (*types.Character, error) {
	var record characterModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to query character %s: %w", id, err)
	}
	return characterFromModel(record), nil
}

func (r *CharacterRepo) List(ctx context.Context) ([]types.Character, error) {
	var records []characterModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	out := make([]types.Character, 0, len(records))
	for _, record := range records {
		out = append(out, *characterFromModel(record))
	}
	return out, nil
}

func (r *CharacterRepo) Update(ctx context.Context, c *types.Character) error {
	record, err := characterToModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update character %s: %w", c.ID, err)
	}
	return nil
}

func (r *CharacterRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&characterModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete character %s: %w", id, err)
	}
	return nil
}

func characterToModel(c *types.Character) (*characterModel, error) {
	examples, err := marshalJSON(c.DialogExamples)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dialog examples: %w", err)
	}
	chunks, err := marshalJSON(c.MemoryChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory chunks: %w", err)
	}
	return &characterModel{
		ID:             c.ID,
		Name:           c.Name,
		Avatar:         c.Avatar,
		CorePrompt:     c.CorePrompt,
		RawPersona:     c.RawPersona,
		DialogExamples: examples,
		MemoryChunks:   chunks,
		Birthday:       c.Birthday,
		Height:         c.Height,
		MBTI:           c.MBTI,
		Likes:          c.Likes,
		Dislikes:       c.Dislikes,
		Personality:    c.Personality,
		Background:     c.Background,
		Other:          c.Other,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}, nil
}

func characterFromModel(record characterModel) *types.Character {
	var examples []types.DialogExample
	var chunks []types.MemoryChunk
	_ = unmarshalJSON(record.DialogExamples, &examples)
	_ = unmarshalJSON(record.MemoryChunks, &chunks)
	return &types.Character{
		ID:             record.ID,
		Name:           record.Name,
		Avatar:         record.Avatar,
		CorePrompt:     record.CorePrompt,
		RawPersona:     record.RawPersona,
		DialogExamples: examples,
		MemoryChunks:   chunks,
		Birthday:       record.Birthday,
		Height:         record.Height,
		MBTI:           record.MBTI,
		Likes:          record.Likes,
		Dislikes:       record.Dislikes,
		Personality:    record.Personality,
		Background:     record.Background,
		Other:          record.Other,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}
