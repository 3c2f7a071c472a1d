package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uzuki-dev/palmtalk/internal/memory"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

// charMemoryModel maps to the char_memories table, one row per character
// per conversation.
type charMemoryModel struct {
	ConversationID string `gorm:"primaryKey"`
	CharacterID    string `gorm:"primaryKey"`

	ImpressionTags      json.RawMessage `gorm:"type:jsonb"`
	ImpressionMonologue string
	HandEntries         json.RawMessage `gorm:"type:jsonb"`
	DailyDiaries        json.RawMessage `gorm:"type:jsonb"`
	MonthlyDiaries      json.RawMessage `gorm:"type:jsonb"`
	AffectionTemp       *int

	LastRefinedMessageCount int
	UpdatedAt               time.Time
}

func (charMemoryModel) TableName() string {
	return "char_memories"
}

// MemoryRepo accesses per-character memories.
type MemoryRepo struct {
	db *gorm.DB
}

var _ memory.Repo = (*MemoryRepo)(nil)

// NewMemoryRepo returns a MemoryRepo.
func NewMemoryRepo(db *gorm.DB) *MemoryRepo {
	return &MemoryRepo{db: db}
}

// Get returns the stored memory, or nil when no row exists.
func (r *MemoryRepo) Get(ctx context.Context, convID, charID string) (*types.CharMemory, error) {
	var record charMemoryModel
	err := r.db.WithContext(ctx).
		First(&record, "conversation_id = ? AND character_id = ?", convID, charID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query char memory %s/%s: %w", convID, charID, err)
	}
	return charMemoryFromModel(record), nil
}

// Put upserts the memory row.
func (r *MemoryRepo) Put(ctx context.Context, convID, charID string, mem *types.CharMemory) error {
	record, err := charMemoryToModel(convID, charID, mem)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "character_id"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert char memory %s/%s: %w", convID, charID, err)
	}
	return nil
}

func charMemoryToModel(convID, charID string, mem *types.CharMemory) (*charMemoryModel, error) {
	tags, err := marshalJSON(mem.ImpressionTags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode impression tags: %w", err)
	}
	hand, err := marshalJSON(mem.HandEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hand entries: %w", err)
	}
	daily, err := marshalJSON(mem.DailyDiaries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode daily diaries: %w", err)
	}
	monthly, err := marshalJSON(mem.MonthlyDiaries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode monthly diaries: %w", err)
	}
	return &charMemoryModel{
		ConversationID:          convID,
		CharacterID:             charID,
		ImpressionTags:          tags,
		ImpressionMonologue:     mem.ImpressionMonologue,
		HandEntries:             hand,
		DailyDiaries:            daily,
		MonthlyDiaries:          monthly,
		AffectionTemp:           mem.AffectionTemp,
		LastRefinedMessageCount: mem.LastRefinedMessageCount,
	}, nil
}

func charMemoryFromModel(record charMemoryModel) *types.CharMemory {
	mem := &types.CharMemory{
		ImpressionMonologue:     record.ImpressionMonologue,
		AffectionTemp:           record.AffectionTemp,
		LastRefinedMessageCount: record.LastRefinedMessageCount,
	}
	_ = unmarshalJSON(record.ImpressionTags, &mem.ImpressionTags)
	_ = unmarshalJSON(record.HandEntries, &mem.HandEntries)
	_ = unmarshalJSON(record.DailyDiaries, &mem.DailyDiaries)
	_ = unmarshalJSON(record.MonthlyDiaries, &mem.MonthlyDiaries)
	return mem
}
