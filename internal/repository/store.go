// Package repository persists characters, masks, conversations, and
// per-character memories in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/uzuki-dev/palmtalk/internal/chat"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

var _ chat.Store = (*Store)(nil)

// Store holds the DB pool and repositories.
type Store struct {
	db            *gorm.DB
	Characters    *CharacterRepo
	Masks         *MaskRepo
	Conversations *ConversationRepo
	Memories      *MemoryRepo
	Stickers      *StickerRepo
}

// NewStore initializes the PostgreSQL pool, migrates the schema, and wires
// the repositories.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&characterModel{},
		&maskModel{},
		&conversationModel{},
		&messageModel{},
		&charMemoryModel{},
		&stickerModel{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	store := &Store{
		db:            db,
		Characters:    NewCharacterRepo(db),
		Masks:         NewMaskRepo(db),
		Conversations: NewConversationRepo(db),
		Memories:      NewMemoryRepo(db),
		Stickers:      NewStickerRepo(db),
	}
	return store, nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() {
	if s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}

// Delegation methods so Store satisfies the orchestrator's collaborator
// interface directly.

func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	return s.Conversations.Get(ctx, id)
}

func (s *Store) AppendMessage(ctx context.Context, convID string, msg types.Message) (*types.Conversation, error) {
	return s.Conversations.AppendMessage(ctx, convID, msg)
}

func (s *Store) UpdateMessage(ctx context.Context, convID, msgID string, update func(*types.Message)) error {
	return s.Conversations.UpdateMessage(ctx, convID, msgID, update)
}

func (s *Store) RemoveMessage(ctx context.Context, convID, msgID string) error {
	return s.Conversations.RemoveMessage(ctx, convID, msgID)
}

func (s *Store) GetCharacter(ctx context.Context, id string) (*types.Character, error) {
	return s.Characters.GetByID(ctx, id)
}

func (s *Store) GetMask(ctx context.Context, id string) (*types.UserMask, error) {
	return s.Masks.GetByID(ctx, id)
}

func (s *Store) ListStickers(ctx context.Context) ([]string, error) {
	return s.Stickers.List(ctx)
}

// marshalJSON encodes a value into JSONB, returning nil for empty values.
func marshalJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// unmarshalJSON decodes JSONB into the provided target.
func unmarshalJSON(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}
