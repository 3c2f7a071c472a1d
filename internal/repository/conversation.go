package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uzuki-dev/palmtalk/internal/relationship"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

// conversationModel maps to the conversations table. Messages live in their
// own table ordered by seq; per-character memories live in char_memories.
type conversationModel struct {
	ID                string          `gorm:"primaryKey"`
	CharIDs           json.RawMessage `gorm:"type:jsonb"`
	MaskID            string
	IsGroup           bool
	RelationshipStage int
	Nickname          string
	Pinned            bool
	Hidden            bool

	// Legacy conversation-level memory, kept for threads created before
	// per-character memories existed.
	ImpressionTags      json.RawMessage `gorm:"type:jsonb"`
	ImpressionMonologue string
	HandEntries         json.RawMessage `gorm:"type:jsonb"`
	DailyDiaries        json.RawMessage `gorm:"type:jsonb"`
	MonthlyDiaries      json.RawMessage `gorm:"type:jsonb"`
	AffectionTemp       *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (conversationModel) TableName() string {
	return "conversations"
}

// messageModel maps to the messages table. Seq preserves log order within a
// conversation; structured payloads live in JSONB.
type messageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index:idx_messages_conversation_seq,priority:1"`
	Seq            int64  `gorm:"index:idx_messages_conversation_seq,priority:2"`
	Role           string
	Kind           string
	Text           string
	TimeLabel      string
	CharID         string
	Transfer       json.RawMessage `gorm:"type:jsonb"`
	Sticker        json.RawMessage `gorm:"type:jsonb"`
	Reactions      json.RawMessage `gorm:"type:jsonb"`
	Unsent         bool
	UnsentText     string
	QuotedText     string
	QuotedSender   string
	CreatedAt      time.Time
}

func (messageModel) TableName() string {
	return "messages"
}

// ConversationRepo accesses conversations and their message logs.
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo returns a ConversationRepo.
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Create inserts a new conversation. Messages already on the value are
// appended in order.
func (r *ConversationRepo) Create(ctx context.Context, conv *types.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	record, err := conversationToModel(conv)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		for i := range conv.Messages {
			msg := &conv.Messages[i]
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			row, err := messageToModel(conv.ID, int64(i+1), *msg)
			if err != nil {
				return err
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}
		return nil
	})
}

// Get loads a conversation with its full ordered message log and
// per-character memories.
func (r *ConversationRepo) Get(ctx context.Context, id string) (*types.Conversation, error) {
	var record conversationModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}

	var rows []messageModel
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("seq").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", id, err)
	}

	var memRows []charMemoryModel
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Find(&memRows).Error; err != nil {
		return nil, fmt.Errorf("failed to query char memories for %s: %w", id, err)
	}

	conv := conversationFromModel(record)
	conv.Messages = make([]types.Message, 0, len(rows))
	for _, row := range rows {
		conv.Messages = append(conv.Messages, messageFromModel(row))
	}
	if len(memRows) > 0 {
		conv.CharMemories = make(map[string]*types.CharMemory, len(memRows))
		for _, row := range memRows {
			conv.CharMemories[row.CharacterID] = charMemoryFromModel(row)
		}
	}
	return conv, nil
}

// List returns all conversations without their message logs, pinned first,
// most recently updated next.
func (r *ConversationRepo) List(ctx context.Context) ([]types.Conversation, error) {
	var records []conversationModel
	if err := r.db.WithContext(ctx).
		Order("pinned desc, updated_at desc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]types.Conversation, 0, len(records))
	for _, record := range records {
		out = append(out, *conversationFromModel(record))
	}
	return out, nil
}

// AppendMessage appends one message, recomputes the relationship stage from
// the assistant message count, and returns the fresh conversation.
func (r *ConversationRepo) AppendMessage(ctx context.Context, convID string, msg types.Message) (*types.Conversation, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record conversationModel
		if err := tx.Clauses(lockingClause()).First(&record, "id = ?", convID).Error; err != nil {
			return fmt.Errorf("failed to query conversation %s: %w", convID, err)
		}

		var maxSeq int64
		if err := tx.Model(&messageModel{}).
			Where("conversation_id = ?", convID).
			Select("coalesce(max(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to query max seq for %s: %w", convID, err)
		}

		row, err := messageToModel(convID, maxSeq+1, msg)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		var assistantCount int64
		if err := tx.Model(&messageModel{}).
			Where("conversation_id = ? AND role = ?", convID, string(types.RoleAssistant)).
			Count(&assistantCount).Error; err != nil {
			return fmt.Errorf("failed to count assistant messages for %s: %w", convID, err)
		}

		updates := map[string]any{
			"relationship_stage": relationship.Stage(int(assistantCount)),
			"updated_at":         time.Now(),
		}
		if err := tx.Model(&conversationModel{}).
			Where("id = ?", convID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update conversation %s: %w", convID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, convID)
}

// UpdateMessage applies the mutation to one message and writes it back.
func (r *ConversationRepo) UpdateMessage(ctx context.Context, convID, msgID string, update func(*types.Message)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row messageModel
		if err := tx.Clauses(lockingClause()).
			First(&row, "conversation_id = ? AND id = ?", convID, msgID).Error; err != nil {
			return fmt.Errorf("failed to query message %s: %w", msgID, err)
		}
		msg := messageFromModel(row)
		update(&msg)
		updated, err := messageToModel(convID, row.Seq, msg)
		if err != nil {
			return err
		}
		updated.CreatedAt = row.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return fmt.Errorf("failed to update message %s: %w", msgID, err)
		}
		return nil
	})
}

// RemoveMessage deletes one message and recomputes the relationship stage.
func (r *ConversationRepo) RemoveMessage(ctx context.Context, convID, msgID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&messageModel{}, "conversation_id = ? AND id = ?", convID, msgID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete message %s: %w", msgID, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var assistantCount int64
		if err := tx.Model(&messageModel{}).
			Where("conversation_id = ? AND role = ?", convID, string(types.RoleAssistant)).
			Count(&assistantCount).Error; err != nil {
			return fmt.Errorf("failed to count assistant messages for %s: %w", convID, err)
		}
		if err := tx.Model(&conversationModel{}).
			Where("id = ?", convID).
			Update("relationship_stage", relationship.Stage(int(assistantCount))).Error; err != nil {
			return fmt.Errorf("failed to update conversation %s: %w", convID, err)
		}
		return nil
	})
}

// Update persists the conversation header fields. The message log and
// per-character memories are managed through their own methods.
func (r *ConversationRepo) Update(ctx context.Context, conv *types.Conversation) error {
	record, err := conversationToModel(conv)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Delete removes a conversation with its messages and memories.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&messageModel{}, "conversation_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete messages for %s: %w", id, err)
		}
		if err := tx.Delete(&charMemoryModel{}, "conversation_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete char memories for %s: %w", id, err)
		}
		if err := tx.Delete(&conversationModel{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete conversation %s: %w", id, err)
		}
		return nil
	})
}

// lockingClause takes a row lock so concurrent appends see a consistent seq.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func conversationToModel(conv *types.Conversation) (*conversationModel, error) {
	charIDs, err := marshalJSON(conv.CharIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode char ids: %w", err)
	}
	tags, err := marshalJSON(conv.ImpressionTags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode impression tags: %w", err)
	}
	hand, err := marshalJSON(conv.HandEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hand entries: %w", err)
	}
	daily, err := marshalJSON(conv.DailyDiaries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode daily diaries: %w", err)
	}
	monthly, err := marshalJSON(conv.MonthlyDiaries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode monthly diaries: %w", err)
	}
	return &conversationModel{
		ID:                  conv.ID,
		CharIDs:             charIDs,
		MaskID:              conv.MaskID,
		IsGroup:             conv.IsGroup,
		RelationshipStage:   conv.RelationshipStage,
		Nickname:            conv.Nickname,
		Pinned:              conv.Pinned,
		Hidden:              conv.Hidden,
		ImpressionTags:      tags,
		ImpressionMonologue: conv.ImpressionMonologue,
		HandEntries:         hand,
		DailyDiaries:        daily,
		MonthlyDiaries:      monthly,
		AffectionTemp:       conv.AffectionTemp,
		CreatedAt:           conv.CreatedAt,
		UpdatedAt:           conv.UpdatedAt,
	}, nil
}

func conversationFromModel(record conversationModel) *types.Conversation {
	conv := &types.Conversation{
		ID:                  record.ID,
		MaskID:              record.MaskID,
		IsGroup:             record.IsGroup,
		RelationshipStage:   record.RelationshipStage,
		Nickname:            record.Nickname,
		Pinned:              record.Pinned,
		Hidden:              record.Hidden,
		ImpressionMonologue: record.ImpressionMonologue,
		AffectionTemp:       record.AffectionTemp,
		CreatedAt:           record.CreatedAt,
		UpdatedAt:           record.UpdatedAt,
	}
	_ = unmarshalJSON(record.CharIDs, &conv.CharIDs)
	_ = unmarshalJSON(record.ImpressionTags, &conv.ImpressionTags)
	_ = unmarshalJSON(record.HandEntries, &conv.HandEntries)
	_ = unmarshalJSON(record.DailyDiaries, &conv.DailyDiaries)
	_ = unmarshalJSON(record.MonthlyDiaries, &conv.MonthlyDiaries)
	return conv
}

func messageToModel(convID string, seq int64, msg types.Message) (*messageModel, error) {
	transfer, err := marshalJSON(msg.Transfer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer: %w", err)
	}
	sticker, err := marshalJSON(msg.Sticker)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sticker: %w", err)
	}
	reactions, err := marshalJSON(msg.Reactions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reactions: %w", err)
	}
	return &messageModel{
		ID:             msg.ID,
		ConversationID: convID,
		Seq:            seq,
		Role:           string(msg.Role),
		Kind:           string(msg.Kind),
		Text:           msg.Text,
		TimeLabel:      msg.Time,
		CharID:         msg.CharID,
		Transfer:       transfer,
		Sticker:        sticker,
		Reactions:      reactions,
		Unsent:         msg.Unsent,
		UnsentText:     msg.UnsentText,
		QuotedText:     msg.QuotedText,
		QuotedSender:   msg.QuotedSender,
	}, nil
}

func messageFromModel(row messageModel) types.Message {
	msg := types.Message{
		ID:           row.ID,
		Role:         types.Role(row.Role),
		Kind:         types.MessageKind(row.Kind),
		Text:         row.Text,
		Time:         row.TimeLabel,
		CharID:       row.CharID,
		Unsent:       row.Unsent,
		UnsentText:   row.UnsentText,
		QuotedText:   row.QuotedText,
		QuotedSender: row.QuotedSender,
	}
	_ = unmarshalJSON(row.Transfer, &msg.Transfer)
	_ = unmarshalJSON(row.Sticker, &msg.Sticker)
	_ = unmarshalJSON(row.Reactions, &msg.Reactions)
	return msg
}
