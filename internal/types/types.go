// Package types holds the persisted domain records shared across the engine.
package types

import "time"

// DialogExample is one style exemplar attached to a character: what the
// user said and how the character answered.
type DialogExample struct {
	User  string `json:"user"`
	Reply string `json:"reply"`
}

// MemoryChunk is an event memory attached to a character, injected into
// the system prompt only when recent conversation touches one of its tags.
type MemoryChunk struct {
	Tags    []string `json:"tags"`
	Content string   `json:"content"`
}

// Character is the persisted character profile.
type Character struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`

	// CorePrompt is the distilled persona; RawPersona is the user's
	// unprocessed free text. CorePrompt wins when both are present.
	CorePrompt     string          `json:"core_prompt"`
	RawPersona     string          `json:"raw_persona"`
	DialogExamples []DialogExample `json:"dialog_examples"`
	MemoryChunks   []MemoryChunk   `json:"memory_chunks"`

	// v1 legacy structured fields, used only when CorePrompt and
	// RawPersona are both empty.
	Birthday    string `json:"birthday"`
	Height      string `json:"height"`
	MBTI        string `json:"mbti"`
	Likes       string `json:"likes"`
	Dislikes    string `json:"dislikes"`
	Personality string `json:"personality"`
	Background  string `json:"background"`
	Other       string `json:"other_settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserMask is an identity the user speaks through.
type UserMask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`

	Birthday    string `json:"birthday"`
	Height      string `json:"height"`
	MBTI        string `json:"mbti"`
	Likes       string `json:"likes"`
	Dislikes    string `json:"dislikes"`
	Personality string `json:"personality"`
	Background  string `json:"background"`
	Other       string `json:"other_settings"`
}

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind discriminates the message payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindTransfer MessageKind = "transfer"
	KindSticker  MessageKind = "sticker"
)

// Transfer is the payload of a KindTransfer message.
type Transfer struct {
	Amount   float64 `json:"amount"`
	Note     string  `json:"note"`
	Accepted bool    `json:"accepted"`
}

// Sticker is the payload of a KindSticker message.
type Sticker struct {
	URL string `json:"url"`
}

// Message is one entry in a conversation log. Exactly one payload matches
// Kind: Text for KindText, Transfer/Sticker for the others.
type Message struct {
	ID     string      `json:"id"`
	Role   Role        `json:"role"`
	Kind   MessageKind `json:"kind"`
	Text   string      `json:"text"`
	Time   string      `json:"time"`
	CharID string      `json:"char_id,omitempty"`

	Transfer *Transfer `json:"transfer,omitempty"`
	Sticker  *Sticker  `json:"sticker,omitempty"`

	Reactions []string `json:"reactions,omitempty"`

	// Unsent keeps the bubble in the log as a placeholder; UnsentText
	// preserves the original so it can still be peeked at.
	Unsent     bool   `json:"unsent,omitempty"`
	UnsentText string `json:"unsent_text,omitempty"`

	QuotedText   string `json:"quoted_text,omitempty"`
	QuotedSender string `json:"quoted_sender,omitempty"`
}

// NewTextMessage builds a plain text message.
func NewTextMessage(role Role, text, timeLabel string) Message {
	return Message{Role: role, Kind: KindText, Text: text, Time: timeLabel}
}

// HandEntry is a short factual note, several allowed per day.
type HandEntry struct {
	ID      string `json:"id"`
	Date    string `json:"date"` // YYYY-MM-DD
	Content string `json:"content"`
}

// DailyDiary is one first-person diary entry per day.
type DailyDiary struct {
	Date    string `json:"date"` // YYYY-MM-DD
	Content string `json:"content"`
}

// MonthlyDiary is one first-person summary per month.
type MonthlyDiary struct {
	Month   string `json:"month"` // e.g. 2026年8月
	Content string `json:"content"`
}

// CharMemory is one character's private memory inside one conversation.
type CharMemory struct {
	ImpressionTags      []string       `json:"impression_tags"`
	ImpressionMonologue string         `json:"impression_monologue"`
	HandEntries         []HandEntry    `json:"hand_entries"`
	DailyDiaries        []DailyDiary   `json:"daily_diaries"`
	MonthlyDiaries      []MonthlyDiary `json:"monthly_diaries"`

	// AffectionTemp overrides the derived relationship stage when set.
	AffectionTemp *int `json:"affection_temp,omitempty"`

	// LastRefinedMessageCount is the conversation length at the last
	// refine-to-handlog run.
	LastRefinedMessageCount int `json:"last_refined_message_count"`
}

// Conversation is a chat thread between the user (through a mask) and one
// or more characters.
type Conversation struct {
	ID      string   `json:"id"`
	CharIDs []string `json:"char_ids"`
	MaskID  string   `json:"mask_id"`
	IsGroup bool     `json:"is_group"`

	Messages []Message `json:"messages"`

	// RelationshipStage is derived from the assistant message count on
	// every append, never set directly.
	RelationshipStage int `json:"relationship_stage"`

	Nickname string `json:"nickname,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`

	// Legacy conversation-level memory, read only when the character has
	// no entry in CharMemories.
	ImpressionTags      []string       `json:"impression_tags"`
	ImpressionMonologue string         `json:"impression_monologue"`
	HandEntries         []HandEntry    `json:"hand_entries"`
	DailyDiaries        []DailyDiary   `json:"daily_diaries"`
	MonthlyDiaries      []MonthlyDiary `json:"monthly_diaries"`
	AffectionTemp       *int           `json:"affection_temp,omitempty"`

	// CharMemories is keyed by character ID.
	CharMemories map[string]*CharMemory `json:"char_memories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
