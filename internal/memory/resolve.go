// Package memory reads and writes layered per-character memory and compiles
// it into system-prompt fragments.
package memory

import "github.com/uzuki-dev/palmtalk/internal/types"

// Resolve returns charID's memory inside conv. The per-character map entry
// wins; for participants without one, the legacy conversation-level fields
// are synthesized into a read view. The synthesized view is never written
// back to the conversation. Returns nil for non-participants.
func Resolve(conv *types.Conversation, charID string) *types.CharMemory {
	if conv == nil {
		return nil
	}
	if cm, ok := conv.CharMemories[charID]; ok && cm != nil {
		return cm
	}
	for _, id := range conv.CharIDs {
		if id != charID {
			continue
		}
		temp := conv.RelationshipStage
		if conv.AffectionTemp != nil {
			temp = *conv.AffectionTemp
		}
		return &types.CharMemory{
			ImpressionTags:      conv.ImpressionTags,
			ImpressionMonologue: conv.ImpressionMonologue,
			HandEntries:         conv.HandEntries,
			DailyDiaries:        conv.DailyDiaries,
			MonthlyDiaries:      conv.MonthlyDiaries,
			AffectionTemp:       &temp,
		}
	}
	return nil
}
