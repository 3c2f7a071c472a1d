package memory

import (
	"testing"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

func TestResolvePerCharacterWins(t *testing.T) {
	conv := &types.Conversation{
		CharIDs:        []string{"c1"},
		ImpressionTags: []string{"legacy"},
		CharMemories: map[string]*types.CharMemory{
			"c1": {ImpressionTags: []string{"modern"}},
		},
	}
	mem := Resolve(conv, "c1")
	if mem == nil || len(mem.ImpressionTags) != 1 || mem.ImpressionTags[0] != "modern" {
		t.Fatalf("per-character record should win: %#v", mem)
	}
}

func TestResolveLegacyFallback(t *testing.T) {
	conv := &types.Conversation{
		CharIDs:             []string{"c1"},
		RelationshipStage:   2,
		ImpressionTags:      []string{"legacy"},
		ImpressionMonologue: "独白",
		HandEntries:         []types.HandEntry{{ID: "h", Date: "2026-08-28", Content: "x"}},
	}
	mem := Resolve(conv, "c1")
	if mem == nil {
		t.Fatal("participant should resolve")
	}
	if mem.ImpressionTags[0] != "legacy" || mem.ImpressionMonologue != "独白" || len(mem.HandEntries) != 1 {
		t.Fatalf("legacy fields not carried: %#v", mem)
	}
	if mem.AffectionTemp == nil || *mem.AffectionTemp != 2 {
		t.Fatalf("affection temp should default to the stage: %#v", mem.AffectionTemp)
	}
	if mem.LastRefinedMessageCount != 0 {
		t.Fatalf("legacy view should start with zero watermark")
	}
}

func TestResolveLegacyAffectionTempWins(t *testing.T) {
	temp := 4
	conv := &types.Conversation{CharIDs: []string{"c1"}, RelationshipStage: 1, AffectionTemp: &temp}
	mem := Resolve(conv, "c1")
	if mem.AffectionTemp == nil || *mem.AffectionTemp != 4 {
		t.Fatalf("conversation affection temp should win: %#v", mem.AffectionTemp)
	}
}

func TestResolveDoesNotWriteBack(t *testing.T) {
	conv := &types.Conversation{CharIDs: []string{"c1"}}
	_ = Resolve(conv, "c1")
	if conv.CharMemories != nil {
		t.Fatalf("resolve must not materialize the per-character map")
	}
}

func TestResolveNonParticipant(t *testing.T) {
	conv := &types.Conversation{CharIDs: []string{"c1"}}
	if mem := Resolve(conv, "stranger"); mem != nil {
		t.Fatalf("non-participant should resolve to nil: %#v", mem)
	}
	if mem := Resolve(nil, "c1"); mem != nil {
		t.Fatalf("nil conversation should resolve to nil")
	}
}
