package relationship

import (
	"testing"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

func TestStageThresholds(t *testing.T) {
	cases := []struct {
		count int
		want  int
	}{
		{0, 0}, {4, 0},
		{5, 1}, {19, 1},
		{20, 2}, {49, 2},
		{50, 3}, {99, 3},
		{100, 4}, {500, 4},
	}
	for _, c := range cases {
		if got := Stage(c.count); got != c.want {
			t.Fatalf("Stage(%d) = %d, want %d", c.count, got, c.want)
		}
	}
}

func TestStageNegativeCount(t *testing.T) {
	if got := Stage(-3); got != 0 {
		t.Fatalf("Stage(-3) = %d, want 0", got)
	}
}

func TestStageMonotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 120; n++ {
		got := Stage(n)
		if got < prev {
			t.Fatalf("stage decreased at count %d: %d -> %d", n, prev, got)
		}
		prev = got
	}
}

func TestStageForMessagesCountsAssistantOnly(t *testing.T) {
	var msgs []types.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, types.NewTextMessage(types.RoleUser, "hi", "10:00"))
	}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, types.NewTextMessage(types.RoleAssistant, "嗯", "10:01"))
	}
	if got := StageForMessages(msgs); got != 1 {
		t.Fatalf("StageForMessages = %d, want 1", got)
	}
}

func TestNameClamps(t *testing.T) {
	if Name(-1) != "陌生人" {
		t.Fatalf("unexpected name for -1: %s", Name(-1))
	}
	if Name(9) != "灵魂伴侣" {
		t.Fatalf("unexpected name for 9: %s", Name(9))
	}
}
