// Package relationship derives the relationship stage from conversation length.
package relationship

import "github.com/uzuki-dev/palmtalk/internal/types"

// StageNames are the five stages, index 0 to 4.
var StageNames = [5]string{"陌生人", "破冰期", "熟悉", "暧昧", "灵魂伴侣"}

// thresholds[i] is the minimum assistant message count for stage i.
var thresholds = [5]int{0, 5, 20, 50, 100}

// Stage maps an assistant message count to a stage index in [0,4].
// Negative counts are treated as zero.
func Stage(assistantCount int) int {
	for i := len(thresholds) - 1; i >= 0; i-- {
		if assistantCount >= thresholds[i] {
			return i
		}
	}
	return 0
}

// CountAssistant returns the number of assistant messages in the log.
func CountAssistant(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			n++
		}
	}
	return n
}

// StageForMessages derives the stage for a full message log.
func StageForMessages(messages []types.Message) int {
	return Stage(CountAssistant(messages))
}

// Name returns the display name for a stage index, clamping out-of-range
// values into [0,4].
func Name(stage int) string {
	if stage < 0 {
		stage = 0
	}
	if stage > 4 {
		stage = 4
	}
	return StageNames[stage]
}
