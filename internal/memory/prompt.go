package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

// Prompt compilation limits. Memory is read selectively to keep the system
// prompt small; these caps bound each fragment.
const (
	MaxImpressionTags = 8
	MaxDailyEntries   = 3
	DailyRuneLimit    = 80
	MonthlyRuneLimit  = 120
	MaxHandEntries    = 5
	MaxChunkHits      = 3
	ChunkScanWindow   = 6
)

// affectionGuide tells the character how to treat the user at each stage.
var affectionGuide = [5]string{
	"你对用户是陌生人态度：话少、有防备、敷衍，不主动分享。",
	"你刚和用户熟一点：会接话、偶尔分享，但还不太放得开。",
	"你和用户是朋友：会互相分享生活，自然交流。",
	"你和用户有些暧昧：会有令人心动的话语，语气更亲密。",
	"你和用户是爱人/灵魂伴侣：再冷淡的人也会撒娇，信任且亲密。",
}

// guideFamiliarIndex is the default stage when the temperature is out of
// range.
const guideFamiliarIndex = 2

// BuildPrompt compiles mem into ordered system-prompt fragments:
// affection guidance, impression tags, recent daily diaries, the current
// month's diary, today's hand entries, then tag-triggered event chunks.
// stage is the conversation's derived relationship stage, overridden by
// mem.AffectionTemp when set. Pure; now supplies the date.
func BuildPrompt(mem *types.CharMemory, stage int, chunks []types.MemoryChunk, history []types.Message, now time.Time) []string {
	if mem == nil {
		return nil
	}
	var parts []string

	// Affection temperature is read first: it decides the whole attitude.
	temp := stage
	if mem.AffectionTemp != nil {
		temp = *mem.AffectionTemp
	}
	if temp > 4 {
		temp = 4
	}
	if temp < 0 {
		temp = guideFamiliarIndex
	}
	parts = append(parts, "【情感温度·对待用户的态度】\n"+affectionGuide[temp])

	if len(mem.ImpressionTags) > 0 {
		tags := mem.ImpressionTags
		if len(tags) > MaxImpressionTags {
			tags = tags[:MaxImpressionTags]
		}
		parts = append(parts, "【你对用户的印象】\n"+strings.Join(tags, "、"))
	}

	today := now.Format("2006-01-02")
	thisMonth := monthLabel(now)

	if daily := tail(mem.DailyDiaries, MaxDailyEntries); len(daily) > 0 {
		lines := make([]string, 0, len(daily))
		for _, d := range daily {
			lines = append(lines, truncateRunes(d.Content, DailyRuneLimit))
		}
		parts = append(parts, "【近期日日记】\n"+strings.Join(lines, "\n"))
	}

	var monthly *types.MonthlyDiary
	for i := range mem.MonthlyDiaries {
		if mem.MonthlyDiaries[i].Month == thisMonth {
			monthly = &mem.MonthlyDiaries[i]
		}
	}
	if monthly != nil {
		parts = append(parts, "【近期月记】\n"+truncateRunes(monthly.Content, MonthlyRuneLimit))
	}

	// Hand entries match today's exact date, or the same month-day of an
	// earlier year (anniversaries).
	monthDay := today[5:]
	var hands []string
	for _, h := range mem.HandEntries {
		if h.Date == today || strings.HasSuffix(h.Date, monthDay) {
			hands = append(hands, h.Content)
		}
	}
	if len(hands) > MaxHandEntries {
		hands = hands[len(hands)-MaxHandEntries:]
	}
	if len(hands) > 0 {
		parts = append(parts, "【今日手帐碎片】\n"+strings.Join(hands, "；"))
	}

	if hits := matchChunks(chunks, history); len(hits) > 0 {
		parts = append(parts, "【相关经历（自然融入，勿生硬引用）】\n"+strings.Join(hits, "\n"))
	}

	return parts
}

// matchChunks returns contents of chunks whose tags appear in the last
// ChunkScanWindow messages, case-insensitively, capped at MaxChunkHits.
func matchChunks(chunks []types.MemoryChunk, history []types.Message) []string {
	if len(chunks) == 0 {
		return nil
	}
	recent := tail(history, ChunkScanWindow)
	var sb strings.Builder
	for _, m := range recent {
		sb.WriteString(m.Text)
		sb.WriteString(" ")
	}
	haystack := strings.ToLower(sb.String())

	var hits []string
	for _, c := range chunks {
		for _, tag := range c.Tags {
			if tag == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(tag)) {
				hits = append(hits, c.Content)
				break
			}
		}
		if len(hits) == MaxChunkHits {
			break
		}
	}
	return hits
}

func monthLabel(t time.Time) string {
	return fmt.Sprintf("%d年%d月", t.Year(), int(t.Month()))
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
