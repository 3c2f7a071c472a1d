package reply

import (
	"reflect"
	"testing"
)

func TestParseDelimiter(t *testing.T) {
	got := Parse("<reply>在|||干嘛</reply>")
	want := []string{"在", "干嘛"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseFirstReplyRegionWins(t *testing.T) {
	got := Parse("<reply>早</reply>junk<reply>晚</reply>")
	if len(got) != 1 || got[0] != "早" {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseStripsThinkWithoutReply(t *testing.T) {
	got := Parse("<think>推理中……</think>嗯|||睡了")
	want := []string{"嗯", "睡了"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseStraysTagsStripped(t *testing.T) {
	got := Parse("</reply>哦")
	if len(got) != 1 || got[0] != "哦" {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseLeadingQuoteDropped(t *testing.T) {
	got := Parse("[quote:昨天那句话] 别提了")
	if len(got) != 1 || got[0] != "别提了" {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseNewlineSplitWithoutDelimiter(t *testing.T) {
	got := Parse("第一句\n\n第二句\n")
	want := []string{"第一句", "第二句"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseWhitespaceBetweenDelimiters(t *testing.T) {
	got := Parse("喂 ||| ||| 在吗")
	want := []string{"喂", "在吗"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parts: %#v", got)
	}
}

func TestParseEmptyFallsBack(t *testing.T) {
	for _, raw := range []string{"", "   ", "<think>只有推理</think>", "<reply></reply>"} {
		got := Parse(raw)
		if len(got) != 1 || got[0] != Fallback {
			t.Fatalf("Parse(%q) = %#v, want fallback", raw, got)
		}
	}
}

func TestParseNeverEmpty(t *testing.T) {
	for _, raw := range []string{"x", "|||", "<reply>a|||b|||c</reply>", "\n\n"} {
		if got := Parse(raw); len(got) == 0 {
			t.Fatalf("Parse(%q) returned empty slice", raw)
		}
	}
}

func TestStickerOf(t *testing.T) {
	emoji, ok := StickerOf("[sticker:😂]")
	if !ok || emoji != "😂" {
		t.Fatalf("unexpected: %q %v", emoji, ok)
	}
	if _, ok := StickerOf("前面有字[sticker:😂]"); ok {
		t.Fatalf("partial match should not count as sticker bubble")
	}
	if _, ok := StickerOf("[sticker:]"); ok {
		t.Fatalf("empty payload should not match")
	}
}

func TestExpandStickers(t *testing.T) {
	got := ExpandStickers("好笑[sticker:😂]吧")
	if got != "好笑😂吧" {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
