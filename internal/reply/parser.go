// Package reply turns a raw model completion into displayable chat bubbles.
package reply

import (
	"regexp"
	"strings"
)

// Delimiter separates bubbles inside a single completion.
const Delimiter = "|||"

// Fallback replaces a completion that parses down to nothing.
const Fallback = "…"

var (
	replyRegion   = regexp.MustCompile(`(?is)<reply>(.*?)</reply>`)
	thinkRegion   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	strayReplyTag = regexp.MustCompile(`(?i)</?reply>`)
	leadingQuote  = regexp.MustCompile(`(?i)^\[quote:[^\]]{0,100}\]\s*`)
	delimiterCut  = regexp.MustCompile(`\s*\|\|\|\s*`)
	stickerOnly   = regexp.MustCompile(`^\[sticker:(.+?)\]$`)
	stickerInline = regexp.MustCompile(`\[sticker:([^\]]+)\]`)
)

// Parse splits a raw completion into bubbles. The first <reply> region wins
// when present; otherwise <think> regions and stray reply tags are stripped
// and the rest is kept. A leading [quote:...] echo is dropped. Bubbles are
// cut on ||| when present, otherwise on newlines. Never returns an empty
// slice.
func Parse(raw string) []string {
	text := strings.TrimSpace(raw)

	if m := replyRegion.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else {
		text = strings.TrimSpace(thinkRegion.ReplaceAllString(text, ""))
		text = strings.TrimSpace(strayReplyTag.ReplaceAllString(text, ""))
	}

	text = strings.TrimSpace(leadingQuote.ReplaceAllString(text, ""))

	var parts []string
	if strings.Contains(text, Delimiter) {
		parts = delimiterCut.Split(text, -1)
	} else {
		parts = strings.Split(text, "\n")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{Fallback}
	}
	return out
}

// StickerOf reports whether the bubble is exactly one sticker marker and
// returns the marker payload.
func StickerOf(part string) (string, bool) {
	m := stickerOnly.FindStringSubmatch(strings.TrimSpace(part))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExpandStickers replaces inline [sticker:X] markers with X, for bubbles
// that mix stickers into running text.
func ExpandStickers(text string) string {
	return stickerInline.ReplaceAllString(text, "$1")
}
