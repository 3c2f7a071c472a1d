package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uzuki-dev/palmtalk/internal/reply"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

// Visible error and placeholder texts.
const (
	msgConfigureAPI = "请先在设置中配置 API 地址和密钥。"
	msgUnsentTease  = "你撤回了什么？让我猜猜…"
	msgRequestFail  = "请求失败"
)

var weekdayNames = [7]string{"日", "一", "二", "三", "四", "五", "六"}

// timeNote anchors the character in the current date and time so its
// activity matches the hour.
func timeNote(now time.Time) string {
	return fmt.Sprintf(`【当前时间】%d年%d月%d日 周%s %02d:%02d
根据这个时间判断自己现在应该在做什么（睡觉/起床/上班/吃饭/发呆等），并自然地融入到对话状态中。`,
		now.Year(), int(now.Month()), now.Day(), weekdayNames[now.Weekday()],
		now.Hour(), now.Minute())
}

// groupContext frames a group turn for one member: who is in the room, who
// the member is, the allowed response modes, and the obligation to answer a
// direct mention. The ⟨名字⟩ warning keeps speaker prefixes from leaking
// into replies.
func groupContext(allNames, selfName string, mentioned bool) string {
	mentionNote := ""
	if mentioned {
		mentionNote = fmt.Sprintf("\n用户的消息直接叫到了你（%s），你必须回应。注意：中文逗号分隔的是不同意图，如\"不要，叫%s出来\"是两层意思。", selfName, selfName)
	}
	return fmt.Sprintf(`【群聊情境】群成员：用户、%s（你是%s）。
你可以：回应用户 / 附和或反驳其他成员 / 只和其他成员聊 / 用[sticker:emoji]做表情反应。%s
⚠ 重要：历史消息里的⟨名字⟩前缀是系统标记，仅用于区分发言者。你的<reply>里绝对不要出现任何⟨名字⟩前缀或角色名标签，直接写你要说的话。`,
		allNames, selfName, mentionNote)
}

// quoteNote tells the model which earlier line the user is replying to.
func quoteNote(senderName, quotedText string) string {
	return fmt.Sprintf("用户引用了%s的这句话「%s」在回复", senderName, truncateRunes(quotedText, 60))
}

// historyText renders one log entry as model-visible text. In group mode
// assistant lines get a ⟨名字⟩ speaker prefix; transfers and stickers
// collapse to bracketed descriptions.
func historyText(m types.Message, groupMode bool, nameOf func(string) string) string {
	prefix := ""
	if groupMode && m.Role == types.RoleAssistant && m.CharID != "" {
		if name := nameOf(m.CharID); name != "" {
			prefix = "⟨" + name + "⟩ "
		}
	}
	switch m.Kind {
	case types.KindTransfer:
		note := "无"
		if m.Transfer != nil && m.Transfer.Note != "" {
			note = m.Transfer.Note
		}
		amount := 0.0
		if m.Transfer != nil {
			amount = m.Transfer.Amount
		}
		return fmt.Sprintf("[转账 ¥%s，备注：%s]", strconv.FormatFloat(amount, 'f', -1, 64), note)
	case types.KindSticker:
		return prefix + "[发了一张表情图]"
	default:
		return prefix + m.Text
	}
}

// bubbleText converts a parsed reply part into the stored message text:
// whole-sticker bubbles keep their marker, inline markers expand to the
// bare emoji.
func bubbleText(part string) string {
	if _, ok := reply.StickerOf(part); ok {
		return part
	}
	return reply.ExpandStickers(part)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func joinNames(chars []*types.Character) string {
	names := make([]string, 0, len(chars))
	for _, c := range chars {
		names = append(names, c.Name)
	}
	return strings.Join(names, "、")
}
