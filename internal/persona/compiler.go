// Package persona compiles character profiles and user masks into
// system-prompt blocks.
package persona

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

// MaxDialogExamples caps how many style exemplars make it into the prompt.
const MaxDialogExamples = 6

// Compile renders a character profile into its system-prompt text:
// identity block, optional style exemplars, and the fixed format block.
// The result is never empty; with a blank profile the identity block
// degrades to "你是{name}。".
func Compile(name string, c *types.Character) string {
	if c == nil {
		c = &types.Character{}
	}

	blocks := []string{identityBlock(name, c)}
	if ex := exampleBlock(c.DialogExamples); ex != "" {
		blocks = append(blocks, ex)
	}
	blocks = append(blocks, formatBlock)
	return strings.Join(blocks, "\n\n")
}

func identityBlock(name string, c *types.Character) string {
	if c.CorePrompt != "" {
		return fmt.Sprintf("你是%s。%s", name, c.CorePrompt)
	}
	if c.RawPersona != "" {
		// Raw persona the user typed but never distilled.
		return fmt.Sprintf("你是%s。\n%s", name, c.RawPersona)
	}

	basic := joinLabeled("，",
		labeled("生日", c.Birthday),
		labeled("身高", c.Height),
		labeled("MBTI", c.MBTI),
	)
	var buf bytes.Buffer
	data := struct {
		Name  string
		Basic string
		Char  *types.Character
	}{Name: name, Basic: basic, Char: c}
	if err := legacyIdentityTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("你是%s。", name)
	}
	return buf.String()
}

func exampleBlock(examples []types.DialogExample) string {
	var lines []string
	for _, e := range examples {
		if strings.TrimSpace(e.User) == "" || strings.TrimSpace(e.Reply) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("\"%s\" → %s", e.User, e.Reply))
		if len(lines) == MaxDialogExamples {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "【说话风格——照这些例子学语气节奏】\n" + strings.Join(lines, "\n")
}

// MaskDescription renders the user-mask profile into the user-identity
// block text. Blank fields are skipped; with everything blank only the
// identity line remains.
func MaskDescription(name string, m *types.UserMask) string {
	if m == nil {
		m = &types.UserMask{}
	}

	basic := joinLabeled("　",
		labeled("生日", m.Birthday),
		labeled("身高", m.Height),
		labeled("MBTI", m.MBTI),
	)
	pref := joinLabeled("\n",
		labeled("喜欢", m.Likes),
		labeled("不喜欢", m.Dislikes),
	)

	var buf bytes.Buffer
	data := struct {
		Name  string
		Basic string
		Pref  string
		Mask  *types.UserMask
	}{Name: name, Basic: basic, Pref: pref, Mask: m}
	if err := maskTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("用户正在以【%s】这个身份与你交流。", name)
	}
	return buf.String()
}

func labeled(label, value string) string {
	if value == "" {
		return ""
	}
	return label + "：" + value
}

func joinLabeled(sep string, items ...string) string {
	var kept []string
	for _, it := range items {
		if it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, sep)
}
