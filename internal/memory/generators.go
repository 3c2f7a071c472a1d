package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/uzuki-dev/palmtalk/internal/types"
	"github.com/uzuki-dev/palmtalk/internal/utils"
)

// Config bounds the memory generators.
type Config struct {
	// RefineWindow is how many trailing messages feed refine-to-handlog.
	RefineWindow int
	// AnalysisWindow is how many trailing messages feed impression and
	// diary generation.
	AnalysisWindow int
	// RefineThreshold is the unrefined backlog that triggers auto-refine.
	RefineThreshold int
	// HandEntryRuneLimit caps a refined hand entry.
	HandEntryRuneLimit int
}

// DefaultConfig returns the standard generator limits.
func DefaultConfig() Config {
	return Config{
		RefineWindow:       50,
		AnalysisWindow:     40,
		RefineThreshold:    50,
		HandEntryRuneLimit: 100,
	}
}

// Repo persists per-character memory keyed by conversation and character.
type Repo interface {
	Get(ctx context.Context, convID, charID string) (*types.CharMemory, error)
	Put(ctx context.Context, convID, charID string, mem *types.CharMemory) error
}

// CharacterDirectory resolves character profiles for transcript labels.
type CharacterDirectory interface {
	GetByID(ctx context.Context, id string) (*types.Character, error)
}

const refineInstruction = `根据以下聊天记录，用客观陈述提炼 1 条约 100 字的手帐。格式：用户做了什么，XX（角色名）做了什么。只写事实（约定、事件、行为），不要口语、不要情绪词、不要温度。只输出手帐正文。`

const tagsInstruction = `根据聊天记录，分析 %s 对用户的印象标签。3-6 个词，逗号分隔，每词不超过 6 字。客观概括性格、习惯或互动特点（如：健谈、内向、爱熬夜、喜欢猫、常加班）。不要宠溺、夸张或恋爱向表达。只输出标签。`

const monologueInstruction = `你是 %s。根据以下聊天记录，以第一人称写一段 80-120 字的内心独白，描述你对用户目前的感受与印象。语气自然，情感真实，不要编造没有的互动。只输出独白正文，不加引号或标题。`

const dailyDiaryInstruction = `你是 %s。根据以下内容，以第一人称写一段 60-100 字的今日日记。语气自然，像真人日记。只输出正文。`

const monthlyDiaryInstruction = `你是 %s。根据以下本月日记/聊天，以第一人称写一段 80-120 字的月记总结。语气自然。只输出正文。`

var tagSeparators = regexp.MustCompile(`[，,、\s]+`)

// Generators produces memory entries from conversation logs with an LLM.
type Generators struct {
	model      model.LLM
	memories   Repo
	characters CharacterDirectory
	cfg        Config
	nowFunc    func() time.Time
}

// NewGenerators wires the memory generators.
func NewGenerators(m model.LLM, memories Repo, characters CharacterDirectory, cfg Config) *Generators {
	if cfg.RefineWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Generators{
		model:      m,
		memories:   memories,
		characters: characters,
		cfg:        cfg,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (g *Generators) SetNowFunc(now func() time.Time) {
	g.nowFunc = now
}

// RefineToHandlog distills the trailing refine window into one factual hand
// entry and advances the refine watermark to the current log length.
// Returns nil without error when the model produced nothing usable.
func (g *Generators) RefineToHandlog(ctx context.Context, conv *types.Conversation, charID string) (*types.HandEntry, error) {
	text := g.transcript(ctx, conv, g.cfg.RefineWindow)
	result, err := g.generate(ctx, refineInstruction, text)
	if err != nil {
		return nil, fmt.Errorf("refine to handlog: %w", err)
	}
	content := truncateRunes(strings.TrimSpace(result), g.cfg.HandEntryRuneLimit)
	if content == "" {
		return nil, nil
	}

	mem := g.memoryFor(ctx, conv, charID)
	entry := types.HandEntry{
		ID:      uuid.NewString(),
		Date:    g.nowFunc().Format("2006-01-02"),
		Content: content,
	}
	mem.HandEntries = append(mem.HandEntries, entry)
	mem.LastRefinedMessageCount = len(conv.Messages)
	if err := g.memories.Put(ctx, conv.ID, charID, mem); err != nil {
		return nil, fmt.Errorf("store hand entry: %w", err)
	}
	return &entry, nil
}

// AnalyzeImpression derives 3-6 impression tags from the analysis window
// and replaces the stored tag set.
func (g *Generators) AnalyzeImpression(ctx context.Context, conv *types.Conversation, charID string) ([]string, error) {
	name := g.charName(ctx, charID)
	result, err := g.generate(ctx, fmt.Sprintf(tagsInstruction, name), g.transcript(ctx, conv, g.cfg.AnalysisWindow))
	if err != nil {
		return nil, fmt.Errorf("analyze impression: %w", err)
	}

	var tags []string
	for _, t := range tagSeparators.Split(result, -1) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
		if len(tags) == 6 {
			break
		}
	}
	mem := g.memoryFor(ctx, conv, charID)
	mem.ImpressionTags = tags
	if err := g.memories.Put(ctx, conv.ID, charID, mem); err != nil {
		return nil, fmt.Errorf("store impression tags: %w", err)
	}
	return tags, nil
}

// GenerateMonologue writes the character's first-person impression of the
// user.
func (g *Generators) GenerateMonologue(ctx context.Context, conv *types.Conversation, charID string) (string, error) {
	name := g.charName(ctx, charID)
	result, err := g.generate(ctx, fmt.Sprintf(monologueInstruction, name), g.transcript(ctx, conv, g.cfg.AnalysisWindow))
	if err != nil {
		return "", fmt.Errorf("generate monologue: %w", err)
	}
	monologue := strings.TrimSpace(result)
	mem := g.memoryFor(ctx, conv, charID)
	mem.ImpressionMonologue = monologue
	if err := g.memories.Put(ctx, conv.ID, charID, mem); err != nil {
		return "", fmt.Errorf("store monologue: %w", err)
	}
	return monologue, nil
}

// GenerateDailyDiary writes today's diary from today's hand entries, or
// from the raw transcript when there are none. One entry per day: an
// existing entry for today is replaced.
func (g *Generators) GenerateDailyDiary(ctx context.Context, conv *types.Conversation, charID string) (*types.DailyDiary, error) {
	mem := g.memoryFor(ctx, conv, charID)
	today := g.nowFunc().Format("2006-01-02")

	var todays []string
	for _, h := range mem.HandEntries {
		if h.Date == today {
			todays = append(todays, h.Content)
		}
	}
	input := g.transcript(ctx, conv, g.cfg.AnalysisWindow)
	if len(todays) > 0 {
		input = "今日手帐：" + strings.Join(todays, "；")
	}

	name := g.charName(ctx, charID)
	result, err := g.generate(ctx, fmt.Sprintf(dailyDiaryInstruction, name), input)
	if err != nil {
		return nil, fmt.Errorf("generate daily diary: %w", err)
	}

	entry := types.DailyDiary{Date: today, Content: strings.TrimSpace(result)}
	kept := mem.DailyDiaries[:0:0]
	for _, d := range mem.DailyDiaries {
		if d.Date != today {
			kept = append(kept, d)
		}
	}
	mem.DailyDiaries = append(kept, entry)
	if err := g.memories.Put(ctx, conv.ID, charID, mem); err != nil {
		return nil, fmt.Errorf("store daily diary: %w", err)
	}
	return &entry, nil
}

// GenerateMonthlyDiary summarizes this month's daily diaries, or the raw
// transcript when there are none. One entry per month.
func (g *Generators) GenerateMonthlyDiary(ctx context.Context, conv *types.Conversation, charID string) (*types.MonthlyDiary, error) {
	mem := g.memoryFor(ctx, conv, charID)
	now := g.nowFunc()
	thisMonth := monthLabel(now)
	monthPrefix := now.Format("2006-01")

	var dailies []string
	for _, d := range mem.DailyDiaries {
		if strings.HasPrefix(d.Date, monthPrefix) {
			dailies = append(dailies, d.Content)
		}
	}
	input := g.transcript(ctx, conv, g.cfg.AnalysisWindow)
	if len(dailies) > 0 {
		input = strings.Join(dailies, "\n")
	}

	name := g.charName(ctx, charID)
	result, err := g.generate(ctx, fmt.Sprintf(monthlyDiaryInstruction, name), input)
	if err != nil {
		return nil, fmt.Errorf("generate monthly diary: %w", err)
	}

	entry := types.MonthlyDiary{Month: thisMonth, Content: strings.TrimSpace(result)}
	kept := mem.MonthlyDiaries[:0:0]
	for _, m := range mem.MonthlyDiaries {
		if m.Month != thisMonth {
			kept = append(kept, m)
		}
	}
	mem.MonthlyDiaries = append(kept, entry)
	if err := g.memories.Put(ctx, conv.ID, charID, mem); err != nil {
		return nil, fmt.Errorf("store monthly diary: %w", err)
	}
	return &entry, nil
}

// memoryFor loads the stored record, falling back to the in-conversation
// resolved view, falling back to an empty record.
func (g *Generators) memoryFor(ctx context.Context, conv *types.Conversation, charID string) *types.CharMemory {
	if stored, err := g.memories.Get(ctx, conv.ID, charID); err == nil && stored != nil {
		return stored
	}
	if mem := Resolve(conv, charID); mem != nil {
		return mem
	}
	return &types.CharMemory{}
}

// transcript renders the last n messages as "发言者：内容" lines.
func (g *Generators) transcript(ctx context.Context, conv *types.Conversation, n int) string {
	names := make(map[string]string)
	lines := make([]string, 0, n)
	for _, m := range tail(conv.Messages, n) {
		who := "用户"
		if m.Role == types.RoleAssistant {
			who = "AI"
			if m.CharID != "" {
				if name, ok := names[m.CharID]; ok {
					who = name
				} else if c, err := g.characters.GetByID(ctx, m.CharID); err == nil && c != nil {
					names[m.CharID] = c.Name
					who = c.Name
				}
			}
		}
		lines = append(lines, who+"："+m.Text)
	}
	return strings.Join(lines, "\n")
}

func (g *Generators) charName(ctx context.Context, charID string) string {
	if c, err := g.characters.GetByID(ctx, charID); err == nil && c != nil && c.Name != "" {
		return c.Name
	}
	return "AI"
}

func (g *Generators) generate(ctx context.Context, system, user string) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("memory generator model not configured")
	}
	req := &model.LLMRequest{
		Contents: []*genai.Content{
			genai.NewContentFromText(system, "system"),
			genai.NewContentFromText(user, "user"),
		},
	}

	seq := g.model.GenerateContent(ctx, req, false)
	var resp *model.LLMResponse
	var err error
	seq(func(r *model.LLMResponse, e error) bool {
		resp = r
		err = e
		return false
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return utils.ExtractContentText(resp.Content), nil
}
