package memory

import (
	"context"
	"iter"
	"strings"
	"testing"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

var _ model.LLM = (*fakeLLM)(nil)

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	f.calls++
	return func(yield func(*model.LLMResponse, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.LLMResponse{Content: genai.NewContentFromText(f.reply, "model")}, nil)
	}
}

type fakeMemoryRepo struct {
	records map[string]*types.CharMemory
}

var _ Repo = (*fakeMemoryRepo)(nil)

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{records: make(map[string]*types.CharMemory)}
}

func (r *fakeMemoryRepo) Get(ctx context.Context, convID, charID string) (*types.CharMemory, error) {
	return r.records[convID+"/"+charID], nil
}

func (r *fakeMemoryRepo) Put(ctx context.Context, convID, charID string, mem *types.CharMemory) error {
	r.records[convID+"/"+charID] = mem
	return nil
}

type fakeDirectory struct {
	chars map[string]*types.Character
}

var _ CharacterDirectory = (*fakeDirectory)(nil)

func (d *fakeDirectory) GetByID(ctx context.Context, id string) (*types.Character, error) {
	return d.chars[id], nil
}

func testGenerators(llm *fakeLLM) (*Generators, *fakeMemoryRepo) {
	repo := newFakeMemoryRepo()
	dir := &fakeDirectory{chars: map[string]*types.Character{
		"c1": {ID: "c1", Name: "Lu Chen"},
	}}
	gens := NewGenerators(llm, repo, dir, DefaultConfig())
	gens.SetNowFunc(func() time.Time { return testNow })
	return gens, repo
}

func convWithMessages(n int) *types.Conversation {
	conv := &types.Conversation{ID: "conv-1", CharIDs: []string{"c1"}}
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msg := types.NewTextMessage(role, "消息", "14:00")
		msg.CharID = "c1"
		conv.Messages = append(conv.Messages, msg)
	}
	return conv
}

func TestRefineToHandlogAdvancesWatermark(t *testing.T) {
	gens, repo := testGenerators(&fakeLLM{reply: "用户约了周六看展，Lu Chen 答应了。"})
	conv := convWithMessages(60)

	entry, err := gens.RefineToHandlog(context.Background(), conv, "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if entry == nil || entry.Date != "2026-08-28" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	stored := repo.records["conv-1/c1"]
	if stored == nil || len(stored.HandEntries) != 1 {
		t.Fatalf("hand entry not stored: %#v", stored)
	}
	if stored.LastRefinedMessageCount != 60 {
		t.Fatalf("watermark should advance to 60, got %d", stored.LastRefinedMessageCount)
	}
}

func TestRefineToHandlogTruncates(t *testing.T) {
	gens, repo := testGenerators(&fakeLLM{reply: strings.Repeat("事", 150)})
	conv := convWithMessages(60)

	if _, err := gens.RefineToHandlog(context.Background(), conv, "c1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	stored := repo.records["conv-1/c1"]
	if got := len([]rune(stored.HandEntries[0].Content)); got != 100 {
		t.Fatalf("hand entry should truncate to 100 runes, got %d", got)
	}
}

func TestRefineToHandlogEmptyResultSkips(t *testing.T) {
	gens, repo := testGenerators(&fakeLLM{reply: "   "})
	conv := convWithMessages(60)

	entry, err := gens.RefineToHandlog(context.Background(), conv, "c1")
	if err != nil || entry != nil {
		t.Fatalf("blank result should be skipped: %v %#v", err, entry)
	}
	if _, ok := repo.records["conv-1/c1"]; ok {
		t.Fatalf("nothing should be stored for a blank result")
	}
}

func TestAnalyzeImpressionSplitsTags(t *testing.T) {
	gens, repo := testGenerators(&fakeLLM{reply: "健谈，内向、爱熬夜 喜欢猫,常加班，细心，多余的"})
	conv := convWithMessages(10)

	tags, err := gens.AnalyzeImpression(context.Background(), conv, "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tags) != 6 {
		t.Fatalf("tags should cap at 6, got %d: %#v", len(tags), tags)
	}
	if tags[0] != "健谈" || tags[3] != "喜欢猫" {
		t.Fatalf("mixed separators not handled: %#v", tags)
	}
	if repo.records["conv-1/c1"] == nil {
		t.Fatalf("tags not stored")
	}
}

func TestGenerateDailyDiaryPrefersHandEntries(t *testing.T) {
	llm := &fakeLLM{reply: "今天也算有收获。"}
	gens, repo := testGenerators(llm)
	conv := convWithMessages(10)
	repo.records["conv-1/c1"] = &types.CharMemory{
		HandEntries: []types.HandEntry{{ID: "h", Date: "2026-08-28", Content: "看了展"}},
		DailyDiaries: []types.DailyDiary{
			{Date: "2026-08-28", Content: "会被替换"},
			{Date: "2026-08-27", Content: "保留"},
		},
	}

	entry, err := gens.GenerateDailyDiary(context.Background(), conv, "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if entry.Date != "2026-08-28" || entry.Content != "今天也算有收获。" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	stored := repo.records["conv-1/c1"]
	if len(stored.DailyDiaries) != 2 {
		t.Fatalf("same-day diary should be replaced, got %#v", stored.DailyDiaries)
	}
	for _, d := range stored.DailyDiaries {
		if d.Date == "2026-08-28" && d.Content == "会被替换" {
			t.Fatalf("stale same-day entry kept: %#v", stored.DailyDiaries)
		}
	}
}

func TestGenerateMonthlyDiaryReplacesMonth(t *testing.T) {
	gens, repo := testGenerators(&fakeLLM{reply: "八月总结。"})
	conv := convWithMessages(10)
	repo.records["conv-1/c1"] = &types.CharMemory{
		DailyDiaries:   []types.DailyDiary{{Date: "2026-08-10", Content: "日记"}},
		MonthlyDiaries: []types.MonthlyDiary{{Month: "2026年8月", Content: "旧月记"}},
	}

	entry, err := gens.GenerateMonthlyDiary(context.Background(), conv, "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if entry.Month != "2026年8月" {
		t.Fatalf("unexpected month: %#v", entry)
	}
	stored := repo.records["conv-1/c1"]
	if len(stored.MonthlyDiaries) != 1 || stored.MonthlyDiaries[0].Content != "八月总结。" {
		t.Fatalf("month entry should be replaced: %#v", stored.MonthlyDiaries)
	}
}

func TestAutoRefinerThreshold(t *testing.T) {
	gens, _ := testGenerators(&fakeLLM{reply: "手帐"})
	refiner := NewAutoRefiner(gens)

	if refiner.ShouldRefine(50, 0) {
		t.Fatalf("exactly at total threshold should not fire")
	}
	if !refiner.ShouldRefine(51, 0) {
		t.Fatalf("past threshold with empty watermark should fire")
	}
	if refiner.ShouldRefine(101, 60) {
		t.Fatalf("small backlog should not fire")
	}
	if !refiner.ShouldRefine(101, 40) {
		t.Fatalf("large backlog should fire")
	}
}

func TestAutoRefinerLatch(t *testing.T) {
	llm := &fakeLLM{reply: "手帐"}
	gens, repo := testGenerators(llm)
	refiner := NewAutoRefiner(gens)
	conv := convWithMessages(101)

	ran, err := refiner.MaybeRefine(context.Background(), conv, "c1")
	if err != nil || !ran {
		t.Fatalf("first check should refine: %v %v", ran, err)
	}
	// Simulate the stored watermark not being visible on the conversation
	// yet: repeated checks must still not refire.
	delete(repo.records, "conv-1/c1")
	for i := 0; i < 3; i++ {
		ran, err = refiner.MaybeRefine(context.Background(), conv, "c1")
		if err != nil || ran {
			t.Fatalf("latched pair refired on check %d", i)
		}
	}
	if llm.calls != 1 {
		t.Fatalf("model should be called once, got %d", llm.calls)
	}
}
