// Package chat orchestrates conversation turns: it assembles prompts, calls
// the model, parses replies into bubbles, and commits them to the log with
// human pacing.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/uzuki-dev/palmtalk/internal/memory"
	"github.com/uzuki-dev/palmtalk/internal/persona"
	"github.com/uzuki-dev/palmtalk/internal/reply"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

// Store is the persistence collaborator the engine drives. AppendMessage
// assigns the message ID, recomputes the relationship stage, and returns
// the fresh conversation.
type Store interface {
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	AppendMessage(ctx context.Context, convID string, msg types.Message) (*types.Conversation, error)
	UpdateMessage(ctx context.Context, convID, msgID string, update func(*types.Message)) error
	RemoveMessage(ctx context.Context, convID, msgID string) error
	GetCharacter(ctx context.Context, id string) (*types.Character, error)
	GetMask(ctx context.Context, id string) (*types.UserMask, error)
	ListStickers(ctx context.Context) ([]string, error)
}

// Sleeper pauses between bubbles. Injected so tests run instantly.
type Sleeper func(ctx context.Context, d time.Duration)

func defaultSleeper(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Engine runs conversation turns. Turns within one conversation are
// serialized by a per-conversation mutex; different conversations proceed
// independently.
type Engine struct {
	store   Store
	llm     model.LLM
	refiner *memory.AutoRefiner
	cfg     Config

	rngMu   sync.Mutex
	rng     *rand.Rand
	sleep   Sleeper
	nowFunc func() time.Time

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand injects the randomness source.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithSleeper injects the pacing sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithNowFunc injects the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// WithAutoRefiner enables memory auto-refine after reply turns.
func WithAutoRefiner(r *memory.AutoRefiner) Option {
	return func(e *Engine) { e.refiner = r }
}

// New creates an Engine. llm may be nil when the API is not configured;
// sends then produce a visible configuration-error message instead of
// calling out.
func New(store Store, llm model.LLM, cfg Config, opts ...Option) *Engine {
	if cfg.TurnHistoryWindow <= 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		store:     store,
		llm:       llm,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     defaultSleeper,
		nowFunc:   time.Now,
		convLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendUserMessage appends the user's text and runs the reply turn. quoted,
// when non-nil, marks the message the user is replying to. LLM failures
// surface as assistant-role error messages, not as returned errors.
func (e *Engine) SendUserMessage(ctx context.Context, convID, text string, quoted *types.Message) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message text cannot be empty")
	}

	unlock := e.lockConversation(convID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	msg := types.NewTextMessage(types.RoleUser, text, e.timeLabel())
	var extras []string
	if quoted != nil {
		sender := "你"
		if quoted.Role == types.RoleAssistant {
			sender = e.charNameOr(ctx, quoted.CharID, firstID(conv.CharIDs), "Ta")
		}
		msg.QuotedText = truncateRunes(quoted.Text, 80)
		msg.QuotedSender = sender
		extras = []string{quoteNote(sender, quoted.Text)}
	}

	conv, err = e.store.AppendMessage(ctx, convID, msg)
	if err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	if e.llm == nil {
		_, err := e.store.AppendMessage(ctx, convID, types.NewTextMessage(types.RoleAssistant, msgConfigureAPI, e.timeLabel()))
		return err
	}

	if conv.IsGroup {
		return e.groupTurn(ctx, conv, text, extras)
	}
	return e.singleTurn(ctx, conv, extras)
}

func (e *Engine) singleTurn(ctx context.Context, conv *types.Conversation, extras []string) error {
	if len(conv.CharIDs) == 0 {
		return fmt.Errorf("conversation %s has no characters", conv.ID)
	}
	char, err := e.store.GetCharacter(ctx, conv.CharIDs[0])
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	mask := e.maskOf(ctx, conv)

	history := tail(conv.Messages, e.cfg.TurnHistoryWindow)
	raw, err := e.call(ctx, conv, char, mask, extras, history, false)
	if err != nil {
		slog.Error("reply turn failed", "conversation", conv.ID, "character", char.ID, "error", err.Error())
		errMsg := types.NewTextMessage(types.RoleAssistant, "网络错误："+err.Error(), e.timeLabel())
		_, appendErr := e.store.AppendMessage(ctx, conv.ID, errMsg)
		return appendErr
	}

	parts := reply.Parse(raw)
	if err := e.commitParts(ctx, conv.ID, char.ID, parts, e.cfg.BubbleDelayMin, e.cfg.BubbleDelayJitter); err != nil {
		return err
	}
	e.maybeAutoRefine(ctx, conv.ID, char.ID)
	return nil
}

func (e *Engine) groupTurn(ctx context.Context, conv *types.Conversation, userText string, extras []string) error {
	chars, err := e.participants(ctx, conv)
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		return fmt.Errorf("conversation %s has no characters", conv.ID)
	}
	mask := e.maskOf(ctx, conv)
	allNames := joinNames(chars)

	var mentioned, others []*types.Character
	for _, c := range chars {
		if c.Name != "" && strings.Contains(userText, c.Name) {
			mentioned = append(mentioned, c)
		} else {
			others = append(others, c)
		}
	}

	var responders []*types.Character
	if len(mentioned) > 0 {
		responders = append(responders, mentioned...)
		if len(others) > 0 && e.chance(e.cfg.GroupExtraResponderChance) {
			responders = append(responders, others[e.intn(len(others))])
		}
	} else {
		responders = e.biasedShuffle(chars)
	}

	mentionedSet := make(map[string]bool, len(mentioned))
	for _, c := range mentioned {
		mentionedSet[c.ID] = true
	}

	for ci, gc := range responders {
		// Re-read the log so later members see earlier members' replies.
		fresh, err := e.store.GetConversation(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("reload conversation: %w", err)
		}
		history := tail(fresh.Messages, e.cfg.TurnHistoryWindow)

		turnExtras := append([]string{groupContext(allNames, gc.Name, mentionedSet[gc.ID])}, extras...)
		raw, err := e.call(ctx, fresh, gc, mask, turnExtras, history, true)
		if err != nil {
			slog.Error("group reply failed", "conversation", conv.ID, "character", gc.ID, "error", err.Error())
			detail := truncateRunes(err.Error(), 60)
			if detail == "" {
				detail = msgRequestFail
			}
			errMsg := types.NewTextMessage(types.RoleAssistant, "网络错误："+detail, e.timeLabel())
			errMsg.CharID = gc.ID
			if _, err := e.store.AppendMessage(ctx, conv.ID, errMsg); err != nil {
				return err
			}
		} else {
			parts := reply.Parse(raw)
			if err := e.commitParts(ctx, conv.ID, gc.ID, parts, e.cfg.GroupBubbleDelayMin, e.cfg.GroupBubbleDelayJitter); err != nil {
				return err
			}
			e.maybeAutoRefine(ctx, conv.ID, gc.ID)
		}

		if ci < len(responders)-1 {
			e.sleep(ctx, e.jitter(e.cfg.ResponderDelayMin, e.cfg.ResponderDelayJitter))
		}
	}
	return nil
}

// SendTransfer appends a user transfer and runs the best-effort reaction:
// one participant replies over the wider transfer window, then the oldest
// pending transfer is marked accepted.
func (e *Engine) SendTransfer(ctx context.Context, convID string, amount float64, note string) error {
	unlock := e.lockConversation(convID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	msg := types.Message{
		Role:     types.RoleUser,
		Kind:     types.KindTransfer,
		Time:     e.timeLabel(),
		Transfer: &types.Transfer{Amount: amount, Note: note},
	}
	conv, err = e.store.AppendMessage(ctx, convID, msg)
	if err != nil {
		return fmt.Errorf("append transfer: %w", err)
	}

	if e.llm == nil || len(conv.CharIDs) == 0 {
		return nil
	}

	e.sleep(ctx, e.cfg.TransferReactDelay)

	charID := conv.CharIDs[0]
	if conv.IsGroup {
		charID = conv.CharIDs[e.intn(len(conv.CharIDs))]
	}
	char, err := e.store.GetCharacter(ctx, charID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	mask := e.maskOf(ctx, conv)

	fresh, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	history := tail(fresh.Messages, e.cfg.TransferHistoryWindow)

	raw, err := e.call(ctx, fresh, char, mask, nil, history, conv.IsGroup)
	if err != nil {
		// The reaction is best-effort; the transfer itself is committed.
		slog.Error("transfer reaction failed", "conversation", convID, "error", err.Error())
		return nil
	}

	parts := reply.Parse(raw)
	if err := e.commitParts(ctx, convID, char.ID, parts, e.cfg.TransferBubbleDelayMin, e.cfg.TransferBubbleDelayJitter); err != nil {
		return err
	}

	if len(parts) > 0 {
		e.sleep(ctx, e.cfg.TransferAcceptDelay)
		if err := e.acceptPendingTransfer(ctx, convID); err != nil {
			slog.Error("failed to mark transfer accepted", "conversation", convID, "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) acceptPendingTransfer(ctx context.Context, convID string) error {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	for _, m := range conv.Messages {
		if m.Kind == types.KindTransfer && m.Transfer != nil && !m.Transfer.Accepted {
			return e.store.UpdateMessage(ctx, convID, m.ID, func(msg *types.Message) {
				if msg.Transfer != nil {
					msg.Transfer.Accepted = true
				}
			})
		}
	}
	return nil
}

// SendSticker appends a user sticker. With available sticker assets, one
// participant sometimes echoes a random sticker back; no model call is
// involved.
func (e *Engine) SendSticker(ctx context.Context, convID, url string) error {
	unlock := e.lockConversation(convID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	msg := types.Message{
		Role:    types.RoleUser,
		Kind:    types.KindSticker,
		Time:    e.timeLabel(),
		Sticker: &types.Sticker{URL: url},
	}
	if _, err := e.store.AppendMessage(ctx, convID, msg); err != nil {
		return fmt.Errorf("append sticker: %w", err)
	}

	stickers, err := e.store.ListStickers(ctx)
	if err != nil || len(stickers) == 0 || len(conv.CharIDs) == 0 || e.llm == nil {
		return nil
	}
	if !e.chance(e.cfg.StickerEchoChance) {
		return nil
	}

	e.sleep(ctx, e.jitter(e.cfg.StickerEchoDelayMin, e.cfg.StickerEchoDelayJitter))

	charID := conv.CharIDs[0]
	if conv.IsGroup {
		charID = conv.CharIDs[e.intn(len(conv.CharIDs))]
	}
	echo := types.Message{
		Role:    types.RoleAssistant,
		Kind:    types.KindSticker,
		Time:    e.timeLabel(),
		CharID:  charID,
		Sticker: &types.Sticker{URL: stickers[e.intn(len(stickers))]},
	}
	_, err = e.store.AppendMessage(ctx, convID, echo)
	return err
}

// ForwardMessage copies text into another conversation with the forward
// prefix, without triggering a reply turn.
func (e *Engine) ForwardMessage(ctx context.Context, targetConvID, text string) error {
	unlock := e.lockConversation(targetConvID)
	defer unlock()

	msg := types.NewTextMessage(types.RoleUser, "[转发] "+text, e.timeLabel())
	_, err := e.store.AppendMessage(ctx, targetConvID, msg)
	return err
}

// UnsendMessage blanks the bubble while preserving the original for peeking,
// then appends the teasing auto-reply.
func (e *Engine) UnsendMessage(ctx context.Context, convID, msgID string) error {
	unlock := e.lockConversation(convID)
	defer unlock()

	err := e.store.UpdateMessage(ctx, convID, msgID, func(m *types.Message) {
		m.Unsent = true
		m.UnsentText = m.Text
		m.Text = ""
	})
	if err != nil {
		return fmt.Errorf("unsend message: %w", err)
	}
	_, err = e.store.AppendMessage(ctx, convID, types.NewTextMessage(types.RoleAssistant, msgUnsentTease, e.timeLabel()))
	return err
}

// ResendReply removes an assistant message and regenerates it from the log
// that remains. In group conversations the original sender regenerates.
func (e *Engine) ResendReply(ctx context.Context, convID, msgID string) error {
	unlock := e.lockConversation(convID)
	defer unlock()

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if len(conv.CharIDs) == 0 {
		return fmt.Errorf("conversation %s has no characters", conv.ID)
	}

	charID := conv.CharIDs[0]
	for _, m := range conv.Messages {
		if m.ID == msgID {
			if conv.IsGroup && m.CharID != "" {
				charID = m.CharID
			}
			break
		}
	}
	if err := e.store.RemoveMessage(ctx, convID, msgID); err != nil {
		return fmt.Errorf("remove message: %w", err)
	}
	if e.llm == nil {
		return nil
	}

	char, err := e.store.GetCharacter(ctx, charID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	fresh, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	mask := e.maskOf(ctx, fresh)
	history := tail(fresh.Messages, e.cfg.TurnHistoryWindow)

	raw, err := e.call(ctx, fresh, char, mask, nil, history, conv.IsGroup)
	if err != nil {
		slog.Error("resend failed", "conversation", convID, "error", err.Error())
		return nil
	}
	return e.commitParts(ctx, convID, char.ID, reply.Parse(raw), e.cfg.ResponderDelayMin, e.cfg.ResponderDelayJitter)
}

// call assembles the system prompt and history, then runs one completion
// under the call timeout. Returns the raw completion text.
func (e *Engine) call(ctx context.Context, conv *types.Conversation, char *types.Character, mask *types.UserMask, extras []string, history []types.Message, groupMode bool) (string, error) {
	systemParts := []string{persona.Compile(char.Name, char)}
	if mask != nil {
		systemParts = append(systemParts, "【用户身份设定】\n"+persona.MaskDescription(mask.Name, mask))
	}
	systemParts = append(systemParts, timeNote(e.nowFunc()))

	mem := memory.Resolve(conv, char.ID)
	systemParts = append(systemParts, memory.BuildPrompt(mem, conv.RelationshipStage, char.MemoryChunks, history, e.nowFunc())...)
	systemParts = append(systemParts, extras...)

	names := e.nameCache(ctx, conv)
	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, genai.NewContentFromText(strings.Join(systemParts, "\n\n"), "system"))
	for _, m := range history {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		text := historyText(m, groupMode, names)
		if text == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, genai.Role(role)))
	}

	temp := e.cfg.Temperature
	req := &model.LLMRequest{
		Contents: contents,
		Config:   &genai.GenerateContentConfig{Temperature: &temp},
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	seq := e.llm.GenerateContent(callCtx, req, false)
	var resp *model.LLMResponse
	var callErr error
	seq(func(r *model.LLMResponse, err error) bool {
		resp = r
		callErr = err
		return false
	})
	if callErr != nil {
		return "", callErr
	}
	text := ""
	if resp != nil {
		text = strings.TrimSpace(extractText(resp))
	}
	if text == "" {
		text = reply.Fallback
	}
	return text, nil
}

func extractText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// commitParts appends parsed bubbles as assistant messages, sleeping
// between consecutive bubbles.
func (e *Engine) commitParts(ctx context.Context, convID, charID string, parts []string, delayMin, delayJitter time.Duration) error {
	for i, part := range parts {
		if i > 0 {
			e.sleep(ctx, e.jitter(delayMin, delayJitter))
		}
		msg := types.NewTextMessage(types.RoleAssistant, bubbleText(part), e.timeLabel())
		msg.CharID = charID
		if _, err := e.store.AppendMessage(ctx, convID, msg); err != nil {
			return fmt.Errorf("append reply bubble: %w", err)
		}
	}
	return nil
}

func (e *Engine) maybeAutoRefine(ctx context.Context, convID, charID string) {
	if e.refiner == nil {
		return
	}
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return
	}
	if _, err := e.refiner.MaybeRefine(ctx, conv, charID); err != nil {
		slog.Error("auto refine failed", "conversation", convID, "character", charID, "error", err.Error())
	}
}

func (e *Engine) participants(ctx context.Context, conv *types.Conversation) ([]*types.Character, error) {
	chars := make([]*types.Character, 0, len(conv.CharIDs))
	for _, id := range conv.CharIDs {
		c, err := e.store.GetCharacter(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load character %s: %w", id, err)
		}
		chars = append(chars, c)
	}
	return chars, nil
}

func (e *Engine) nameCache(ctx context.Context, conv *types.Conversation) func(string) string {
	cache := make(map[string]string)
	return func(id string) string {
		if name, ok := cache[id]; ok {
			return name
		}
		name := ""
		if c, err := e.store.GetCharacter(ctx, id); err == nil && c != nil {
			name = c.Name
		}
		cache[id] = name
		return name
	}
}

func (e *Engine) maskOf(ctx context.Context, conv *types.Conversation) *types.UserMask {
	if conv.MaskID == "" {
		return nil
	}
	mask, err := e.store.GetMask(ctx, conv.MaskID)
	if err != nil {
		return nil
	}
	return mask
}

func (e *Engine) charNameOr(ctx context.Context, preferred, fallbackID, def string) string {
	for _, id := range []string{preferred, fallbackID} {
		if id == "" {
			continue
		}
		if c, err := e.store.GetCharacter(ctx, id); err == nil && c != nil && c.Name != "" {
			return c.Name
		}
	}
	return def
}

// biasedShuffle orders the roster randomly with a mild bias toward roster
// order, so every member speaks but the lineup varies between turns.
func (e *Engine) biasedShuffle(chars []*types.Character) []*types.Character {
	type keyed struct {
		c   *types.Character
		key float64
	}
	ks := make([]keyed, len(chars))
	for i, c := range chars {
		ks[i] = keyed{c: c, key: e.float64() + 0.2*float64(i)}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })
	out := make([]*types.Character, len(ks))
	for i, k := range ks {
		out[i] = k.c
	}
	return out
}

func (e *Engine) lockConversation(convID string) func() {
	e.mu.Lock()
	l, ok := e.convLocks[convID]
	if !ok {
		l = &sync.Mutex{}
		e.convLocks[convID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) timeLabel() string {
	return e.nowFunc().Format("15:04")
}

func (e *Engine) jitter(min, jit time.Duration) time.Duration {
	return min + time.Duration(e.float64()*float64(jit))
}

func (e *Engine) chance(p float64) bool {
	return e.float64() < p
}

func (e *Engine) float64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func firstID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
