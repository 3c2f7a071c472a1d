// Package main is the entry point for the palmtalk conversation engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"google.golang.org/adk/model"

	"github.com/uzuki-dev/palmtalk/internal/card"
	"github.com/uzuki-dev/palmtalk/internal/chat"
	"github.com/uzuki-dev/palmtalk/internal/config"
	"github.com/uzuki-dev/palmtalk/internal/memory"
	"github.com/uzuki-dev/palmtalk/internal/models"
	"github.com/uzuki-dev/palmtalk/internal/repository"
	"github.com/uzuki-dev/palmtalk/internal/types"
)

func main() {
	root := &cobra.Command{
		Use:           "palmtalk",
		Short:         "simulated-messaging conversation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newChatCmd(), newServeCmd(), newImportCardCmd(), newRefineCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("palmtalk: %v", err)
	}
}

// app bundles the wired collaborators shared by all commands.
type app struct {
	cfg    config.Config
	store  *repository.Store
	llm    model.LLM
	engine *chat.Engine
	gens   *memory.Generators
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := repository.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// llm 为 nil 时引擎会用配置提示语回复。
	var llm model.LLM
	if cfg.ModelConfigured() {
		switch cfg.Provider {
		case config.ProviderGemini:
			llm, err = models.NewGeminiModel(ctx, cfg.Model, cfg.GoogleAPIKey)
		default:
			llm, err = models.NewOpenAIModel(ctx, cfg.Model, cfg.BaseURL, cfg.APIKey)
		}
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create model: %w", err)
		}
	}

	gens := memory.NewGenerators(llm, store.Memories, store.Characters, memory.DefaultConfig())
	chatCfg := chat.DefaultConfig()
	if cfg.Temperature > 0 {
		chatCfg.Temperature = float32(cfg.Temperature)
	}
	engine := chat.New(store, llm, chatCfg, chat.WithAutoRefiner(memory.NewAutoRefiner(gens)))

	return &app{cfg: cfg, store: store, llm: llm, engine: engine, gens: gens}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func newChatCmd() *cobra.Command {
	var convID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "interactive REPL against one conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if convID == "" {
				convID = a.cfg.DefaultConversationID
			}
			if convID == "" {
				return fmt.Errorf("no conversation: pass --conversation or set PALMTALK_CONVERSATION_ID")
			}
			return runREPL(ctx, a, convID)
		},
	}
	cmd.Flags().StringVarP(&convID, "conversation", "c", "", "conversation ID")
	return cmd
}

func runREPL(ctx context.Context, a *app, convID string) error {
	conv, err := a.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	printLog(ctx, a, conv, 0)
	seen := len(conv.Messages)

	fmt.Println("--- 输入消息开始聊天；/transfer 金额 [备注]、/sticker URL、/unsend 序号、/resend 序号、/quit ---")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if err := dispatch(ctx, a, convID, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		conv, err = a.store.GetConversation(ctx, convID)
		if err != nil {
			return err
		}
		printLog(ctx, a, conv, seen)
		seen = len(conv.Messages)
	}
}

func dispatch(ctx context.Context, a *app, convID, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/transfer":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /transfer 金额 [备注]")
		}
		amount, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", fields[1])
		}
		return a.engine.SendTransfer(ctx, convID, amount, strings.Join(fields[2:], " "))
	case "/sticker":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /sticker URL")
		}
		return a.engine.SendSticker(ctx, convID, fields[1])
	case "/unsend":
		msgID, err := messageIDAt(ctx, a, convID, fields)
		if err != nil {
			return err
		}
		return a.engine.UnsendMessage(ctx, convID, msgID)
	case "/resend":
		msgID, err := messageIDAt(ctx, a, convID, fields)
		if err != nil {
			return err
		}
		return a.engine.ResendReply(ctx, convID, msgID)
	default:
		return a.engine.SendUserMessage(ctx, convID, line, nil)
	}
}

// messageIDAt resolves a 1-based log index from the command arguments.
func messageIDAt(ctx context.Context, a *app, convID string, fields []string) (string, error) {
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: %s 序号", fields[0])
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", fmt.Errorf("invalid index %q", fields[1])
	}
	conv, err := a.store.GetConversation(ctx, convID)
	if err != nil {
		return "", err
	}
	if index < 1 || index > len(conv.Messages) {
		return "", fmt.Errorf("index %d out of range", index)
	}
	return conv.Messages[index-1].ID, nil
}

func printLog(ctx context.Context, a *app, conv *types.Conversation, from int) {
	names := map[string]string{}
	for _, id := range conv.CharIDs {
		if c, err := a.store.GetCharacter(ctx, id); err == nil {
			names[id] = c.Name
		}
	}
	for i := from; i < len(conv.Messages); i++ {
		msg := conv.Messages[i]
		label := "你"
		if msg.Role == types.RoleAssistant {
			label = names[msg.CharID]
			if label == "" {
				label = "Ta"
			}
		}
		fmt.Printf("[%d] %s %s: %s\n", i+1, msg.Time, label, renderMessage(msg))
	}
}

func renderMessage(msg types.Message) string {
	if msg.Unsent {
		return "撤回了一条消息"
	}
	switch msg.Kind {
	case types.KindTransfer:
		note := msg.Transfer.Note
		if note == "" {
			note = "无"
		}
		status := "待收"
		if msg.Transfer.Accepted {
			status = "已收"
		}
		return fmt.Sprintf("[转账 ¥%s，备注：%s]（%s）",
			strconv.FormatFloat(msg.Transfer.Amount, 'f', -1, 64), note, status)
	case types.KindSticker:
		return fmt.Sprintf("[表情图 %s]", msg.Sticker.URL)
	default:
		return msg.Text
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run scheduled diary generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.llm == nil {
				return fmt.Errorf("diary generation needs a configured model")
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(a.cfg.DiaryCronSpec, func() {
				runDiaries(ctx, a, diaryDaily)
			}); err != nil {
				return fmt.Errorf("invalid diary cron spec: %w", err)
			}
			if _, err := scheduler.AddFunc(a.cfg.MonthlyCronSpec, func() {
				runDiaries(ctx, a, diaryMonthly)
			}); err != nil {
				return fmt.Errorf("invalid monthly cron spec: %w", err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			slog.Info("diary scheduler started",
				"daily", a.cfg.DiaryCronSpec, "monthly", a.cfg.MonthlyCronSpec)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			slog.Info("diary scheduler stopping")
			return nil
		},
	}
}

type diaryKind int

const (
	diaryDaily diaryKind = iota
	diaryMonthly
)

// runDiaries generates a diary entry for every character in every
// conversation. Failures are logged per character and never abort the run.
func runDiaries(ctx context.Context, a *app, kind diaryKind) {
	convs, err := a.store.Conversations.List(ctx)
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		return
	}
	for i := range convs {
		conv, err := a.store.GetConversation(ctx, convs[i].ID)
		if err != nil {
			slog.Error("failed to load conversation", "conversation", convs[i].ID, "error", err)
			continue
		}
		if len(conv.Messages) == 0 {
			continue
		}
		for _, charID := range conv.CharIDs {
			switch kind {
			case diaryMonthly:
				_, err = a.gens.GenerateMonthlyDiary(ctx, conv, charID)
			default:
				_, err = a.gens.GenerateDailyDiary(ctx, conv, charID)
			}
			if err != nil {
				slog.Error("failed to generate diary",
					"conversation", conv.ID, "character", charID, "error", err)
			}
		}
	}
}

func newImportCardCmd() *cobra.Command {
	var userName string
	cmd := &cobra.Command{
		Use:   "import-card FILE",
		Short: "import a SillyTavern character card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read card: %w", err)
			}
			char, err := card.Parse(raw, userName)
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Characters.Create(ctx, char); err != nil {
				return err
			}
			fmt.Printf("imported %s (%s)\n", char.Name, char.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userName, "user", "你", "name substituted for {{user}} in the card")
	return cmd
}

func newRefineCmd() *cobra.Command {
	var convID, charID string
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "distill recent messages into a hand entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.llm == nil {
				return fmt.Errorf("refine needs a configured model")
			}

			conv, err := a.store.GetConversation(ctx, convID)
			if err != nil {
				return err
			}
			if charID == "" {
				if len(conv.CharIDs) != 1 {
					return fmt.Errorf("group conversation: pass --character")
				}
				charID = conv.CharIDs[0]
			}

			entry, err := a.gens.RefineToHandlog(ctx, conv, charID)
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Println("nothing to refine")
				return nil
			}
			fmt.Printf("%s %s\n", entry.Date, entry.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&convID, "conversation", "c", "", "conversation ID")
	cmd.Flags().StringVar(&charID, "character", "", "character ID (group chats)")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
