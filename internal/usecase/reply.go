package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/domain"
)

// Fallback texts. The echo fallback covers extraction misses, the apology
// covers provider failures; neither path may surface an error to the webhook.
const (
	fallbackAck     = "受信しました"
	fallbackApology = "申し訳ありません。ただいま返信を生成できませんでした。"
)

// CompletionClient calls the completion provider with a system directive and
// a plain-text input, constrained to the structured reply schema.
type CompletionClient interface {
	Complete(ctx context.Context, model, instructions, input string) (*domain.CompletionResult, error)
}

// HistoryStore is the per-conversation turn log consumed by prompt assembly.
type HistoryStore interface {
	Recent(key string) []domain.ConversationTurn
	Append(key string, turn domain.ConversationTurn) error
}

// LogSink receives append-only message-log and usage rows. Both appends are
// best-effort from the orchestrator's point of view.
type LogSink interface {
	AppendLogRow(ctx context.Context, botID string, row domain.LogRow) error
	AppendUsageRow(ctx context.Context, row domain.UsageRow) error
}

// HistoryKeyer builds the composite history key for a bot/user pair.
type HistoryKeyer func(botID, userID string) string

// ReplyService turns one inbound text message into a reply: it assembles the
// prompt from recent history and a tone directive, calls the provider,
// extracts the structured answer, accounts usage, and records the turn.
type ReplyService struct {
	llm         CompletionClient
	history     HistoryStore
	sink        LogSink
	key         HistoryKeyer
	logger      *slog.Logger
	model       string
	usdjpy      float64
	defaultTone string
}

type ReplyInput struct {
	BotID     string
	UserID    string
	Text      string
	Tone      string
	RequestID string
}

type ReplyOutput struct {
	Text        string
	Structured  *domain.StructuredReply
	Usage       domain.UsageRecord
	ParsedOK    bool
	ExtractedOK bool
}

func NewReplyService(llm CompletionClient, history HistoryStore, sink LogSink, key HistoryKeyer, logger *slog.Logger, model string, usdjpy float64, defaultTone string) (*ReplyService, error) {
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if sink == nil {
		return nil, errors.New("usecase: log sink must not be nil")
	}
	if key == nil {
		return nil, errors.New("usecase: history keyer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if usdjpy <= 0 {
		usdjpy = DefaultUSDJPY
	}
	if _, ok := toneDirectives[defaultTone]; !ok {
		defaultTone = TonePolite
	}
	return &ReplyService{
		llm:         llm,
		history:     history,
		sink:        sink,
		key:         key,
		logger:      logger,
		model:       model,
		usdjpy:      usdjpy,
		defaultTone: defaultTone,
	}, nil
}

// Reply never returns an error: provider and persistence failures degrade to
// fallback text and logged warnings so a reply attempt is always possible.
func (s *ReplyService) Reply(ctx context.Context, in ReplyInput) ReplyOutput {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ReplyOutput{Text: fallbackAck}
	}
	rid := strings.TrimSpace(in.RequestID)
	if rid == "" {
		rid = newUUID()
	}
	tone := in.Tone
	if tone == "" {
		tone = s.defaultTone
	}

	key := s.key(in.BotID, in.UserID)
	recent := s.history.Recent(key)

	res, err := s.llm.Complete(ctx, s.model, buildSystemDirective(tone), buildUserInput(text, recent))
	if err != nil {
		s.logger.Error("completion call failed", "rid", rid, "bot_id", in.BotID,
			"err", newError(ErrorUpstream, "completion_error", err))
		return ReplyOutput{Text: fallbackApology}
	}

	ext := extractReply(res)
	replyText := ext.Text
	if strings.TrimSpace(replyText) == "" {
		replyText = echoFallback(text)
	}

	usage := estimateUsage(res.Usage, s.usdjpy)
	s.recordUsage(ctx, in.BotID, rid, res, usage)
	s.recordLog(ctx, in.BotID, rid, text, replyText, ext.Reply)
	s.recordTurns(key, rid, text, replyText)

	return ReplyOutput{
		Text:        replyText,
		Structured:  ext.Reply,
		Usage:       usage,
		ParsedOK:    ext.ParsedOK,
		ExtractedOK: ext.ExtractedOK,
	}
}

func echoFallback(text string) string {
	return fallbackAck + "：" + text
}

func (s *ReplyService) recordUsage(ctx context.Context, botID, rid string, res *domain.CompletionResult, usage domain.UsageRecord) {
	model := res.Model
	if model == "" {
		model = s.model
	}
	row := domain.UsageRow{
		TS:           time.Now().UTC().Format(time.RFC3339),
		BotID:        botID,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		CostUSD:      usage.CostUSD,
		CostJPY:      usage.CostJPY,
		RequestID:    rid,
		ResponseID:   res.ResponseID,
	}
	if err := s.sink.AppendUsageRow(ctx, row); err != nil {
		s.logger.Error("usage row append failed", "rid", rid,
			"err", newError(ErrorPersistence, "usage_row_error", err))
	}
}

func (s *ReplyService) recordLog(ctx context.Context, botID, rid, userText, replyText string, reply *domain.StructuredReply) {
	row := domain.LogRow{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserText:  userText,
		ReplyText: replyText,
	}
	if reply != nil {
		row.Summary = reply.Summary
		row.Category = reply.Category
		row.UrgencyScore = reply.UrgencyScore
	}
	if err := s.sink.AppendLogRow(ctx, botID, row); err != nil {
		s.logger.Error("log row append failed", "rid", rid,
			"err", newError(ErrorPersistence, "log_row_error", err))
	}
}

func (s *ReplyService) recordTurns(key, rid, userText, replyText string) {
	now := time.Now().UnixMilli()
	turns := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: userText, TS: now},
		{Role: domain.RoleAssistant, Content: replyText, TS: now},
	}
	for _, t := range turns {
		if err := s.history.Append(key, t); err != nil {
			s.logger.Error("history append failed", "rid", rid, "role", t.Role,
				"err", newError(ErrorPersistence, "history_append_error", err))
		}
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
