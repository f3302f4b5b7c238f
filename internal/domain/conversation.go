package domain

// Roles persisted to conversation history. Anything else is coerced to
// RoleUser on append.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is a single message in a per-user conversation history.
// Immutable once appended.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// StructuredReply is the schema-constrained answer produced by the completion
// provider for one inbound message. Nil when extraction fails entirely.
type StructuredReply struct {
	ReplyText    string  `json:"reply_text"`
	Summary      string  `json:"summary"`
	Category     float64 `json:"category"`
	UrgencyScore float64 `json:"urgency_score"`
}

// UsageRecord is the derived token and cost accounting for one provider call.
type UsageRecord struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	CostJPY      float64
}

// LogRow is one append-only message-log entry.
type LogRow struct {
	Timestamp    string
	UserText     string
	Summary      string
	Category     float64
	UrgencyScore float64
	ReplyText    string
}

// UsageRow is one append-only usage-log entry.
type UsageRow struct {
	TS           string
	BotID        string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	CostJPY      float64
	RequestID    string
	ResponseID   string
}
