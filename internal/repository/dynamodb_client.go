package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	skPrefixLog   = "LOG#"
	skPrefixUsage = "USAGE#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Appender defines the append-only log operations consumed by the orchestrator.
type Appender interface {
	AppendLogRow(ctx context.Context, botID string, row domain.LogRow) error
	AppendUsageRow(ctx context.Context, row domain.UsageRow) error
}

// Client wraps a DynamoDB table holding message-log and usage rows. Both row
// kinds share one table keyed by bot, distinguished by the sort-key prefix.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// botPK returns the partition key for a bot's rows.
func botPK(botID string) string {
	return "BOT#" + botID
}

func logSK(ts time.Time) string {
	return skPrefixLog + ts.UTC().Format(time.RFC3339Nano)
}

func usageSK(ts time.Time) string {
	return skPrefixUsage + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// AppendLogRow persists one message-log row. Rows are append-only; nothing
// ever updates or deletes them within the TTL window.
func (c *Client) AppendLogRow(ctx context.Context, botID string, row domain.LogRow) error {
	if strings.TrimSpace(botID) == "" {
		return errors.New("repository: AppendLogRow: bot id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      logItem(botID, row),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendLogRow: %w", err)
	}
	return nil
}

// AppendUsageRow persists one usage row.
func (c *Client) AppendUsageRow(ctx context.Context, row domain.UsageRow) error {
	if strings.TrimSpace(row.BotID) == "" {
		return errors.New("repository: AppendUsageRow: bot id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      usageItem(row),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendUsageRow: %w", err)
	}
	return nil
}

func logItem(botID string, row domain.LogRow) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            strVal(botPK(botID)),
		"SK":            strVal(logSK(time.Now())),
		"timestamp":     strVal(row.Timestamp),
		"user_text":     strVal(row.UserText),
		"summary":       strVal(row.Summary),
		"category":      numVal(row.Category),
		"urgency_score": numVal(row.UrgencyScore),
		"reply_text":    strVal(row.ReplyText),
		"ttl":           intVal(ttlValue()),
	}
}

func usageItem(row domain.UsageRow) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            strVal(botPK(row.BotID)),
		"SK":            strVal(usageSK(time.Now())),
		"ts":            strVal(row.TS),
		"model":         strVal(row.Model),
		"input_tokens":  intVal(int64(row.InputTokens)),
		"output_tokens": intVal(int64(row.OutputTokens)),
		"total_tokens":  intVal(int64(row.TotalTokens)),
		"cost_usd":      numVal(row.CostUSD),
		"cost_jpy":      numVal(row.CostJPY),
		"rid":           strVal(row.RequestID),
		"resp_id":       strVal(row.ResponseID),
		"ttl":           intVal(ttlValue()),
	}
}

func strVal(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func intVal(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func numVal(f float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}
