package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"

	"chat-relay/handler"
	"chat-relay/internal/history"
	"chat-relay/internal/integrations/line"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// ---- Configuration (read only here) ----
	port := envStr("PORT", "10000")
	botID := mustEnv("BOT_ID")
	logTable := mustEnv("LOG_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	model := envStr("OPENAI_MODEL", "gpt-4o-mini")
	historyPath := envStr("HISTORY_JSON_PATH", "data/history.json")
	historyMax := envInt("HISTORY_MAX", history.DefaultMax)
	historyKeep := envInt("HISTORY_KEEP", 0)
	usdjpy := envFloat("USDJPY", usecase.DefaultUSDJPY)
	defaultTone := envStr("DEFAULT_TONE", usecase.TonePolite)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	logSink, err := repository.New(awsdynamodb.NewFromConfig(cfg), logTable)
	if err != nil {
		slog.Error("failed to create log sink", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	lineClient, err := line.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create LINE client", "err", err)
		os.Exit(1)
	}
	historyStore, err := history.New(historyPath, historyMax, historyKeep, logger)
	if err != nil {
		slog.Error("failed to create history store", "err", err)
		os.Exit(1)
	}

	// ---- Service and handler ----
	replyService, err := usecase.NewReplyService(openaiClient, historyStore, logSink, history.Key, logger, model, usdjpy, defaultTone)
	if err != nil {
		slog.Error("failed to create reply service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(replyService, lineClient, botID, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	r := gin.Default()
	h.Register(r)

	slog.Info("server starting", "port", port, "bot_id", botID, "model", model)
	if err := r.Run(":" + port); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
