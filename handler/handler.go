package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-relay/internal/usecase"
)

const defaultEventTimeout = 40 * time.Second

// Replier produces the reply for one inbound text message.
type Replier interface {
	Reply(ctx context.Context, in usecase.ReplyInput) usecase.ReplyOutput
}

// MessageSender delivers replies through the messaging platform.
type MessageSender interface {
	Reply(ctx context.Context, replyToken, text string) error
	MarkRead(ctx context.Context, userID string) error
}

// webhookBody is the platform webhook envelope.
type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

type event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// Handler accepts platform webhooks and fans inbound events out to the reply
// service.
type Handler struct {
	svc          Replier
	sender       MessageSender
	logger       *slog.Logger
	botID        string
	eventTimeout time.Duration

	// wg tracks in-flight batches; the webhook route acknowledges before
	// processing finishes.
	wg sync.WaitGroup
}

func NewHandler(svc Replier, sender MessageSender, botID string, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: reply service must not be nil")
	}
	if sender == nil {
		return nil, errors.New("handler: message sender must not be nil")
	}
	if botID == "" {
		return nil, errors.New("handler: bot id must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:          svc,
		sender:       sender,
		logger:       logger,
		botID:        botID,
		eventTimeout: defaultEventTimeout,
	}, nil
}

// Register mounts the health and webhook routes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.health)
	r.GET("/healthz", h.healthz)
	r.POST("/webhook", h.webhook)
}

func (h *Handler) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
}

// webhook acknowledges the batch immediately and processes its events in the
// background: the platform retries slow webhooks, so the 200 must never wait
// on provider calls.
func (h *Handler) webhook(c *gin.Context) {
	rid := uuid.NewString()[:8]

	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn("webhook body rejected", "rid", rid, "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	c.Status(http.StatusOK)

	if len(body.Events) == 0 {
		h.logger.Info("webhook received with no events", "rid", rid)
		return
	}
	h.logger.Info("webhook received", "rid", rid, "events", len(body.Events))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processBatch(context.Background(), rid, body.Events)
	}()
}

// processBatch handles each event in its own goroutine. Events are
// independent; one failure never affects the others, and the aggregate
// counts exist for observability only.
func (h *Handler) processBatch(ctx context.Context, rid string, events []event) {
	start := time.Now()
	var wg sync.WaitGroup
	var failed atomic.Int64

	for i, ev := range events {
		wg.Add(1)
		go func(idx int, ev event) {
			defer wg.Done()
			if err := h.handleEvent(ctx, rid, ev); err != nil {
				failed.Add(1)
				h.logger.Error("webhook event failed", "rid", rid, "idx", idx, "err", err)
			}
		}(i, ev)
	}
	wg.Wait()

	h.logger.Info("webhook batch done", "rid", rid,
		"ok", int64(len(events))-failed.Load(), "failed", failed.Load(),
		"elapsed_ms", time.Since(start).Milliseconds())
}

func (h *Handler) handleEvent(ctx context.Context, rid string, ev event) error {
	if ev.Type != "message" || ev.Message.Type != "text" {
		h.logger.Debug("skipping non-text event", "rid", rid, "type", ev.Type, "message_type", ev.Message.Type)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.eventTimeout)
	defer cancel()

	out := h.svc.Reply(ctx, usecase.ReplyInput{
		BotID:     h.botID,
		UserID:    ev.Source.UserID,
		Text:      ev.Message.Text,
		RequestID: rid,
	})

	// Delivery is the one step with no further fallback channel.
	if err := h.sender.Reply(ctx, ev.ReplyToken, out.Text); err != nil {
		return fmt.Errorf("handler: send reply: %w", err)
	}

	if ev.Source.UserID != "" {
		if err := h.sender.MarkRead(ctx, ev.Source.UserID); err != nil {
			h.logger.Warn("mark-as-read failed", "rid", rid, "err", err)
		}
	}
	return nil
}
