package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/usecase"
)

type stubReplier struct {
	mu     sync.Mutex
	out    usecase.ReplyOutput
	inputs []usecase.ReplyInput
}

func (s *stubReplier) Reply(_ context.Context, in usecase.ReplyInput) usecase.ReplyOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return s.out
}

type stubSender struct {
	mu          sync.Mutex
	replies     []string
	tokens      []string
	markedRead  []string
	replyErr    error
	markReadErr error
}

func (s *stubSender) Reply(_ context.Context, replyToken, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, replyToken)
	s.replies = append(s.replies, text)
	return s.replyErr
}

func (s *stubSender) MarkRead(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedRead = append(s.markedRead, userID)
	return s.markReadErr
}

func newTestHandler(t *testing.T, svc Replier, sender MessageSender) (*Handler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h, err := NewHandler(svc, sender, "bot1", nil)
	require.NoError(t, err)
	r := gin.New()
	h.Register(r)
	return h, r
}

func textEventBody(texts ...string) string {
	events := make([]string, 0, len(texts))
	for i, text := range texts {
		events = append(events, `{
			"type":"message",
			"replyToken":"tok-`+string(rune('a'+i))+`",
			"source":{"userId":"user-1"},
			"message":{"type":"text","text":"`+text+`"}
		}`)
	}
	return `{"destination":"dest","events":[` + strings.Join(events, ",") + `]}`
}

func postWebhook(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewHandler_Validation(t *testing.T) {
	sender := &stubSender{}
	svc := &stubReplier{}

	_, err := NewHandler(nil, sender, "bot1", nil)
	require.Error(t, err)
	_, err = NewHandler(svc, nil, "bot1", nil)
	require.Error(t, err)
	_, err = NewHandler(svc, sender, "", nil)
	require.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	_, r := newTestHandler(t, &stubReplier{}, &stubSender{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)
}

func TestWebhook_HappyPath(t *testing.T) {
	svc := &stubReplier{out: usecase.ReplyOutput{Text: "generated reply"}}
	sender := &stubSender{}
	h, r := newTestHandler(t, svc, sender)

	w := postWebhook(r, textEventBody("hello"))
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()

	require.Len(t, svc.inputs, 1)
	require.Equal(t, "bot1", svc.inputs[0].BotID)
	require.Equal(t, "user-1", svc.inputs[0].UserID)
	require.Equal(t, "hello", svc.inputs[0].Text)
	require.NotEmpty(t, svc.inputs[0].RequestID)

	require.Equal(t, []string{"generated reply"}, sender.replies)
	require.Equal(t, []string{"tok-a"}, sender.tokens)
	require.Equal(t, []string{"user-1"}, sender.markedRead)
}

func TestWebhook_InvalidBody(t *testing.T) {
	_, r := newTestHandler(t, &stubReplier{}, &stubSender{})
	w := postWebhook(r, "not-json")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_NoEvents(t *testing.T) {
	svc := &stubReplier{}
	h, r := newTestHandler(t, svc, &stubSender{})

	w := postWebhook(r, `{"destination":"dest","events":[]}`)
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()
	require.Empty(t, svc.inputs)
}

func TestWebhook_MultipleEventsAllProcessed(t *testing.T) {
	svc := &stubReplier{out: usecase.ReplyOutput{Text: "r"}}
	sender := &stubSender{}
	h, r := newTestHandler(t, svc, sender)

	w := postWebhook(r, textEventBody("one", "two", "three"))
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()

	require.Len(t, svc.inputs, 3)
	require.Len(t, sender.replies, 3)
}

func TestWebhook_NonTextEventsSkipped(t *testing.T) {
	svc := &stubReplier{out: usecase.ReplyOutput{Text: "r"}}
	sender := &stubSender{}
	h, r := newTestHandler(t, svc, sender)

	body := `{"events":[
		{"type":"follow","source":{"userId":"u"}},
		{"type":"message","replyToken":"tok","source":{"userId":"u"},"message":{"type":"sticker"}},
		{"type":"message","replyToken":"tok2","source":{"userId":"u"},"message":{"type":"text","text":"real"}}
	]}`
	w := postWebhook(r, body)
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()

	require.Len(t, svc.inputs, 1)
	require.Equal(t, "real", svc.inputs[0].Text)
}

func TestWebhook_SendFailureDoesNotAffectOtherEvents(t *testing.T) {
	svc := &stubReplier{out: usecase.ReplyOutput{Text: "r"}}
	sender := &stubSender{replyErr: errors.New("delivery failed")}
	h, r := newTestHandler(t, svc, sender)

	w := postWebhook(r, textEventBody("one", "two"))
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()

	// Both events attempted despite every delivery failing.
	require.Len(t, svc.inputs, 2)
	require.Len(t, sender.replies, 2)
}

func TestWebhook_MarkReadFailureIgnored(t *testing.T) {
	svc := &stubReplier{out: usecase.ReplyOutput{Text: "r"}}
	sender := &stubSender{markReadErr: errors.New("not supported")}
	h, r := newTestHandler(t, svc, sender)

	w := postWebhook(r, textEventBody("hello"))
	require.Equal(t, http.StatusOK, w.Code)
	h.wg.Wait()

	require.Len(t, sender.replies, 1)
}
