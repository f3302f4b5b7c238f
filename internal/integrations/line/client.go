package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// replyRequest is the reply endpoint body. The platform accepts up to five
// messages per reply token; this relay only ever sends one.
type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type markReadRequest struct {
	Chat chatRef `json:"chat"`
}

type chatRef struct {
	UserID string `json:"userId"`
}

// tokenPayload is the expected JSON shape stored in SSM for the channel token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx platform responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("line: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client delivers replies through the messaging platform's push API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose channel access token is fetched lazily
// from the paramstore and cached for the process lifetime.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("line: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("line: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.line.me",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = fetchTokenFromParamStore(ctx, c.getter, c.paramPrefix+"/line-channel-token")
	})
	return c.token, c.tokenErr
}

// Reply delivers text to the user identified by replyToken. Reply tokens are
// single-use; callers must invoke this at most once per inbound event.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token must not be empty")
	}
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/reply", body)
}

// MarkRead marks the user's chat as read. Best-effort; callers ignore the
// returned error beyond logging.
func (c *Client) MarkRead(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("line: user id must not be empty")
	}
	return c.post(ctx, "/v2/bot/chat/markAsRead", markReadRequest{Chat: chatRef{UserID: userID}})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("line: marshal request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + path
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("line: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return fmt.Errorf("line: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}
	// Response bodies are empty JSON objects on success; nothing to decode.
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("line: paramstore getter is nil")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("line: fetch channel token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("line: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("line: channel token is empty")
	}
	return tp.Token, nil
}
