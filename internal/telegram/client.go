// Package telegram is a minimal Bot API client covering the calls the
// notifier needs: sendMessage, getMe, and getUpdates.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultAPIBaseURL is the public Bot API host.
const DefaultAPIBaseURL = "https://api.telegram.org"

const (
	defaultTimeout      = 30 * time.Second
	defaultMessageBurst = 5
)

// Config captures the runtime settings for the Bot API client.
// MessagesPerMinute caps outgoing sendMessage calls across all callers of the
// client; zero disables the cap. Telegram throttles bots at roughly twenty
// messages per minute per group.
type Config struct {
	BotToken          string
	APIBaseURL        string
	Timeout           time.Duration
	MessagesPerMinute int
	MessageBurst      int
}

// Client speaks to the Telegram Bot API over plain HTTP.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a Bot API client. The base URL is overridable so
// tests can point it at a local server.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("telegram: bot token required")
	}
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = DefaultAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		token:      token,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.MessagesPerMinute > 0 {
		burst := cfg.MessageBurst
		if burst <= 0 {
			burst = defaultMessageBurst
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.MessagesPerMinute)/60.0), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-ok Bot API response. RetryAfter is populated from the
// response parameters on rate limits.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram api: %d %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram api: %d %s", e.Code, e.Description)
}

// User is the subset of the Bot API user object the notifier reads.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat is the subset of the Bot API chat object the notifier reads.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// Message is the subset of the Bot API message object the notifier reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// SendMessageParams are the sendMessage fields the notifier uses.
type SendMessageParams struct {
	ChatID                string
	Text                  string
	ParseMode             string
	DisableWebPagePreview bool
	ReplyToMessageID      int64
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendMessage posts one message and returns the created Message. When a
// message rate is configured the call blocks until the limiter grants a slot
// or ctx expires.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (Message, error) {
	if strings.TrimSpace(p.ChatID) == "" {
		return Message{}, errors.New("telegram: chat id required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return Message{}, errors.New("telegram: message text required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Message{}, fmt.Errorf("telegram: message rate wait: %w", err)
		}
	}
	form := url.Values{}
	form.Set("chat_id", p.ChatID)
	form.Set("text", p.Text)
	if p.ParseMode != "" {
		form.Set("parse_mode", p.ParseMode)
	}
	if p.DisableWebPagePreview {
		form.Set("disable_web_page_preview", "true")
	}
	if p.ReplyToMessageID > 0 {
		form.Set("reply_to_message_id", strconv.FormatInt(p.ReplyToMessageID, 10))
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", form, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// GetMe verifies the token and returns the bot account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var user User
	if err := c.call(ctx, "getMe", nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUpdates long-polls for updates with ids greater than or equal to
// offset. The poll timeout must stay below the HTTP client timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	seconds := int(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	form.Set("timeout", strconv.Itoa(seconds))

	var updates []Update
	if err := c.call(ctx, "getUpdates", form, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method string, form url.Values, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var (
		req *http.Request
		err error
	)
	if form == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("telegram: decode %s response (http %d): %w", method, resp.StatusCode, err)
	}
	if !parsed.OK {
		apiErr := &APIError{Code: parsed.ErrorCode, Description: parsed.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// transportError keeps the cause chain for errors.Is while scrubbing the
// token-bearing request URL out of the printed message.
func (c *Client) transportError(method string, err error) error {
	msg := strings.ReplaceAll(err.Error(), c.token, "<token>")
	return &transportError{msg: fmt.Sprintf("telegram: %s: %s", method, msg), cause: err}
}

type transportError struct {
	msg   string
	cause error
}

func (e *transportError) Error() string { return e.msg }

func (e *transportError) Unwrap() error { return e.cause }
