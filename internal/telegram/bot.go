// Package telegram sends operator alerts through the Telegram Bot API and
// answers a small set of chat commands.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/config"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Bot handles Telegram bot operations
type Bot struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	mu              sync.Mutex
	cooldownTracker map[string]time.Time
	cooldownPeriod  time.Duration
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithBaseURL points the bot at another Bot API server.
func WithBaseURL(u string) BotOption {
	return func(b *Bot) { b.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) BotOption {
	return func(b *Bot) { b.httpClient = c }
}

// WithBotLogger sets the logger.
func WithBotLogger(l zerolog.Logger) BotOption {
	return func(b *Bot) { b.log = l }
}

// WithBotClock replaces the clock used for cooldowns.
func WithBotClock(now func() time.Time) BotOption {
	return func(b *Bot) { b.now = now }
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is a non-ok Bot API reply.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s error %d: %s", e.Method, e.Code, e.Description)
}

// BotInfo is the subset of getMe we log at startup.
type BotInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// NewBot creates a bot from cfg.
func NewBot(cfg config.TelegramConfig, opts ...BotOption) *Bot {
	cooldownPeriod := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldownPeriod == 0 {
		cooldownPeriod = 30 * time.Second
	}

	b := &Bot{
		botToken:        cfg.BotToken,
		chatID:          cfg.ChatID,
		baseURL:         DefaultBaseURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		log:             zerolog.Nop(),
		now:             time.Now,
		cooldownTracker: make(map[string]time.Time),
		cooldownPeriod:  cooldownPeriod,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChatID returns the authorized chat.
func (b *Bot) ChatID() string {
	return b.chatID
}

// SendMessage sends an HTML formatted message to the configured chat.
func (b *Bot) SendMessage(ctx context.Context, message string) error {
	payload := map[string]any{
		"chat_id":    b.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	return b.call(ctx, "sendMessage", payload, nil)
}

// SendAlert sends message unless an alert of the same kind went out within
// the cooldown period. It reports whether the message was sent.
func (b *Bot) SendAlert(ctx context.Context, kind, message string) (bool, error) {
	if !b.checkCooldown(kind) {
		b.log.Debug().Str("kind", kind).Msg("alert suppressed by cooldown")
		return false, nil
	}
	if err := b.SendMessage(ctx, message); err != nil {
		return false, err
	}
	b.updateCooldown(kind)
	return true, nil
}

// SendPhoto sends a JPEG with an optional caption.
func (b *Bot) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "snapshot.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return b.do(req, "sendPhoto", nil)
}

// GetBotInfo calls getMe. Used at startup to verify the token.
func (b *Bot) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	var info BotInfo
	if err := b.call(ctx, "getMe", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// call posts payload as JSON and decodes the result into out when non-nil.
func (b *Bot) call(ctx context.Context, method string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return b.do(req, method, out)
}

func (b *Bot) do(req *http.Request, method string, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, method, out)
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.botToken, method)
}

// handleResponse processes the Bot API envelope.
func handleResponse(resp *http.Response, method string, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to unmarshal %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		return &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func (b *Bot) checkCooldown(kind string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, exists := b.cooldownTracker[kind]
	if !exists {
		return true
	}
	return b.now().Sub(last) >= b.cooldownPeriod
}

func (b *Bot) updateCooldown(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldownTracker[kind] = b.now()
}
