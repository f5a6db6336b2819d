package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/detection"
	"huewatch/internal/pipeline"
	"huewatch/internal/supervisor"
)

// Update represents a Telegram update
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents an incoming Telegram message
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	Text      string `json:"text,omitempty"`
	Date      int64  `json:"date"`
}

// Chat represents a Telegram chat
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CameraControl is the part of the supervisor the bot can see and drive.
type CameraControl interface {
	Status() supervisor.Status
	ResetAttempts(ctx context.Context) error
}

// FrameSource returns the most recent encoded stream frame.
type FrameSource interface {
	Latest() *pipeline.EncodedFrame
}

// Detector runs an on-demand color query.
type Detector interface {
	Detect(ctx context.Context) detection.Response
}

// CommandHandler handles Telegram bot commands
type CommandHandler struct {
	bot          *Bot
	camera       CameraControl
	frames       FrameSource
	detector     Detector
	log          zerolog.Logger
	pollInterval time.Duration
	startTime    time.Time

	mu           sync.Mutex
	lastUpdateID int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *Bot, camera CameraControl, frames FrameSource, detector Detector, log zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		bot:          bot,
		camera:       camera,
		frames:       frames,
		detector:     detector,
		log:          log,
		pollInterval: 2 * time.Second,
		startTime:    time.Now(),
	}
}

// StartPolling polls for updates until ctx is done.
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if ch.bot.botToken == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	ch.log.Info().Dur("interval", ch.pollInterval).Msg("telegram command polling started")

	ticker := time.NewTicker(ch.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.log.Info().Msg("telegram command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				ch.log.Warn().Err(err).Msg("failed to poll telegram updates")
			}
		}
	}
}

// pollUpdates fetches and processes pending updates.
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	var updates []Update
	payload := map[string]any{"offset": offset, "timeout": 1}
	if err := ch.bot.call(ctx, "getUpdates", payload, &updates); err != nil {
		return err
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage processes an incoming message from the authorized chat.
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != ch.bot.ChatID() {
		ch.log.Warn().Str("chat_id", chatID).Msg("ignoring message from unauthorized chat")
		return
	}

	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	command := strings.ToLower(strings.Fields(msg.Text)[0])
	// Strip the bot username suffix, e.g. /status@huewatch_bot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	ch.log.Debug().Str("command", command).Msg("processing telegram command")

	var response string
	switch command {
	case "/start":
		response = ch.handleStart()
	case "/help":
		response = ch.handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/detect":
		response = ch.handleDetect(ctx)
	case "/reset":
		response = ch.handleReset(ctx)
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}

	if err := ch.bot.SendMessage(ctx, response); err != nil {
		ch.log.Error().Err(err).Str("command", command).Msg("failed to send reply")
	}
}

func (ch *CommandHandler) handleStart() string {
	return "🤖 <b>huewatch</b>\n\n" +
		"I report pink and white coverage in the camera's center region and tell you when the camera drops out.\n\n" +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - Camera connection status\n" +
		"/detect - Run a color detection now\n" +
		"/snapshot - Latest annotated frame\n" +
		"/reset - Retry after reconnect attempts are exhausted\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	st := ch.camera.Status()

	var sb strings.Builder
	sb.WriteString("📊 <b>Camera Status</b>\n\n")
	fmt.Fprintf(&sb, "State: <b>%s</b>\n", st.State)
	if st.Driver != "" {
		fmt.Fprintf(&sb, "Driver: %s\n", st.Driver)
	}
	fmt.Fprintf(&sb, "Reconnect attempts: %d/%d\n", st.ReconnectAttempts, st.MaxAttempts)
	fmt.Fprintf(&sb, "Consecutive failures: %d/%d\n", st.ConsecutiveFailures, st.FailureThreshold)
	if !st.LastFrameAt.IsZero() {
		fmt.Fprintf(&sb, "Last frame: %s ago\n", formatDuration(time.Since(st.LastFrameAt)))
	}
	if st.LastError != "" {
		fmt.Fprintf(&sb, "Last error (%s): %s\n", st.LastErrorCategory, html.EscapeString(st.LastError))
	}
	fmt.Fprintf(&sb, "\nUptime: %s", formatDuration(time.Since(ch.startTime)))
	return sb.String()
}

func (ch *CommandHandler) handleDetect(ctx context.Context) string {
	resp := ch.detector.Detect(ctx)
	if resp.Status != detection.StatusSuccess && resp.Status != detection.StatusStale {
		return fmt.Sprintf("❌ Detection failed (%s): %s", resp.Status, html.EscapeString(resp.Error))
	}

	msg := fmt.Sprintf("🎨 <b>Detection</b>\n\nPink: %.2f%%\nWhite: %.2f%%", resp.Pink, resp.White)
	if resp.Status == detection.StatusStale {
		msg += "\n\n⚠️ Camera unreachable, result is from a cached frame."
	}
	return msg
}

func (ch *CommandHandler) handleReset(ctx context.Context) string {
	before := ch.camera.Status().State

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ch.camera.ResetAttempts(ctx); err != nil {
		return fmt.Sprintf("❌ Reset failed: %v", err)
	}

	if before != supervisor.Exhausted {
		return fmt.Sprintf("ℹ️ Reconnect counter cleared. Camera is %s.", ch.camera.Status().State)
	}
	return "🔄 Reconnect attempts reset. The camera will be retried now."
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	frame := ch.frames.Latest()
	if frame == nil {
		if err := ch.bot.SendMessage(ctx, "⚠️ No frame available yet."); err != nil {
			ch.log.Error().Err(err).Msg("failed to send reply")
		}
		return
	}

	caption := fmt.Sprintf("📸 <b>Snapshot</b>\n\n🕐 %s", frame.At.Format("Jan 2, 2006, 03:04:05 PM MST"))
	if frame.Placeholder {
		caption += "\n⚠️ Camera error frame"
	}

	if err := ch.bot.SendPhoto(ctx, frame.Data, caption); err != nil {
		ch.log.Error().Err(err).Msg("failed to send snapshot")
		if err := ch.bot.SendMessage(ctx, fmt.Sprintf("❌ Failed to send snapshot: %v", err)); err != nil {
			ch.log.Error().Err(err).Msg("failed to send reply")
		}
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
