package telegram

import (
	"context"
	"fmt"
	"html"

	"github.com/rs/zerolog"

	"huewatch/internal/supervisor"
)

const alertExhausted = "camera_exhausted"

// Alerter tells the operator when the camera gives up reconnecting and when
// it comes back.
type Alerter struct {
	bot    *Bot
	log    zerolog.Logger
	events chan supervisor.Transition
	down   bool
}

// NewAlerter creates an alerter sending through bot.
func NewAlerter(bot *Bot, log zerolog.Logger) *Alerter {
	return &Alerter{
		bot:    bot,
		log:    log,
		events: make(chan supervisor.Transition, 16),
	}
}

// OnStateChange queues tr. It never blocks; transitions are dropped when the
// queue is full.
func (a *Alerter) OnStateChange(tr supervisor.Transition) {
	if tr.To != supervisor.Exhausted && tr.To != supervisor.Connected {
		return
	}
	select {
	case a.events <- tr:
	default:
		a.log.Warn().Str("to", tr.To.String()).Msg("alert queue full, transition dropped")
	}
}

// Run sends alerts until ctx is done.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-a.events:
			a.handle(ctx, tr)
		}
	}
}

func (a *Alerter) handle(ctx context.Context, tr supervisor.Transition) {
	switch tr.To {
	case supervisor.Exhausted:
		sent, err := a.bot.SendAlert(ctx, alertExhausted, exhaustedMessage(tr))
		if err != nil {
			a.log.Error().Err(err).Msg("failed to send exhausted alert")
			return
		}
		if sent {
			a.down = true
			a.log.Info().Int("attempts", tr.Attempt).Msg("exhausted alert sent")
		}

	case supervisor.Connected:
		if !a.down {
			return
		}
		if err := a.bot.SendMessage(ctx, "✅ <b>Camera reconnected</b>\n\nStream and detection are live again."); err != nil {
			a.log.Error().Err(err).Msg("failed to send recovery notice")
			return
		}
		a.down = false
	}
}

func exhaustedMessage(tr supervisor.Transition) string {
	msg := fmt.Sprintf("⚠️ <b>Camera unavailable</b>\n\nReconnect attempts exhausted after %d tries.", tr.Attempt)
	if tr.Err != nil {
		msg += "\nLast error: " + html.EscapeString(tr.Err.Error())
	}
	return msg + "\n\nSend /reset to try again."
}
