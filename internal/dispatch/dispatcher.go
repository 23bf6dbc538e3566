package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
)

// botAPI is the Client surface the dispatcher needs. Tests substitute a fake.
type botAPI interface {
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (telegram.Message, error)
}

// Config controls dispatcher behavior.
type Config struct {
	ChatID       string
	ShowOriginal bool
	Backoff      *notices.Backoff
}

// Dispatcher implements notices.Dispatcher on top of the Bot API client.
type Dispatcher struct {
	client       botAPI
	chatID       string
	showOriginal bool
	backoff      *notices.Backoff
	logger       *zap.Logger
}

// New builds a Dispatcher. The chat ID is required; a missing one would only
// surface as a per-send Bot API error otherwise.
func New(client botAPI, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("telegram client is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = notices.NewBackoff(3, time.Second, 30*time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		client:       client,
		chatID:       cfg.ChatID,
		showOriginal: cfg.ShowOriginal,
		backoff:      backoff,
		logger:       logger,
	}, nil
}

// Send formats and delivers one notice, returning an Ack only once the Bot
// API confirmed the message.
func (d *Dispatcher) Send(ctx context.Context, n notices.Notice) (notices.Ack, error) {
	msg, err := d.send(ctx, FormatNotice(n, d.showOriginal))
	if err != nil {
		return notices.Ack{}, err
	}
	return notices.Ack{
		ChatID:      d.chatID,
		MessageID:   msg.MessageID,
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// ServiceMessage delivers an operational announcement (startup, shutdown) to
// the same chat, with the same retry policy as notices.
func (d *Dispatcher) ServiceMessage(ctx context.Context, text string) error {
	_, err := d.send(ctx, text)
	return err
}

// send runs the retry loop. Rate-limited attempts wait at least the server's
// retry_after hint; fatal classifications return immediately.
func (d *Dispatcher) send(ctx context.Context, text string) (telegram.Message, error) {
	for attempt := 0; ; attempt++ {
		msg, err := d.client.SendMessage(ctx, telegram.SendMessageParams{
			ChatID:                d.chatID,
			Text:                  text,
			ParseMode:             "Markdown",
			DisableWebPagePreview: true,
		})
		if err == nil {
			metrics.ObserveDispatchAttempt("ok")
			return msg, nil
		}

		derr := classify(err)
		metrics.ObserveDispatchAttempt(string(derr.Kind))
		if derr.Kind == KindFatal || !d.backoff.ShouldRetry(err, attempt) {
			return telegram.Message{}, derr
		}

		delay := d.backoff.Delay(attempt)
		if derr.RetryAfter > delay {
			delay = derr.RetryAfter
		}
		d.logger.Warn("send attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(derr.Kind)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := d.backoff.Sleep(ctx, delay); err != nil {
			return telegram.Message{}, err
		}
	}
}
