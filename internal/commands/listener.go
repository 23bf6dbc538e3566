// Package commands implements the on-demand chat command listener. The only
// command is /latest, which lists the current front page of circulars without
// touching the delivery ledger.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/dispatch"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
)

const (
	defaultListed = 10
	maxListed     = 25

	defaultPollGap     = 2 * time.Second
	defaultPollTimeout = 20 * time.Second
)

// noticeLister serves the current front page, translated.
type noticeLister interface {
	LatestNotices(ctx context.Context, limit int) ([]notices.Notice, error)
}

// botAPI is the Client surface the listener needs. Tests substitute a fake.
type botAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (telegram.Message, error)
}

// Config controls polling cadence and message layout.
type Config struct {
	PollGap      time.Duration
	PollTimeout  time.Duration
	ShowOriginal bool
}

// Listener long-polls getUpdates and answers /latest in group chats.
type Listener struct {
	client botAPI
	lister noticeLister
	cfg    Config
	logger *zap.Logger

	offset int64
}

// New builds a Listener.
func New(client botAPI, lister noticeLister, cfg Config, logger *zap.Logger) (*Listener, error) {
	if client == nil {
		return nil, fmt.Errorf("telegram client is required")
	}
	if lister == nil {
		return nil, fmt.Errorf("notice lister is required")
	}
	if cfg.PollGap <= 0 {
		cfg.PollGap = defaultPollGap
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{client: client, lister: lister, cfg: cfg, logger: logger}, nil
}

// Run polls for updates until ctx is canceled. Poll failures are logged and
// retried after the poll gap; they never stop the listener.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := l.client.GetUpdates(ctx, l.offset, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("poll updates failed", zap.Error(err))
			sleepCtx(ctx, l.cfg.PollGap)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= l.offset {
				l.offset = u.UpdateID + 1
			}
			l.handleUpdate(ctx, u)
		}
		if len(updates) == 0 {
			sleepCtx(ctx, l.cfg.PollGap)
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	limit, ok := parseLatestCommand(msg.Text)
	if !ok {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if msg.Chat.Type != "group" && msg.Chat.Type != "supergroup" {
		l.send(ctx, chatID, msg.MessageID, "This command only works in group chats.")
		return
	}

	l.logger.Info("serving latest circulars",
		zap.String("chat_id", chatID),
		zap.Int("limit", limit))

	listed, err := l.lister.LatestNotices(ctx, limit)
	if err != nil {
		l.logger.Error("list latest circulars failed", zap.Error(err))
		l.send(ctx, chatID, msg.MessageID, "Could not fetch the circulars page right now, please try again later.")
		return
	}
	if len(listed) == 0 {
		l.send(ctx, chatID, msg.MessageID, "No circulars found on the page right now.")
		return
	}

	l.send(ctx, chatID, msg.MessageID, fmt.Sprintf("📋 *Latest %d Circulars*", len(listed)))
	for _, n := range listed {
		if ctx.Err() != nil {
			return
		}
		l.send(ctx, chatID, 0, dispatch.FormatNotice(n, l.cfg.ShowOriginal))
	}
}

// parseLatestCommand recognizes "/latest [n]", including the @botname form
// Telegram uses in groups. The count is clamped to the listing cap.
func parseLatestCommand(text string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0, false
	}
	cmd := fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	if cmd != "/latest" {
		return 0, false
	}

	limit := defaultListed
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListed {
		limit = maxListed
	}
	return limit, true
}

func (l *Listener) send(ctx context.Context, chatID string, replyTo int64, text string) {
	_, err := l.client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
		ReplyToMessageID:      replyTo,
	})
	if err != nil {
		l.logger.Warn("command reply failed",
			zap.String("chat_id", chatID),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
