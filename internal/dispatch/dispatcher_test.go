package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
)

func fastDispatchBackoff(attempts int) *notices.Backoff {
	return notices.NewBackoff(attempts, time.Millisecond, 2*time.Millisecond)
}

func newTestDispatcher(t *testing.T, bot botAPI, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.ChatID == "" {
		cfg.ChatID = "-100200300"
	}
	if cfg.Backoff == nil {
		cfg.Backoff = fastDispatchBackoff(3)
	}
	d, err := New(bot, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

// TestSendDeliversAndAcks checks the happy path: one API call, parameters
// set for Markdown without preview, and an Ack carrying the message id.
func TestSendDeliversAndAcks(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{{msg: telegram.Message{MessageID: 77}}}}
	d := newTestDispatcher(t, bot, Config{})

	ack, err := d.Send(context.Background(), notices.Notice{
		Title:           "સૂચના",
		TitleTranslated: "Notice",
		Translated:      true,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.MessageID != 77 || ack.ChatID != "-100200300" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.DeliveredAt.IsZero() {
		t.Fatal("expected delivery timestamp")
	}

	calls := bot.sent()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	p := calls[0]
	if p.ChatID != "-100200300" || p.ParseMode != "Markdown" || !p.DisableWebPagePreview {
		t.Fatalf("unexpected params %+v", p)
	}
	if !strings.Contains(p.Text, "New Circular Released") || !strings.Contains(p.Text, "*English Title:* Notice") {
		t.Fatalf("unexpected message text:\n%s", p.Text)
	}
}

// TestSendRetriesServerErrors verifies 5xx responses are retried.
func TestSendRetriesServerErrors(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{
		{err: &telegram.APIError{Code: http.StatusBadGateway, Description: "Bad Gateway"}},
		{msg: telegram.Message{MessageID: 5}},
	}}
	d := newTestDispatcher(t, bot, Config{})

	ack, err := d.Send(context.Background(), notices.Notice{Title: "Notice"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.MessageID != 5 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if got := len(bot.sent()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

// TestSendHonorsRetryAfter waits at least the server's hint on rate limits.
func TestSendHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	const hint = 30 * time.Millisecond
	bot := &scriptedBot{results: []sendResult{
		{err: &telegram.APIError{Code: http.StatusTooManyRequests, Description: "Too Many Requests", RetryAfter: hint}},
		{msg: telegram.Message{MessageID: 9}},
	}}
	d := newTestDispatcher(t, bot, Config{})

	start := time.Now()
	if _, err := d.Send(context.Background(), notices.Notice{Title: "Notice"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < hint {
		t.Fatalf("retried after %v, want at least %v", elapsed, hint)
	}
	if got := len(bot.sent()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

// TestSendFatalFailsFast stops immediately on client errors like a bad chat.
func TestSendFatalFailsFast(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{
		{err: &telegram.APIError{Code: http.StatusForbidden, Description: "Forbidden: bot was kicked"}},
	}}
	d := newTestDispatcher(t, bot, Config{})

	_, err := d.Send(context.Background(), notices.Notice{Title: "Notice"})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if got := len(bot.sent()); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

// TestSendExhaustsBudget returns the transient error after the last attempt.
func TestSendExhaustsBudget(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{
		{err: &telegram.APIError{Code: http.StatusInternalServerError, Description: "Internal Server Error"}},
	}}
	d := newTestDispatcher(t, bot, Config{Backoff: fastDispatchBackoff(2)})

	_, err := d.Send(context.Background(), notices.Notice{Title: "Notice"})
	if err == nil || IsFatal(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindTransient {
		t.Fatalf("expected transient kind, got %v", err)
	}
	if got := len(bot.sent()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

// TestSendStopsOnCanceledContext aborts between attempts.
func TestSendStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{
		{err: &telegram.APIError{Code: http.StatusInternalServerError, Description: "Internal Server Error"}},
	}}
	d := newTestDispatcher(t, bot, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Send(ctx, notices.Notice{Title: "Notice"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if got := len(bot.sent()); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

// TestServiceMessagePassesTextThrough sends operational text verbatim.
func TestServiceMessagePassesTextThrough(t *testing.T) {
	t.Parallel()

	bot := &scriptedBot{results: []sendResult{{msg: telegram.Message{MessageID: 1}}}}
	d := newTestDispatcher(t, bot, Config{})

	if err := d.ServiceMessage(context.Background(), "🤖 Notifier started"); err != nil {
		t.Fatalf("ServiceMessage() error = %v", err)
	}
	calls := bot.sent()
	if len(calls) != 1 || calls[0].Text != "🤖 Notifier started" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

// TestNewValidatesConfig rejects a missing client or chat id.
func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{ChatID: "-1"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(&scriptedBot{}, Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

type sendResult struct {
	msg telegram.Message
	err error
}

// scriptedBot returns canned results in order, repeating the last one.
type scriptedBot struct {
	mu      sync.Mutex
	calls   []telegram.SendMessageParams
	results []sendResult
}

func (b *scriptedBot) SendMessage(_ context.Context, p telegram.SendMessageParams) (telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, p)
	if len(b.results) == 0 {
		return telegram.Message{}, errors.New("no scripted result")
	}
	i := len(b.calls) - 1
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	r := b.results[i]
	return r.msg, r.err
}

func (b *scriptedBot) sent() []telegram.SendMessageParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telegram.SendMessageParams(nil), b.calls...)
}
