package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
)

func fastConfig() Config {
	return Config{PollGap: time.Millisecond, PollTimeout: time.Millisecond}
}

func groupCommand(updateID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: 5,
			Chat:      telegram.Chat{ID: -100200300, Type: "supergroup"},
			Text:      text,
		},
	}
}

func startListener(t *testing.T, bot *fakeBot, lister *fakeLister) (cancel func()) {
	t.Helper()
	l, err := New(bot, lister, fastConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	return func() {
		stop()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("listener did not stop after cancel")
		}
	}
}

// TestListenerServesLatest answers /latest with a header reply followed by
// one message per notice.
func TestListenerServesLatest(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{batches: [][]telegram.Update{{groupCommand(1, "/latest 2")}}}
	lister := &fakeLister{notices: []notices.Notice{
		{ExternalID: "a", Title: "સૂચના", TitleTranslated: "Notice one", Translated: true, URL: "https://www.bknmu.edu.in/Uploads/c1.pdf"},
		{ExternalID: "b", Title: "Notice two"},
	}}
	stop := startListener(t, bot, lister)
	defer stop()

	require.Eventually(t, func() bool { return len(bot.messages()) == 3 }, time.Second, time.Millisecond)

	sent := bot.messages()
	require.Contains(t, sent[0].Text, "Latest 2 Circulars")
	require.Equal(t, int64(5), sent[0].ReplyToMessageID)
	require.Contains(t, sent[1].Text, "Notice one")
	require.Contains(t, sent[1].Text, "View PDF")
	require.Zero(t, sent[1].ReplyToMessageID)
	for _, p := range sent {
		require.Equal(t, "-100200300", p.ChatID)
		require.Equal(t, "Markdown", p.ParseMode)
	}
	require.Equal(t, []int{2}, lister.requested())
}

// TestListenerAdvancesOffset acknowledges processed updates on the next poll.
func TestListenerAdvancesOffset(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{batches: [][]telegram.Update{{groupCommand(41, "hello"), groupCommand(42, "hello")}}}
	stop := startListener(t, bot, &fakeLister{})
	defer stop()

	require.Eventually(t, func() bool {
		for _, off := range bot.offsets() {
			if off == 43 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	require.Empty(t, bot.messages())
}

// TestListenerClampsRequestedCount caps the listing size.
func TestListenerClampsRequestedCount(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{batches: [][]telegram.Update{{groupCommand(1, "/latest 99")}}}
	lister := &fakeLister{}
	stop := startListener(t, bot, lister)
	defer stop()

	require.Eventually(t, func() bool { return len(lister.requested()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []int{25}, lister.requested())
}

// TestListenerRefusesPrivateChats keeps the command group-only.
func TestListenerRefusesPrivateChats(t *testing.T) {
	t.Parallel()

	private := telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 9,
			Chat:      telegram.Chat{ID: 777, Type: "private"},
			Text:      "/latest",
		},
	}
	bot := &fakeBot{batches: [][]telegram.Update{{private}}}
	lister := &fakeLister{}
	stop := startListener(t, bot, lister)
	defer stop()

	require.Eventually(t, func() bool { return len(bot.messages()) == 1 }, time.Second, time.Millisecond)
	require.Contains(t, bot.messages()[0].Text, "group chats")
	require.Empty(t, lister.requested())
}

// TestListenerReportsListFailure apologizes instead of going silent.
func TestListenerReportsListFailure(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{batches: [][]telegram.Update{{groupCommand(1, "/latest")}}}
	lister := &fakeLister{err: errors.New("status 503")}
	stop := startListener(t, bot, lister)
	defer stop()

	require.Eventually(t, func() bool { return len(bot.messages()) == 1 }, time.Second, time.Millisecond)
	require.Contains(t, bot.messages()[0].Text, "try again later")
}

// TestListenerSurvivesPollFailures keeps polling after getUpdates errors.
func TestListenerSurvivesPollFailures(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{pollErr: errors.New("status 502")}
	stop := startListener(t, bot, &fakeLister{})
	defer stop()

	require.Eventually(t, func() bool { return len(bot.offsets()) >= 3 }, time.Second, time.Millisecond)
}

// TestParseLatestCommand covers the accepted spellings and the clamps.
func TestParseLatestCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text  string
		limit int
		ok    bool
	}{
		{"/latest", 10, true},
		{"  /latest  ", 10, true},
		{"/latest 5", 5, true},
		{"/latest 99", 25, true},
		{"/latest abc", 10, true},
		{"/latest -3", 10, true},
		{"/latest@bknmu_notifier_bot 3", 3, true},
		{"/latestx", 0, false},
		{"/start", 0, false},
		{"hello", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		limit, ok := parseLatestCommand(tc.text)
		require.Equal(t, tc.ok, ok, "text %q", tc.text)
		if tc.ok {
			require.Equal(t, tc.limit, limit, "text %q", tc.text)
		}
	}
}

type fakeBot struct {
	mu      sync.Mutex
	batches [][]telegram.Update
	pollErr error
	polls   []int64
	sent    []telegram.SendMessageParams
}

func (b *fakeBot) GetUpdates(_ context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls = append(b.polls, offset)
	if b.pollErr != nil {
		return nil, b.pollErr
	}
	if len(b.batches) == 0 {
		return nil, nil
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	return batch, nil
}

func (b *fakeBot) SendMessage(_ context.Context, p telegram.SendMessageParams) (telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, p)
	return telegram.Message{MessageID: int64(len(b.sent))}, nil
}

func (b *fakeBot) messages() []telegram.SendMessageParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telegram.SendMessageParams(nil), b.sent...)
}

func (b *fakeBot) offsets() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.polls...)
}

type fakeLister struct {
	mu      sync.Mutex
	limits  []int
	notices []notices.Notice
	err     error
}

func (l *fakeLister) LatestNotices(_ context.Context, limit int) ([]notices.Notice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = append(l.limits, limit)
	if l.err != nil {
		return nil, l.err
	}
	listed := append([]notices.Notice(nil), l.notices...)
	if len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (l *fakeLister) requested() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.limits...)
}
