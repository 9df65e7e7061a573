// ABOUTME: Tests for the poll loop and per-message handling.
// ABOUTME: Covers busy rejection, apologies, outcome recording, and offset advance.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar/internal/agent"
	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/telegram"
)

func TestHandleUpdate_RepliesWithAgentText(t *testing.T) {
	cache := &fakeCache{reply: "pong"}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 42, "ping"))
	require.NoError(t, err)

	sent := chat.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].chatID)
	assert.Equal(t, "pong", sent[0].text)

	calls := cache.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "chat-reply", calls[0].label)
	assert.Equal(t, "ping", calls[0].prompt)
	assert.Equal(t, g.config.Agent.CallTimeout, calls[0].timeout)

	snap := g.arb.Snapshot()
	assert.False(t, snap.Busy, "arbiter must be released after the reply")
	assert.Equal(t, uint64(1), snap.MessagesHandled)

	exchanges, err := g.store.RecentExchanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, store.OutcomeOK, exchanges[0].Outcome)
	require.NotNil(t, exchanges[0].ChatID)
	assert.Equal(t, int64(42), *exchanges[0].ChatID)
}

func TestHandleUpdate_BusyRejection(t *testing.T) {
	cache := &fakeCache{reply: "pong"}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	require.True(t, g.arb.TryBegin(arbiter.TaskHeartbeat))

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 42, "ping"))
	require.NoError(t, err)

	sent := chat.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, busyApology, sent[0].text)
	assert.Empty(t, cache.calls(), "a rejected message never reaches the agent")

	snap := g.arb.Snapshot()
	assert.Equal(t, uint64(1), snap.BusyRejections)
	assert.Equal(t, arbiter.TaskHeartbeat, snap.ActiveTask, "heartbeat still holds the slot")

	exchanges, err := g.store.RecentExchanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, store.OutcomeBusy, exchanges[0].Outcome)
}

func TestHandleUpdate_GenerationError(t *testing.T) {
	cache := &fakeCache{err: errors.New("agent exploded")}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 42, "ping"))
	require.NoError(t, err, "generation failures are resolved with an apology, not propagated")

	sent := chat.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, generationApology, sent[0].text)

	snap := g.arb.Snapshot()
	assert.False(t, snap.Busy)
	assert.Equal(t, uint64(1), snap.GenerationErrors)
	assert.Contains(t, snap.LastGenerationError, "agent exploded")

	exchanges, err := g.store.RecentExchanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, store.OutcomeError, exchanges[0].Outcome)
}

func TestHandleUpdate_TimeoutRecordedAsTimeout(t *testing.T) {
	cache := &fakeCache{err: fmt.Errorf("%w after 5s (chat-reply)", agent.ErrCallTimeout)}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 42, "ping"))
	require.NoError(t, err)

	require.Len(t, chat.messages(), 1)
	assert.Equal(t, generationApology, chat.messages()[0].text)

	exchanges, err := g.store.RecentExchanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, store.OutcomeTimeout, exchanges[0].Outcome)
}

func TestHandleUpdate_SendErrorPropagates(t *testing.T) {
	cache := &fakeCache{reply: "pong"}
	chat := &fakeChat{sendErr: errors.New("telegram down")}
	g := newTestGateway(t, testConfig(), cache, chat)

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 42, "ping"))
	require.Error(t, err, "send failures feed the poll loop's backoff")

	snap := g.arb.Snapshot()
	assert.Equal(t, uint64(1), snap.SendErrors)
	assert.Contains(t, snap.LastSendError, "telegram down")
}

func TestHandleUpdate_IgnoresUnconfiguredChat(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.AllowedChatIDs = []int64{42}
	cache := &fakeCache{reply: "pong"}
	chat := &fakeChat{}
	g := newTestGateway(t, cfg, cache, chat)

	err := g.handleUpdate(context.Background(), inboundUpdate(1, 99, "ping"))
	require.NoError(t, err)

	assert.Empty(t, chat.messages())
	assert.Empty(t, cache.calls())
}

func TestHandleUpdate_SkipsEmptyMessages(t *testing.T) {
	cache := &fakeCache{reply: "pong"}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	require.NoError(t, g.handleUpdate(context.Background(), telegram.Update{UpdateID: 1}))
	require.NoError(t, g.handleUpdate(context.Background(), inboundUpdate(2, 42, "")))

	assert.Empty(t, chat.messages())
	assert.Empty(t, cache.calls())
}

func TestPollLoop_AdvancesOffsetPastEveryUpdate(t *testing.T) {
	cache := &fakeCache{err: errors.New("always failing")}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	ctx, cancel := context.WithCancel(context.Background())
	offsets := make(chan int64, 2)
	chat.onPoll = func(_ context.Context, offset int64) ([]telegram.Update, error) {
		offsets <- offset
		if offset == 0 {
			return []telegram.Update{
				inboundUpdate(7, 42, "one"),
				inboundUpdate(8, 42, "two"),
			}, nil
		}
		cancel()
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.pollLoop(ctx)
	}()

	assert.Equal(t, int64(0), <-offsets)
	// Both updates failed generation, but the offset still moves past them.
	assert.Equal(t, int64(9), <-offsets)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop after cancellation")
	}
	assert.Len(t, chat.messages(), 2, "each failed update still got its apology")
}

func TestPollLoop_BacksOffOnPollError(t *testing.T) {
	cache := &fakeCache{}
	chat := &fakeChat{}
	g := newTestGateway(t, testConfig(), cache, chat)

	ctx, cancel := context.WithCancel(context.Background())
	var polls int
	chat.onPoll = func(_ context.Context, _ int64) ([]telegram.Update, error) {
		polls++
		if polls >= 2 {
			cancel()
		}
		return nil, errors.New("network unreachable")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.pollLoop(ctx)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, polls, 2, "the loop resumes scanning after a poll error")
}

func TestComposePrompt(t *testing.T) {
	plain := &telegram.Message{Text: "hello"}
	assert.Equal(t, "hello", composePrompt(plain))

	quoted := &telegram.Message{
		Text:           "what about this?",
		ReplyToMessage: &telegram.Message{Text: "earlier answer"},
	}
	assert.Equal(t, "In reply to:\n> earlier answer\n\nwhat about this?", composePrompt(quoted))
}

func TestChatAllowed(t *testing.T) {
	cfg := testConfig()
	g := newTestGateway(t, cfg, &fakeCache{}, &fakeChat{})
	assert.True(t, g.chatAllowed(123), "empty allow-list answers everyone")

	cfg.Telegram.AllowedChatIDs = []int64{1, 2}
	assert.True(t, g.chatAllowed(2))
	assert.False(t, g.chatAllowed(3))
}
