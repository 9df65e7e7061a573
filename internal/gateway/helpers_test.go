// ABOUTME: Shared fakes for gateway tests: a scripted chat client and session cache.
// ABOUTME: Builds Gateways wired to a real activity store in a temp directory.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/familiar/internal/agent"
	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/heartbeat"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/telegram"
)

type sentMessage struct {
	chatID int64
	text   string
}

// fakeChat is a scripted chat client. GetUpdates delegates to the onPoll
// hook when set and otherwise blocks until the context ends.
type fakeChat struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	onPoll  func(ctx context.Context, offset int64) ([]telegram.Update, error)
}

func (f *fakeChat) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	f.mu.Lock()
	poll := f.onPoll
	f.mu.Unlock()
	if poll != nil {
		return poll(ctx, offset)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeChat) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeChat) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type invocation struct {
	label   string
	prompt  string
	timeout time.Duration
}

// fakeCache is a scripted session cache answering every Invoke the same way.
type fakeCache struct {
	mu          sync.Mutex
	invocations []invocation
	reply       string
	err         error
	status      agent.Status
	hasSession  bool
	closed      bool
	invoked     chan struct{}
}

func (f *fakeCache) Invoke(_ context.Context, label, prompt string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, invocation{label: label, prompt: prompt, timeout: timeout})
	invoked := f.invoked
	f.mu.Unlock()
	if invoked != nil {
		invoked <- struct{}{}
	}
	return f.reply, f.err
}

func (f *fakeCache) Status(_ time.Time) agent.Status { return f.status }

func (f *fakeCache) ExpireNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	had := f.hasSession
	f.hasSession = false
	return had
}

func (f *fakeCache) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeCache) calls() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{
			Token:       "test-token",
			PollTimeout: 10 * time.Millisecond,
		},
		Agent: config.AgentConfig{
			Command:     "test-agent",
			CallTimeout: 2 * time.Second,
		},
		Heartbeat: config.HeartbeatConfig{
			Interval: time.Hour,
			Timeout:  time.Second,
		},
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
	}
}

// newTestGateway wires a Gateway from the given fakes, with a real activity
// store in a temp directory and a quiet logger.
func newTestGateway(t *testing.T, cfg *config.Config, cache *fakeCache, chat *fakeChat) *Gateway {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(filepath.Join(t.TempDir(), "familiar.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	arb := arbiter.New()
	g := &Gateway{
		config:          cfg,
		logger:          logger,
		arb:             arb,
		sessions:        cache,
		chat:            chat,
		store:           s,
		heartbeatPrompt: heartbeat.DefaultPrompt,
	}
	g.scheduler = heartbeat.New(heartbeat.Config{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
		Arbiter:  arb,
		Invoker:  cache,
		Logger:   logger,
		OnResult: g.recordHeartbeat,
	})
	return g
}

func inboundUpdate(updateID, chatID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: updateID,
			Chat:      telegram.Chat{ID: chatID, Type: "private"},
			Text:      text,
		},
	}
}
