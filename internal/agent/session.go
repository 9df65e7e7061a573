// ABOUTME: One agent conversation: a live subprocess plus its event fan-out.
// ABOUTME: Handshakes on spawn, forwards prompts, and tracks the latest final text.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/taskctx"
)

const (
	// defaultHandshakeTimeout bounds how long a freshly spawned agent may
	// take to announce itself ready.
	defaultHandshakeTimeout = 30 * time.Second

	// subscriberBufferSize is the channel buffer for each event subscriber.
	subscriberBufferSize = 64
)

// Conversation is the session surface the cache and supervisor drive. It is
// satisfied by *Session; tests substitute fakes fed with synthetic events.
type Conversation interface {
	// Prompt writes one prompt frame to the agent.
	Prompt(ctx context.Context, text string) error
	// Subscribe registers an event subscriber. The returned cancel func
	// releases the subscription; the channel is closed when the agent's
	// event stream ends.
	Subscribe() (<-chan Event, func())
	// FinalText returns the assistant text of the most recent completed turn.
	FinalText() string
	// Kill force-terminates the agent process group without waiting.
	Kill()
	// Done is closed once the agent process has exited and been reaped.
	Done() <-chan struct{}
	// Close force-terminates the agent and blocks until it is reaped.
	Close()
}

// SessionConfig describes how to establish one agent conversation.
type SessionConfig struct {
	// Command is the agent executable path.
	Command string
	// Args are passed verbatim (provider/model selectors and the like).
	Args []string
	// Dir is the agent's working directory.
	Dir string
	// HandshakeTimeout bounds the wait for the agent's ready event.
	// Zero means defaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Session is one conversational context with the agent, backed by one live
// subprocess. Events from the process are fanned out to subscribers in
// arrival order; the session itself watches for agent_end events to record
// the final text of each turn.
type Session struct {
	// ID is the agent-assigned session identifier from the ready handshake,
	// or a locally generated one if the agent did not provide any.
	ID string

	proc      *process
	logger    *slog.Logger
	createdAt time.Time

	mu        sync.Mutex
	subs      map[string]chan Event
	finalText string
	ended     bool
}

var _ Conversation = (*Session)(nil)

// NewSession spawns the agent subprocess and performs the ready handshake.
// On any handshake failure the subprocess is killed and reaped before the
// error is returned, so a failed construction never leaks a process.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent-session")

	proc, err := startProcess(processConfig{
		command: cfg.Command,
		args:    cfg.Args,
		dir:     cfg.Dir,
		logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		proc:      proc,
		logger:    logger,
		createdAt: time.Now(),
		subs:      make(map[string]chan Event),
	}

	// Subscribe before the pump starts so the ready event cannot be missed.
	ready, unsubscribe := s.Subscribe()
	defer unsubscribe()
	go s.pump()

	if err := s.awaitReady(ctx, ready, cfg.HandshakeTimeout); err != nil {
		s.Close()
		return nil, err
	}

	s.logger = logger.With("session_id", s.ID)
	s.logger.Info("agent session established", "pid", proc.cmd.Process.Pid)
	return s, nil
}

// awaitReady waits for the agent's ready announcement.
func (s *Session) awaitReady(ctx context.Context, ready <-chan Event, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-ready:
			if !ok {
				return fmt.Errorf("agent exited during handshake: %s", firstLine(s.proc.StderrTail()))
			}
			if ev.Type != EventReady {
				// Startup noise ahead of the handshake is tolerated.
				continue
			}
			s.ID = ev.SessionID
			if s.ID == "" {
				s.ID = uuid.New().String()[:8]
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("agent handshake timed out after %s", timeout)
		case <-ctx.Done():
			return fmt.Errorf("agent handshake canceled: %w", ctx.Err())
		}
	}
}

// pump forwards process events to all subscribers and records final texts.
// It is the only sender on subscriber channels; when the process's stream
// ends it closes every subscriber channel, which is how consumers learn the
// conversation is over.
func (s *Session) pump() {
	for ev := range s.proc.Events() {
		s.mu.Lock()
		if ev.Kind() == KindCompletion {
			s.finalText = ev.Text
		}
		targets := make([]chan Event, 0, len(s.subs))
		for _, ch := range s.subs {
			targets = append(targets, ch)
		}
		s.mu.Unlock()

		for _, ch := range targets {
			if !deliver(ch, ev) {
				// Subscriber fell behind; dropping beats blocking the pump.
				s.logger.Debug("dropped event for slow subscriber", "type", ev.Type)
			}
		}
	}

	s.mu.Lock()
	s.ended = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
}

// deliver hands one event to a subscriber without ever blocking the pump.
// Ordinary events are dropped when the subscriber's buffer is full;
// completion and error events instead evict the oldest buffered event,
// because those are the kinds a supervised wait unblocks on and losing one
// would leave the caller hanging until stream end. The pump is the sole
// sender, so the evict-then-retry loop always terminates.
func deliver(ch chan Event, ev Event) bool {
	kind := ev.Kind()
	terminal := kind == KindCompletion || kind == KindError
	for {
		select {
		case ch <- ev:
			return true
		default:
		}
		if !terminal {
			return false
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe registers an event subscriber. After the stream has ended the
// returned channel is already closed.
func (s *Session) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	s.mu.Lock()
	if s.ended {
		close(ch)
	} else {
		s.subs[id] = ch
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		// The channel is intentionally left open on unsubscribe; only the
		// pump closes channels, so it can never send on a closed one.
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

// Prompt writes one prompt frame to the agent, tagged with the context's
// task ID so the agent's own logs can be correlated.
func (s *Session) Prompt(ctx context.Context, text string) error {
	return s.proc.send(promptFrame{Type: "prompt", ID: taskctx.ID(ctx), Text: text})
}

// FinalText returns the assistant text of the most recent completed turn.
func (s *Session) FinalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalText
}

// CreatedAt reports when the session was established.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Kill force-terminates the agent process group without waiting for exit.
// Used by the supervisor's watchdog; disposal paths use Close.
func (s *Session) Kill() {
	s.proc.Kill()
}

// Done is closed once the agent process has exited and been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.proc.Done()
}

// Close force-terminates the agent and blocks until the process is reaped,
// so the caller knows the resource is actually free. Safe to call twice.
func (s *Session) Close() {
	s.proc.Kill()
	err := s.proc.Wait()
	s.logger.Debug("agent session closed", "exit", err)
}

// firstLine trims diagnostics to their first line for log-sized errors.
func firstLine(text string) string {
	for i, r := range text {
		if r == '\n' {
			return text[:i]
		}
	}
	return text
}
