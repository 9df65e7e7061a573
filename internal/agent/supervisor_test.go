// ABOUTME: Tests for blocking-call supervision: completion, error, and watchdog kill paths.
// ABOUTME: Drives a fake conversation with synthetic event sequences instead of a real subprocess.

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeConversation implements Conversation for supervision and cache tests.
// Tests feed it synthetic events and inspect what was done to it.
type fakeConversation struct {
	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	finalText string
	prompts   []string
	promptErr error
	kills     int
	closes    int

	// onKill, when set, runs once on the first Kill. Lets a test emit a
	// racy completion right as the watchdog fires.
	onKill func()

	// onPrompt, when set, runs after each accepted prompt. Lets a test
	// script the agent's reply to that prompt.
	onPrompt func()
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

func (f *fakeConversation) Prompt(_ context.Context, text string) error {
	f.mu.Lock()
	if f.promptErr != nil {
		f.mu.Unlock()
		return f.promptErr
	}
	f.prompts = append(f.prompts, text)
	hook := f.onPrompt
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeConversation) Subscribe() (<-chan Event, func()) {
	return f.events, func() {}
}

func (f *fakeConversation) FinalText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalText
}

func (f *fakeConversation) Kill() {
	f.mu.Lock()
	f.kills++
	first := f.kills == 1
	hook := f.onKill
	f.mu.Unlock()
	if first && hook != nil {
		hook()
	}
}

func (f *fakeConversation) Done() <-chan struct{} { return f.done }

func (f *fakeConversation) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeConversation) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

func (f *fakeConversation) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeConversation) setFinalText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalText = text
}

func (f *fakeConversation) emit(ev Event) {
	f.events <- ev
}

func (f *fakeConversation) endStream() {
	close(f.events)
}

func TestSupervisorRun(t *testing.T) {
	t.Run("completion returns nil", func(t *testing.T) {
		conv := newFakeConversation()
		go func() {
			conv.emit(Event{Type: EventAgentStart})
			conv.emit(Event{Type: EventToolcallStart, Tool: "search"})
			conv.emit(Event{Type: EventToolcallEnd, Tool: "search"})
			conv.emit(Event{Type: EventAgentEnd, Text: "done"})
		}()

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		if err := sv.Run(context.Background(), conv, "chat", "hi", time.Second); err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
		if n := conv.killCount(); n != 0 {
			t.Errorf("kill count = %d, want 0", n)
		}
		conv.mu.Lock()
		prompts := conv.prompts
		conv.mu.Unlock()
		if len(prompts) != 1 || prompts[0] != "hi" {
			t.Errorf("prompts = %v, want [hi]", prompts)
		}
	})

	t.Run("prompt failure surfaces without waiting", func(t *testing.T) {
		conv := newFakeConversation()
		conv.promptErr = errors.New("broken pipe")

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		err := sv.Run(context.Background(), conv, "chat", "hi", time.Second)
		if err == nil || !strings.Contains(err.Error(), "sending prompt") {
			t.Fatalf("Run() = %v, want prompt send error", err)
		}
	})

	t.Run("error event surfaces as error", func(t *testing.T) {
		conv := newFakeConversation()
		go func() {
			conv.emit(Event{Type: EventAgentStart})
			conv.emit(Event{Type: EventError, Message: "model overloaded"})
		}()

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		err := sv.Run(context.Background(), conv, "chat", "hi", time.Second)
		if err == nil {
			t.Fatal("Run() = nil, want error")
		}
		if !strings.Contains(err.Error(), "model overloaded") {
			t.Errorf("error %q missing agent message", err)
		}
	})

	t.Run("closed stream means the agent died", func(t *testing.T) {
		conv := newFakeConversation()
		go func() {
			conv.emit(Event{Type: EventAgentStart})
			conv.endStream()
		}()

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		err := sv.Run(context.Background(), conv, "chat", "hi", time.Second)
		if !errors.Is(err, ErrStreamEnded) {
			t.Fatalf("Run() = %v, want ErrStreamEnded", err)
		}
	})

	t.Run("watchdog kills after timeout", func(t *testing.T) {
		conv := newFakeConversation()
		// The agent starts but never completes; the kill is what ends the
		// stream, exactly as a dead subprocess would.
		conv.onKill = conv.endStream
		conv.emit(Event{Type: EventAgentStart})

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		err := sv.Run(context.Background(), conv, "chat", "hi", 30*time.Millisecond)
		if !errors.Is(err, ErrCallTimeout) {
			t.Fatalf("Run() = %v, want ErrCallTimeout", err)
		}
		if n := conv.killCount(); n != 1 {
			t.Errorf("kill count = %d, want 1", n)
		}
	})

	t.Run("timeout wins over a race-won success", func(t *testing.T) {
		conv := newFakeConversation()
		// The kill races a completion in: the foreground wait may see a
		// clean finish, but the forced kill must still surface as timeout.
		conv.onKill = func() {
			conv.emit(Event{Type: EventAgentEnd, Text: "too late"})
			conv.endStream()
		}
		conv.emit(Event{Type: EventAgentStart})

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		err := sv.Run(context.Background(), conv, "chat", "hi", 30*time.Millisecond)
		if !errors.Is(err, ErrCallTimeout) {
			t.Fatalf("Run() = %v, want ErrCallTimeout", err)
		}
	})

	t.Run("non-positive timeout never kills", func(t *testing.T) {
		conv := newFakeConversation()
		go func() {
			conv.emit(Event{Type: EventAgentStart})
			// Let several watchdog ticks pass before completing.
			time.Sleep(40 * time.Millisecond)
			conv.emit(Event{Type: EventAgentEnd, Text: "slow but fine"})
		}()

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		if err := sv.Run(context.Background(), conv, "heartbeat", "still alive?", 0); err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
		if n := conv.killCount(); n != 0 {
			t.Errorf("kill count = %d, want 0", n)
		}
	})

	t.Run("kill happens once even across later ticks", func(t *testing.T) {
		conv := newFakeConversation()
		killed := make(chan struct{})
		conv.onKill = func() { close(killed) }

		sv := &Supervisor{Interval: 5 * time.Millisecond}
		errCh := make(chan error, 1)
		go func() {
			errCh <- sv.Run(context.Background(), conv, "chat", "hi", 20*time.Millisecond)
		}()

		<-killed
		// Give the watchdog several more ticks with the stream still open,
		// then end it; only the first tick past the deadline may kill.
		time.Sleep(30 * time.Millisecond)
		conv.endStream()

		if err := <-errCh; !errors.Is(err, ErrCallTimeout) {
			t.Fatalf("Run() = %v, want ErrCallTimeout", err)
		}
		if n := conv.killCount(); n != 1 {
			t.Errorf("kill count = %d, want 1", n)
		}
	})
}
