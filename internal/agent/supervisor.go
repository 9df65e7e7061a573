// ABOUTME: Supervision of one blocking agent call: liveness logging and kill-on-timeout.
// ABOUTME: A watchdog goroutine enforces the deadline; timeout always wins over a racy success.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/familiar/internal/taskctx"
)

// defaultWatchdogInterval is how often the watchdog wakes to check on an
// in-flight call.
const defaultWatchdogInterval = 30 * time.Second

// ErrCallTimeout marks a supervised call that exceeded its deadline and had
// its process group terminated.
var ErrCallTimeout = errors.New("agent call timed out")

// ErrStreamEnded marks a call whose agent exited before signaling completion.
var ErrStreamEnded = errors.New("agent event stream ended before completion")

// Supervisor watches blocking agent calls. The zero value is usable; it
// logs through slog.Default and wakes every defaultWatchdogInterval.
type Supervisor struct {
	// Interval overrides the watchdog wake interval. Tests shrink it.
	Interval time.Duration
	Logger   *slog.Logger
}

// supervision is the per-call bookkeeping shared between the foreground
// event consumer and the watchdog. Discarded when the call returns.
type supervision struct {
	label     string
	timeout   time.Duration
	startedAt time.Time

	lastEvent atomic.Int64 // unix nanos of the most recent event

	starts      atomic.Uint64
	toolStarts  atomic.Uint64
	toolEnds    atomic.Uint64
	completions atomic.Uint64
	errorEvents atomic.Uint64
	others      atomic.Uint64

	timedOut atomic.Bool
}

// observe records one event's arrival.
func (s *supervision) observe(ev Event) {
	s.lastEvent.Store(time.Now().UnixNano())
	switch ev.Kind() {
	case KindStart:
		s.starts.Add(1)
	case KindToolStart:
		s.toolStarts.Add(1)
	case KindToolEnd:
		s.toolEnds.Add(1)
	case KindCompletion:
		s.completions.Add(1)
	case KindError:
		s.errorEvents.Add(1)
	default:
		s.others.Add(1)
	}
}

// Run supervises one blocking agent call: it subscribes to the
// conversation's event stream, sends the prompt, and consumes events until
// a completion or error event arrives (or the stream ends), while a
// watchdog goroutine periodically logs liveness and, once a positive
// timeout has elapsed, kills the agent's process group. Subscribing before
// the prompt goes out means even an instant reply cannot slip past the
// wait.
//
// The watchdog is always stopped and joined before Run returns. If the
// watchdog flagged a timeout, Run reports ErrCallTimeout even when the
// foreground wait happened to see a completion first — the forced kill makes
// any such success untrustworthy.
//
// A timeout ≤ 0 means supervision without an enforced deadline: the watchdog
// still logs liveness but never kills.
func (sv *Supervisor) Run(ctx context.Context, conv Conversation, label, prompt string, timeout time.Duration) error {
	logger := taskctx.Logger(ctx, sv.logger()).With("call", label)

	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	sup := &supervision{
		label:     label,
		timeout:   timeout,
		startedAt: time.Now(),
	}
	sup.lastEvent.Store(sup.startedAt.UnixNano())

	stop := make(chan struct{})
	watchdogDone := make(chan struct{})
	go sv.watchdog(conv, sup, logger, stop, watchdogDone)

	err := conv.Prompt(ctx, prompt)
	if err != nil {
		err = fmt.Errorf("sending prompt: %w", err)
	} else {
		err = waitForCompletion(events, sup, logger)
	}

	close(stop)
	<-watchdogDone

	if sup.timedOut.Load() {
		return fmt.Errorf("%w after %s (%s)", ErrCallTimeout, timeout, label)
	}
	return err
}

// waitForCompletion is the foreground wait: it consumes events until the
// turn completes, the agent reports an error, or the stream ends because
// the process died.
func waitForCompletion(events <-chan Event, sup *supervision, logger *slog.Logger) error {
	for {
		ev, ok := <-events
		if !ok {
			return ErrStreamEnded
		}
		sup.observe(ev)

		switch ev.Kind() {
		case KindCompletion:
			logger.Debug("agent call completed",
				"elapsed", time.Since(sup.startedAt).Round(time.Millisecond))
			return nil
		case KindError:
			return fmt.Errorf("agent reported error: %s", ev.Message)
		case KindToolStart:
			logger.Debug("agent tool call started", "tool", ev.Tool)
		}
	}
}

// watchdog wakes on a fixed interval and either enforces the deadline or
// logs a liveness line. It exits when told to stop.
func (sv *Supervisor) watchdog(conv Conversation, sup *supervision, logger *slog.Logger, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := sv.Interval
	if interval <= 0 {
		interval = defaultWatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sv.check(conv, sup, logger)
		}
	}
}

// check performs one watchdog wake-up.
func (sv *Supervisor) check(conv Conversation, sup *supervision, logger *slog.Logger) {
	now := time.Now()
	elapsed := now.Sub(sup.startedAt)

	if sup.timeout > 0 && elapsed >= sup.timeout {
		if sup.timedOut.CompareAndSwap(false, true) {
			logger.Error("agent call exceeded timeout, killing process group",
				"elapsed", elapsed.Round(time.Millisecond),
				"timeout", sup.timeout)
			conv.Kill()
		}
		return
	}

	idle := now.Sub(time.Unix(0, sup.lastEvent.Load()))
	logger.Info("agent call in flight",
		"elapsed", elapsed.Round(time.Second),
		"idle", idle.Round(time.Second),
		"starts", sup.starts.Load(),
		"tool_calls", sup.toolStarts.Load(),
		"tool_results", sup.toolEnds.Load(),
		"errors", sup.errorEvents.Load())
}

func (sv *Supervisor) logger() *slog.Logger {
	if sv.Logger != nil {
		return sv.Logger
	}
	return slog.Default()
}
