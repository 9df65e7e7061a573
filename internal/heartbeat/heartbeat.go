// ABOUTME: Heartbeat scheduler: periodic maintenance prompts gated by the task arbiter.
// ABOUTME: Defers while busy, reschedules from completion time, and serves operator triggers.

package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/taskctx"
)

// Invoker runs one prompt through an agent session. Satisfied by the
// session cache.
type Invoker interface {
	Invoke(ctx context.Context, label, prompt string, timeout time.Duration) (string, error)
}

// Result classifies one operator-triggered heartbeat attempt.
type Result string

const (
	// ResultStarted means the run was admitted and is now executing.
	ResultStarted Result = "started"
	// ResultBusy means another task holds the arbiter.
	ResultBusy Result = "busy"
	// ResultUnavailable means heartbeats are disabled by configuration.
	ResultUnavailable Result = "unavailable"
	// ResultFailed means the trigger could not begin, e.g. its context was
	// already canceled by shutdown.
	ResultFailed Result = "failed"
)

// DefaultPrompt is the maintenance prompt used when the configuration does
// not override it.
const DefaultPrompt = "Review your standing tasks and workspace notes. " +
	"Handle anything that needs attention, then summarize what you did in one short paragraph."

// Config carries the dependencies and tuning for a Scheduler.
type Config struct {
	// Interval between runs, measured from the end of the previous run.
	// An interval ≤ 0 disables the scheduler.
	Interval time.Duration
	// Timeout bounds each heartbeat call. ≤ 0 leaves it unenforced.
	Timeout time.Duration
	// Prompt overrides DefaultPrompt when non-empty.
	Prompt  string
	Arbiter *arbiter.Arbiter
	Invoker Invoker
	Logger  *slog.Logger
	// OnResult, when set, observes every completed run. Deferred runs are
	// not reported.
	OnResult func(ctx context.Context, reply string, elapsed time.Duration, err error)
}

// Scheduler drives the periodic heartbeat. One goroutine runs the loop;
// TriggerNow admits extra runs on operator request.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	prompt   string
	arb      *arbiter.Arbiter
	invoker  Invoker
	logger   *slog.Logger
	onResult func(ctx context.Context, reply string, elapsed time.Duration, err error)
	now      func() time.Time

	mu      sync.Mutex
	nextDue time.Time
}

// New builds a Scheduler from cfg. Call Run to start the periodic loop.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Scheduler{
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		prompt:   prompt,
		arb:      cfg.Arbiter,
		invoker:  cfg.Invoker,
		logger:   logger.With("component", "heartbeat"),
		onResult: cfg.OnResult,
		now:      time.Now,
	}
}

// Run executes the scheduler loop until ctx is canceled. With a
// non-positive interval it logs once and returns immediately; the first
// run otherwise comes one interval after Run starts.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("heartbeat disabled")
		return nil
	}

	s.setNextDue(s.now().Add(s.interval))
	s.logger.Info("heartbeat scheduler started", "interval", s.interval)

	for {
		s.mu.Lock()
		wait := s.nextDue.Sub(s.now())
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat scheduler stopped")
			return nil
		case <-time.After(wait):
		}

		// A triggered run may have pushed next-due past our wake time.
		s.mu.Lock()
		due := !s.now().Before(s.nextDue)
		s.mu.Unlock()
		if due {
			s.runOnce(ctx)
		}
	}
}

// TriggerNow admits and runs one heartbeat on operator request, without
// waiting for the schedule. The run itself executes in the background;
// the returned Result reflects only admission.
func (s *Scheduler) TriggerNow(ctx context.Context) Result {
	if s.interval <= 0 {
		return ResultUnavailable
	}
	if !s.arb.TryBegin(arbiter.TaskHeartbeat) {
		s.arb.RecordHeartbeatDeferral()
		return ResultBusy
	}
	if ctx.Err() != nil {
		s.arb.Finish(arbiter.TaskHeartbeat)
		return ResultFailed
	}

	// Detach from the request context so the run survives the HTTP
	// response, keeping its task ID for log correlation.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.arb.Finish(arbiter.TaskHeartbeat)
		logger := taskctx.Logger(runCtx, s.logger)
		logger.Info("heartbeat triggered by operator")
		s.execute(runCtx, logger)
		s.setNextDue(s.now().Add(s.interval))
	}()
	return ResultStarted
}

// NextDue reports when the next periodic run is scheduled. The zero time
// means never (disabled or not yet started).
func (s *Scheduler) NextDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDue
}

// runOnce performs one due scheduled run: admission, execution, reschedule.
func (s *Scheduler) runOnce(ctx context.Context) {
	ctx, _ = taskctx.With(ctx)
	logger := taskctx.Logger(ctx, s.logger)

	if !s.arb.TryBegin(arbiter.TaskHeartbeat) {
		s.arb.RecordHeartbeatDeferral()
		next := s.now().Add(s.interval)
		s.setNextDue(next)
		logger.Info("heartbeat deferred, arbiter busy", "next_due", next.Format(time.RFC3339))
		return
	}
	defer s.arb.Finish(arbiter.TaskHeartbeat)

	s.execute(ctx, logger)
	s.setNextDue(s.now().Add(s.interval))
}

// execute runs the heartbeat prompt and records the outcome.
func (s *Scheduler) execute(ctx context.Context, logger *slog.Logger) {
	started := s.now()
	logger.Info("heartbeat starting")

	reply, err := s.invoker.Invoke(ctx, "heartbeat", s.prompt, s.timeout)
	elapsed := s.now().Sub(started)

	if err != nil {
		s.arb.RecordHeartbeatError(err)
		logger.Error("heartbeat failed",
			"error", err, "elapsed", elapsed.Round(time.Millisecond))
	} else {
		s.arb.RecordHeartbeatRun()
		logger.Info("heartbeat completed",
			"elapsed", elapsed.Round(time.Millisecond), "reply_chars", len(reply))
	}

	if s.onResult != nil {
		s.onResult(ctx, reply, elapsed, err)
	}
}

func (s *Scheduler) setNextDue(t time.Time) {
	s.mu.Lock()
	s.nextDue = t
	s.mu.Unlock()
}
