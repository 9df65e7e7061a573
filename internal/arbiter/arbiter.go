// ABOUTME: Single-flight admission gate over agent tasks.
// ABOUTME: Admits at most one active task at a time and tracks run counters.

package arbiter

import (
	"sync"
	"time"
)

// TaskKind identifies what kind of work currently holds the agent.
type TaskKind string

const (
	TaskNone      TaskKind = "none"
	TaskChatReply TaskKind = "chat-reply"
	TaskHeartbeat TaskKind = "heartbeat"
)

// maxErrorTextLen bounds the stored last-error strings so a pathological
// error message cannot grow the snapshot without limit.
const maxErrorTextLen = 200

// Arbiter is the single admission gate in front of the agent. TryBegin
// either wins the slot or reports busy; it never queues and never blocks.
// All state is guarded by one mutex so snapshots are always consistent.
type Arbiter struct {
	mu          sync.Mutex
	busy        bool
	active      TaskKind
	activeSince time.Time

	messagesHandled     uint64
	busyRejections      uint64
	generationErrors    uint64
	sendErrors          uint64
	heartbeatRuns       uint64
	heartbeatErrors     uint64
	heartbeatDeferrals  uint64
	lastGenerationError string
	lastSendError       string
	lastHeartbeatError  string

	now func() time.Time
}

// Snapshot is a point-in-time copy of the arbiter's state, safe to read
// and serialize after the lock has been released.
type Snapshot struct {
	Busy        bool      `json:"busy"`
	ActiveTask  TaskKind  `json:"active_task"`
	ActiveSince time.Time `json:"active_since,omitzero"`

	MessagesHandled    uint64 `json:"messages_handled"`
	BusyRejections     uint64 `json:"busy_rejections"`
	GenerationErrors   uint64 `json:"generation_errors"`
	SendErrors         uint64 `json:"send_errors"`
	HeartbeatRuns      uint64 `json:"heartbeat_runs"`
	HeartbeatErrors    uint64 `json:"heartbeat_errors"`
	HeartbeatDeferrals uint64 `json:"heartbeat_deferrals"`

	LastGenerationError string `json:"last_generation_error,omitempty"`
	LastSendError       string `json:"last_send_error,omitempty"`
	LastHeartbeatError  string `json:"last_heartbeat_error,omitempty"`
}

// New creates an idle arbiter.
func New() *Arbiter {
	return &Arbiter{
		active: TaskNone,
		now:    time.Now,
	}
}

// TryBegin attempts to claim the agent for the given task kind. It returns
// true and marks the arbiter busy iff no task is currently active. It never
// blocks; a false return means the caller must handle rejection itself.
func (a *Arbiter) TryBegin(kind TaskKind) bool {
	if kind == TaskNone {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.busy {
		return false
	}

	a.busy = true
	a.active = kind
	a.activeSince = a.now()
	return true
}

// Finish releases the agent, but only if kind matches the currently active
// task. A stale finisher (one racing a newer task) is a no-op, so a late
// Finish can never clear state it does not own.
func (a *Arbiter) Finish(kind TaskKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.busy || a.active != kind {
		return
	}

	a.busy = false
	a.active = TaskNone
	a.activeSince = time.Time{}
}

// Snapshot returns a consistent copy of the arbiter state taken under the
// lock. Readers never observe a partially updated state.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		Busy:                a.busy,
		ActiveTask:          a.active,
		ActiveSince:         a.activeSince,
		MessagesHandled:     a.messagesHandled,
		BusyRejections:      a.busyRejections,
		GenerationErrors:    a.generationErrors,
		SendErrors:          a.sendErrors,
		HeartbeatRuns:       a.heartbeatRuns,
		HeartbeatErrors:     a.heartbeatErrors,
		HeartbeatDeferrals:  a.heartbeatDeferrals,
		LastGenerationError: a.lastGenerationError,
		LastSendError:       a.lastSendError,
		LastHeartbeatError:  a.lastHeartbeatError,
	}
}

// RecordMessageHandled counts one fully handled inbound message.
func (a *Arbiter) RecordMessageHandled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messagesHandled++
}

// RecordBusyRejection counts an inbound message turned away because a task
// was already active.
func (a *Arbiter) RecordBusyRejection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busyRejections++
}

// RecordGenerationError counts a failed agent call and keeps its text.
func (a *Arbiter) RecordGenerationError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generationErrors++
	a.lastGenerationError = truncateError(err)
}

// RecordSendError counts a failed reply delivery and keeps its text.
func (a *Arbiter) RecordSendError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErrors++
	a.lastSendError = truncateError(err)
}

// RecordHeartbeatRun counts a heartbeat cycle that acquired the agent.
func (a *Arbiter) RecordHeartbeatRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeatRuns++
}

// RecordHeartbeatError counts a failed heartbeat cycle and keeps its text.
func (a *Arbiter) RecordHeartbeatError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeatErrors++
	a.lastHeartbeatError = truncateError(err)
}

// RecordHeartbeatDeferral counts a heartbeat postponed because the agent
// was busy.
func (a *Arbiter) RecordHeartbeatDeferral() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeatDeferrals++
}

// truncateError renders err bounded to maxErrorTextLen runes.
func truncateError(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	runes := []rune(text)
	if len(runes) <= maxErrorTextLen {
		return text
	}
	return string(runes[:maxErrorTextLen]) + "..."
}
