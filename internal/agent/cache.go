// ABOUTME: Session cache owning at most one shared agent conversation.
// ABOUTME: Reuses the session within its TTL, rotates it after, and poisons it on any failed call.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Factory creates a new agent conversation. The cache calls it lazily on
// the first invoke and again after every rotation.
type Factory func(ctx context.Context) (Conversation, error)

// ErrEmptyReply marks a call that completed without producing any text.
var ErrEmptyReply = errors.New("agent returned an empty reply")

// Status describes the shared session for the status endpoint. Expiry
// fields are omitted when reuse is disabled or no session is held.
type Status struct {
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	TTLRemaining string    `json:"ttl_remaining,omitempty"`
}

// Cache owns at most one shared agent conversation. Each call either
// reuses it (younger than the TTL), rotates it (aged past the TTL), or,
// when the cache was built with TTL ≤ 0, runs on a private conversation
// that is closed before the call returns.
//
// Calls are serialized: no two callers ever talk to the same conversation
// concurrently, even if the admission gate upstream misbehaves.
type Cache struct {
	factory    Factory
	ttl        time.Duration
	supervisor *Supervisor
	logger     *slog.Logger
	now        func() time.Time

	// callMu serializes Invoke, ExpireNow, and Close so the shared
	// conversation is never touched while a call is using it.
	callMu sync.Mutex

	// stateMu guards the fields below. Status takes only stateMu so a
	// dashboard read never waits behind an in-flight call.
	stateMu   sync.Mutex
	shared    Conversation
	createdAt time.Time
}

// CacheConfig carries the dependencies for NewCache.
type CacheConfig struct {
	Factory Factory
	// TTL bounds how long the shared conversation is reused. TTL ≤ 0
	// disables reuse entirely.
	TTL        time.Duration
	Supervisor *Supervisor
	Logger     *slog.Logger
}

// NewCache builds an empty cache. No conversation is started until the
// first Invoke.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = &Supervisor{Logger: logger}
	}
	return &Cache{
		factory:    cfg.Factory,
		ttl:        cfg.TTL,
		supervisor: sup,
		logger:     logger,
		now:        time.Now,
	}
}

// Invoke runs one prompt through an agent conversation and returns the
// agent's final text. Any failure from prompt, supervision, or an empty
// result disposes the session the call ran on, so the next call starts
// clean.
func (c *Cache) Invoke(ctx context.Context, label, prompt string, timeout time.Duration) (string, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.ttl <= 0 {
		return c.invokePrivate(ctx, label, prompt, timeout)
	}

	conv, err := c.acquireShared(ctx)
	if err != nil {
		return "", fmt.Errorf("starting agent session: %w", err)
	}

	reply, err := c.converse(ctx, conv, label, prompt, timeout)
	if err != nil {
		c.dispose("call failed")
		return "", err
	}
	return reply, nil
}

// invokePrivate runs the call on a throwaway conversation that is closed
// before returning, whatever the outcome. Used when reuse is disabled.
func (c *Cache) invokePrivate(ctx context.Context, label, prompt string, timeout time.Duration) (string, error) {
	conv, err := c.factory(ctx)
	if err != nil {
		return "", fmt.Errorf("starting agent session: %w", err)
	}
	defer conv.Close()
	return c.converse(ctx, conv, label, prompt, timeout)
}

// converse runs one supervised turn and extracts the agent's final text.
func (c *Cache) converse(ctx context.Context, conv Conversation, label, prompt string, timeout time.Duration) (string, error) {
	if err := c.supervisor.Run(ctx, conv, label, prompt, timeout); err != nil {
		return "", err
	}
	reply := conv.FinalText()
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// acquireShared returns the shared conversation, reusing it while its age
// is under the TTL and rotating it otherwise. Caller holds callMu.
func (c *Cache) acquireShared(ctx context.Context) (Conversation, error) {
	c.stateMu.Lock()
	conv := c.shared
	createdAt := c.createdAt
	c.stateMu.Unlock()

	if conv != nil {
		age := c.now().Sub(createdAt)
		if age < c.ttl {
			c.logger.Debug("reusing agent session",
				"age", age.Round(time.Second), "ttl", c.ttl)
			return conv, nil
		}
		c.logger.Info("agent session aged out, rotating",
			"age", age.Round(time.Second), "ttl", c.ttl)
		c.dispose("ttl elapsed")
	}

	fresh, err := c.factory(ctx)
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	c.shared = fresh
	c.createdAt = c.now()
	c.stateMu.Unlock()

	c.logger.Info("started shared agent session", "ttl", c.ttl)
	return fresh, nil
}

// dispose closes and forgets the shared conversation, reporting whether
// one was present. Caller holds callMu, so no in-flight call can still be
// using the handle.
func (c *Cache) dispose(reason string) bool {
	c.stateMu.Lock()
	conv := c.shared
	c.shared = nil
	c.createdAt = time.Time{}
	c.stateMu.Unlock()

	if conv == nil {
		return false
	}
	c.logger.Info("disposing agent session", "reason", reason)
	conv.Close()
	return true
}

// ExpireNow force-rotates the shared session on operator request. It waits
// for any in-flight call to finish, then reports whether a session existed
// to dispose.
func (c *Cache) ExpireNow() bool {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.dispose("operator expire")
}

// Status returns a point-in-time projection of the cache. It does not
// wait behind an in-flight call.
func (c *Cache) Status(now time.Time) Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	st := Status{Active: c.shared != nil}
	if c.shared == nil || c.ttl <= 0 || c.createdAt.IsZero() {
		return st
	}
	st.CreatedAt = c.createdAt
	st.ExpiresAt = c.createdAt.Add(c.ttl)
	remaining := st.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	st.TTLRemaining = remaining.Round(time.Second).String()
	return st
}

// Close disposes the shared session. Safe to call more than once.
func (c *Cache) Close() {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.dispose("shutdown")
}
