// Package agent runs the external agent subprocess and supervises calls to it.
//
// # Overview
//
// The agent package owns the subprocess boundary: it spawns the agent
// binary in its own process group, speaks a JSON-line protocol over
// stdin/stdout, fans parsed events out to subscribers, supervises each
// blocking call with a watchdog, and caches one shared session across
// calls.
//
// # Session
//
// A Session wraps one live subprocess and implements Conversation:
//
//	sess, err := agent.NewSession(ctx, agent.SessionConfig{
//	    Command: "familiar-agent",
//	    Args:    []string{"--profile", "default"},
//	})
//
// Key operations:
//
//   - Prompt(ctx, text): Write one prompt frame to the agent's stdin
//   - Subscribe(): Receive parsed events until the stream ends
//   - FinalText(): The text of the most recent completion event
//   - Kill(): Terminate the process group (watchdog authority)
//   - Close(): Kill and reap the subprocess
//
// # Wire Protocol
//
// The agent emits one JSON object per stdout line, tagged by type:
//
//	{"type":"ready","session_id":"a1b2c3d4"}
//	{"type":"agent_start"}
//	{"type":"toolcall_start","tool":"web_search"}
//	{"type":"toolcall_end","tool":"web_search"}
//	{"type":"agent_end","text":"final answer"}
//	{"type":"error","message":"what went wrong"}
//
// The first event must be ready; NewSession fails if the handshake does
// not arrive in time. Lines that do not parse are logged and skipped.
// Unknown types are classified as KindOther and still count as liveness.
//
// # Supervision
//
// Supervisor.Run wraps one call end to end: it subscribes to the event
// stream, sends the prompt, and blocks until completion. A watchdog
// goroutine wakes on a fixed interval and either logs a liveness line
// (elapsed, idle, event counts) or, once a positive timeout has elapsed,
// kills the process group. The watchdog is joined before Run returns, and
// a flagged timeout overrides even a completion that raced in after the
// kill. A timeout ≤ 0 never kills.
//
// # Session Cache
//
// Cache owns at most one shared Session. With a positive TTL the session
// is reused until it ages out, then rotated. With TTL ≤ 0 every call gets
// a private session that is closed on return. Any failure during a call
// disposes the session it ran on, so a wedged agent never serves a second
// request.
//
// # Thread Safety
//
// Session, Supervisor, and Cache are safe for concurrent use. The cache
// serializes calls so no two callers ever prompt the same subprocess at
// once; Status reads take a separate lock and never wait behind a call.
package agent
