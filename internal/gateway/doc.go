// Package gateway orchestrates the familiar service components.
//
// # Overview
//
// The gateway package is the central coordinator: it owns the Telegram
// poll loop, the heartbeat scheduler, the task arbiter, the agent session
// cache, the activity store, and the dashboard HTTP server.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx)
//
// New wires every component from the configuration; Run starts the poll
// loop, the scheduler, and the dashboard server, then blocks until the
// context is canceled or a server fails, and performs graceful shutdown.
//
// # Task Flow
//
// Three triggers compete for the single agent subprocess: inbound chat
// messages, the periodic heartbeat, and operator requests from the
// dashboard. Each trigger must win the arbiter slot before it may touch
// the session cache; losers are turned away immediately (an apology to
// the chat user, a deferral for the heartbeat, a 409 for the operator).
//
// # HTTP API
//
//	GET  /health              liveness probe
//	GET  /api/status          arbiter snapshot, session status, heartbeat schedule
//	GET  /api/activity        recent exchanges, newest first
//	POST /api/heartbeat       trigger a heartbeat run now
//	POST /api/session/expire  force-rotate the shared agent session
//
// The POST endpoints require a bearer token when auth.jwt_secret is
// configured; without a secret they are open and a warning is logged.
//
// # Listeners
//
// The dashboard serves on plain TCP (server.http_addr) or, when
// tailscale.enabled is set, on a tsnet listener joined to the tailnet,
// optionally exposed publicly via Funnel.
package gateway
