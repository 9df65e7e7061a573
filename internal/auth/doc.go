// Package auth provides operator authentication for the dashboard API.
//
// # Authentication Method
//
// The API authenticates with JWT bearer tokens signed HS256 using the
// configured jwt_secret. Tokens carry the operator name in the "sub"
// claim plus issued-at and expiry timestamps.
//
// # Token Management
//
// Issue and verify tokens:
//
//	verifier := auth.NewVerifier([]byte(secret))
//	token, err := verifier.Generate("operator", 30*24*time.Hour)
//	subject, err := verifier.Verify(token)
//
// The familiar CLI's token subcommand wraps Generate for issuing
// long-lived operator tokens from the shell.
//
// # HTTP Middleware
//
// Middleware guards mutating dashboard routes:
//
//	mux.Handle("POST /api/heartbeat", auth.Middleware(verifier)(handler))
//
// The authenticated operator is available to handlers through
// SubjectFromContext. Passing a nil verifier disables authentication,
// which is intended for deployments where the listener itself is
// private (for example a Tailscale-only interface).
package auth
