// ABOUTME: Dashboard HTTP handlers: status, activity history, and operator controls.
// ABOUTME: Control endpoints map heartbeat trigger and session expiry outcomes to status codes.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/familiar/internal/agent"
	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/heartbeat"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/taskctx"
)

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Arbiter   arbiter.Snapshot `json:"arbiter"`
	Session   agent.Status     `json:"session"`
	Heartbeat HeartbeatStatus  `json:"heartbeat"`
}

// HeartbeatStatus reports the scheduler's next due time. NextDue is omitted
// when the scheduler is disabled.
type HeartbeatStatus struct {
	Enabled bool      `json:"enabled"`
	NextDue time.Time `json:"next_due,omitzero"`
}

// ActivityResponse is the JSON response for GET /api/activity.
type ActivityResponse struct {
	Exchanges []*store.Exchange `json:"exchanges"`
}

// TriggerResponse is the JSON response for POST /api/heartbeat.
type TriggerResponse struct {
	Result heartbeat.Result `json:"result"`
}

// ExpireResponse is the JSON response for POST /api/session/expire.
type ExpireResponse struct {
	Result string `json:"result"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus handles GET /api/status requests.
// Returns the arbiter snapshot, session cache status, and heartbeat schedule.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	nextDue := g.scheduler.NextDue()
	response := StatusResponse{
		Arbiter: g.arb.Snapshot(),
		Session: g.sessions.Status(time.Now()),
		Heartbeat: HeartbeatStatus{
			Enabled: g.config.Heartbeat.Interval > 0,
			NextDue: nextDue,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleActivity handles GET /api/activity?limit=N requests.
// Returns the most recent exchanges, newest first.
func (g *Gateway) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	exchanges, err := g.store.RecentExchanges(r.Context(), limit)
	if err != nil {
		g.logger.Error("querying activity failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if exchanges == nil {
		exchanges = []*store.Exchange{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ActivityResponse{Exchanges: exchanges})
}

// handleTriggerHeartbeat handles POST /api/heartbeat requests.
// Admission outcomes map to status codes: started 202, busy 409,
// unavailable 503, failed 500.
func (g *Gateway) handleTriggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, taskID := taskctx.With(r.Context())
	result := g.scheduler.TriggerNow(ctx)
	g.logger.Info("operator heartbeat trigger", "task_id", taskID, "result", result)

	var status int
	switch result {
	case heartbeat.ResultStarted:
		status = http.StatusAccepted
	case heartbeat.ResultBusy:
		status = http.StatusConflict
	case heartbeat.ResultUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(TriggerResponse{Result: result})
}

// handleExpireSession handles POST /api/session/expire requests.
// Forces rotation of the shared agent session.
func (g *Gateway) handleExpireSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result := "no_session"
	if g.sessions.ExpireNow() {
		result = "expired"
	}
	g.logger.Info("operator session expire", "result", result)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ExpireResponse{Result: result})
}

// sendJSONError writes a JSON error response with the given status code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
