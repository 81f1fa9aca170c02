package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oakmere/fleettrack/internal/broadcast"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/ingest"
	"github.com/oakmere/fleettrack/internal/monitoring"
	"github.com/oakmere/fleettrack/internal/timeutil"
)

// monitorInterval is the polling cadence of bound monitors.
const monitorInterval = 250 * time.Millisecond

// FixStore is the slice of the store the router queries.
type FixStore interface {
	OldestFix() (*db.GpsFix, error)
	NewestFix() (*db.GpsFix, error)
	FixesBetween(start, end time.Time, limit int) ([]db.GpsFix, error)
}

// ResponseSink receives request-correlated payloads (the response bus).
type ResponseSink interface {
	Add(requestID string, payload []byte)
}

// GPSSink receives live GPS payloads (the gps bus).
type GPSSink interface {
	Add(payload []byte)
}

// Request is one command frame from the request websocket.
type Request struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id"`
	Params    json.RawMessage `json:"params"`
}

type subscribeParams struct {
	Subscribe bool `json:"subscribe"`
}

type historyParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Router dispatches request frames to one-shot queries and bound monitors.
// Monitors are single-flight: re-subscribing an already-running bound is a
// no-op, as is unsubscribing one that never started.
type Router struct {
	store     FixStore
	responses ResponseSink
	gps       GPSSink
	clock     timeutil.Clock

	mu       sync.Mutex
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewRouter(store FixStore, responses ResponseSink, gps GPSSink, clock timeutil.Clock) *Router {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &Router{
		store:     store,
		responses: responses,
		gps:       gps,
		clock:     clock,
		monitors:  make(map[string]context.CancelFunc),
	}
}

// Handle processes one raw request frame.
func (r *Router) Handle(ctx context.Context, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		r.respondError("", "", fmt.Sprintf("malformed request: %v", err))
		return
	}

	switch req.Action {
	case "ping":
		r.respond(req.Action, req.RequestID, "success", "pong")
	case "get_lower_bound":
		r.handleBound(ctx, req, "lower")
	case "get_upper_bound":
		r.handleBound(ctx, req, "upper")
	case "get_history":
		r.handleHistory(req)
	default:
		r.respondError(req.Action, req.RequestID, fmt.Sprintf("unknown action %q", req.Action))
	}
}

// Stop cancels every running monitor and waits for them to exit.
func (r *Router) Stop() {
	r.mu.Lock()
	for bound, cancel := range r.monitors {
		cancel()
		delete(r.monitors, bound)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) handleBound(ctx context.Context, req Request, bound string) {
	var params subscribeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.respondError(req.Action, req.RequestID, fmt.Sprintf("bad params: %v", err))
			return
		}
	}

	if !params.Subscribe {
		r.mu.Lock()
		if cancel, running := r.monitors[bound]; running {
			cancel()
			delete(r.monitors, bound)
		}
		r.mu.Unlock()
		r.respond(req.Action, req.RequestID, "success", fmt.Sprintf("%s bound monitor stopped", bound))
		return
	}

	r.mu.Lock()
	if _, running := r.monitors[bound]; running {
		r.mu.Unlock()
		r.respond(req.Action, req.RequestID, "success", fmt.Sprintf("%s bound monitor already running", bound))
		return
	}
	mctx, cancel := context.WithCancel(ctx)
	r.monitors[bound] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.runMonitor(mctx, req.RequestID, bound)
	r.respond(req.Action, req.RequestID, "success", fmt.Sprintf("%s bound monitor started", bound))
}

// runMonitor polls a bound fix every 250ms and emits when it changes. The
// lower bound goes to the response bus; the upper bound is broadcast as a
// live GPS event.
func (r *Router) runMonitor(ctx context.Context, requestID, bound string) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(monitorInterval)
	defer ticker.Stop()

	var lastID int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		var fix *db.GpsFix
		var err error
		if bound == "lower" {
			fix, err = r.store.OldestFix()
		} else {
			fix, err = r.store.NewestFix()
		}
		if err != nil {
			monitoring.Logf("%s bound monitor query failed: %v", bound, err)
			continue
		}
		if fix == nil || fix.ID == lastID {
			continue
		}
		lastID = fix.ID

		payload := broadcast.EncodeFix(fix)
		if bound == "lower" {
			r.responses.Add(requestID, payload)
		} else {
			r.gps.Add(payload)
		}
	}
}

func (r *Router) handleHistory(req Request) {
	var params historyParams
	if len(req.Params) == 0 {
		r.respondError(req.Action, req.RequestID, "get_history requires start and end")
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		r.respondError(req.Action, req.RequestID, fmt.Sprintf("bad params: %v", err))
		return
	}

	start, err := ingest.ParseTimestamp(params.Start)
	if err != nil {
		r.respondError(req.Action, req.RequestID, fmt.Sprintf("bad start: %v", err))
		return
	}
	end, err := ingest.ParseTimestamp(params.End)
	if err != nil {
		r.respondError(req.Action, req.RequestID, fmt.Sprintf("bad end: %v", err))
		return
	}
	if end.Before(start) {
		r.respondError(req.Action, req.RequestID, "end precedes start")
		return
	}

	fixes, err := r.store.FixesBetween(start, end, 0)
	if err != nil {
		r.respondError(req.Action, req.RequestID, fmt.Sprintf("history query failed: %v", err))
		return
	}

	frames := make([]json.RawMessage, len(fixes))
	for i := range fixes {
		frames[i] = broadcast.EncodeFix(&fixes[i])
	}
	r.respond(req.Action, req.RequestID, "success", frames)
}

// respond emits one response frame. Every frame carries the originating
// action and request id; error frames carry the message as their data.
func (r *Router) respond(action, requestID, status string, data any) {
	payload, err := json.Marshal(map[string]any{
		"action":     action,
		"request_id": requestID,
		"status":     status,
		"data":       data,
	})
	if err != nil {
		monitoring.Logf("failed to encode response for %s: %v", requestID, err)
		return
	}
	r.responses.Add(requestID, payload)
}

func (r *Router) respondError(action, requestID, message string) {
	r.respond(action, requestID, "error", message)
}

// ServeRequests upgrades the request endpoint and feeds each inbound frame
// through the router. The registry carries the response observers; responses
// travel back via the response bus, not this read loop.
func (r *Router) ServeRequests(ctx context.Context, registry *Registry, upgrader websocket.Upgrader, w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		monitoring.Logf("request observer upgrade failed: %v", err)
		return
	}
	id := registry.Add(conn)
	defer registry.Remove(id)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.Handle(ctx, raw)
	}
}
