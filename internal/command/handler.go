// Package command implements the admin control plane: a JSON-RPC command
// set handled over the Unix Domain Socket uds_server.go listens on.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"gatekeeper.io/dataplane/internal/core"
	"gatekeeper.io/dataplane/internal/gk"
	"gatekeeper.io/dataplane/internal/log"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/metrics"
	"gatekeeper.io/dataplane/internal/rss"
)

// Handler dispatches admin commands against the running daemon: installing
// policy decisions into the right GK worker's mailbox, reporting status and
// mailbox statistics, reloading configuration, and triggering shutdown.
type Handler struct {
	workers     []*mailbox.Mailbox
	redirection *rss.Table
	hasher      *rss.Hasher
	clock       gk.Clock

	reloader     ConfigReloader
	shutdownFunc func()
	startedAt    time.Time
}

// ConfigReloader is the interface for reloading static daemon configuration.
type ConfigReloader interface {
	Reload() error
}

// HandlerConfig collects Handler's collaborators.
type HandlerConfig struct {
	Workers     []*mailbox.Mailbox
	Redirection *rss.Table
	Hasher      *rss.Hasher
	Clock       gk.Clock
	Reloader    ConfigReloader
	StartedAt   time.Time
}

// NewHandler builds a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		workers:     cfg.Workers,
		redirection: cfg.Redirection,
		hasher:      cfg.Hasher,
		clock:       cfg.Clock,
		reloader:    cfg.Reloader,
		startedAt:   cfg.StartedAt,
	}
}

// SetShutdownFunc sets the callback invoked by the admin.shutdown command.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes, per JSON-RPC 2.0.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle dispatches a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	log.GetLogger().WithFields(map[string]interface{}{
		"method": cmd.Method,
		"id":     cmd.ID,
	}).Debug("handling admin command")

	switch cmd.Method {
	case "policy.add":
		return h.handlePolicyAdd(ctx, cmd)
	case "status":
		return h.handleStatus(ctx, cmd)
	case "stats":
		return h.handleStats(ctx, cmd)
	case "config.reload":
		return h.handleConfigReload(ctx, cmd)
	case "admin.shutdown":
		return h.handleShutdown(ctx, cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// FlowKeyParams is the JSON wire shape of core.FlowKey: Family arrives as
// "ipv4"/"ipv6" rather than the internal AddressFamily enum, since the
// admin CLI has no reason to know the enum's numeric values.
type FlowKeyParams struct {
	Family string     `json:"family"`
	Src    netip.Addr `json:"src"`
	Dst    netip.Addr `json:"dst"`
}

// NewFlowKeyParams builds a FlowKeyParams from a CLI-friendly family
// string plus parsed addresses.
func NewFlowKeyParams(family string, src, dst netip.Addr) FlowKeyParams {
	return FlowKeyParams{Family: family, Src: src, Dst: dst}
}

func (p FlowKeyParams) toFlowKey() (core.FlowKey, error) {
	var fam core.AddressFamily
	switch p.Family {
	case "ipv4":
		fam = core.FamilyIPv4
	case "ipv6":
		fam = core.FamilyIPv6
	default:
		return core.FlowKey{}, fmt.Errorf("unknown family %q", p.Family)
	}
	if !p.Src.IsValid() || !p.Dst.IsValid() {
		return core.FlowKey{}, fmt.Errorf("src and dst addresses are required")
	}
	return core.FlowKey{Family: fam, Src: p.Src, Dst: p.Dst}, nil
}

// PolicyAddParams is the params shape of the policy.add command: §4.7's
// POLICY_ADD(flow, state, params) over the wire.
type PolicyAddParams struct {
	Flow    FlowKeyParams    `json:"flow"`
	State   string           `json:"state"` // "granted" | "declined"
	Grant   gk.GrantParams   `json:"grant,omitempty"`
	Decline gk.DeclineParams `json:"decline,omitempty"`
}

// handlePolicyAdd routes a POLICY_ADD command to the GK worker that owns
// the flow's RSS bucket, per §4.7's redirection-table lookup, and
// publishes it to that worker's mailbox.
func (h *Handler) handlePolicyAdd(_ context.Context, cmd Command) Response {
	var params PolicyAddParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	flow, err := params.Flow.toFlowKey()
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}

	var state gk.PolicyState
	switch params.State {
	case "granted":
		state = gk.PolicyGranted
	case "declined":
		state = gk.PolicyDeclined
	default:
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("unknown state %q", params.State))
	}

	if h.hasher == nil || h.redirection == nil || len(h.workers) == 0 {
		return errResponse(cmd.ID, ErrCodeInternalError, "policy routing not configured")
	}

	hash := h.hasher.Hash(flow)
	queue := h.redirection.QueueFor(hash)
	if queue < 0 || queue >= len(h.workers) {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("redirection table points at unknown worker %d", queue))
	}

	mb := h.workers[queue]
	c := mb.Reserve()
	c.Kind = mailbox.KindPolicyAdd
	c.Flow = flow
	c.Payload = gk.PolicyAdd{
		Flow:    flow,
		State:   state,
		Grant:   params.Grant,
		Decline: params.Decline,
	}
	if err := mb.Publish(c); err != nil {
		mb.Free(c)
		metrics.MailboxDroppedTotal.WithLabelValues("gk-" + strconv.Itoa(queue)).Inc()
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("publish policy: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"worker": queue,
			"status": "queued",
		},
	}
}

// handleStatus reports the GK worker count, uptime in seconds, and the
// clock's picosec-per-cycle setting.
func (h *Handler) handleStatus(_ context.Context, cmd Command) Response {
	uptime := time.Duration(0)
	if !h.startedAt.IsZero() {
		uptime = time.Since(h.startedAt)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"workers":     len(h.workers),
			"uptime_sec":  int64(uptime.Seconds()),
			"picosec_per_cycle": h.clock.PicosecPerCycle,
		},
	}
}

// handleStats aggregates mailbox counters across every GK worker mailbox,
// the only state a goroutine outside the workers can safely read (flow
// tables are owned exclusively by their worker, per §5).
func (h *Handler) handleStats(_ context.Context, cmd Command) Response {
	perWorker := make([]mailbox.Stats, len(h.workers))
	for i, mb := range h.workers {
		s := mb.Stats()
		perWorker[i] = s
		name := "gk-" + strconv.Itoa(i)
		metrics.MailboxHighWater.WithLabelValues(name).Set(float64(s.HighWater))
		metrics.MailboxDroppedTotal.WithLabelValues(name).Add(0) // registers the series even at zero drops
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"gk_mailboxes": perWorker,
		},
	}
}

// handleConfigReload delegates to the registered ConfigReloader.
func (h *Handler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.reloader == nil {
		return errResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.reloader.Reload(); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload failed: %v", err))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "reloaded"}}
}

// handleShutdown triggers graceful daemon shutdown via the registered
// callback, non-blocking so the response reaches the caller first.
func (h *Handler) handleShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}
	log.GetLogger().Info("admin.shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "shutting_down"}}
}

func errResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}
