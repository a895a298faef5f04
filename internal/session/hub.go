// Package session implements the session hub (C4): per-module groups of
// bidirectional channels, accept/message/disconnect handling, and
// server-initiated fan-out/close (spec §4.4).
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/orcherr"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/tracker"
)

// Conn is the minimal duplex-channel capability the hub needs from a
// transport connection; gorilla/websocket.Conn satisfies it via the small
// adapter in websocket.go.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Handle identifies one accepted connection for the lifetime of the session.
type Handle struct {
	SessionID string
	ModuleID  int64
}

// Rejected describes why accept() refused a connection.
type Rejected struct{ Reason string }

func (r Rejected) Error() string { return r.Reason }

type member struct {
	conn Conn
	sess string
}

// Hub models the set of per-module groups ("module_{module_id}") and their
// currently-bound session channels.
type Hub struct {
	mu       sync.Mutex
	groups   map[int64]map[string]*member
	registry *registry.Registry
	tracker  *tracker.Tracker
	notifier notify.Notifier
	clock    *clock.Model
	log      *slog.Logger
}

// New builds a Hub wired to the registry, tracker, and notifier it drives.
func New(r *registry.Registry, t *tracker.Tracker, n notify.Notifier, c *clock.Model, log *slog.Logger) *Hub {
	return &Hub{
		groups:   make(map[int64]map[string]*member),
		registry: r,
		tracker:  t,
		notifier: n,
		clock:    c,
		log:      log,
	}
}

// Accept extracts module_hash from the query string, binds a session via the
// registry, and joins the module's group. Callers must arrange for
// OnDisconnect to be invoked when the connection ends.
func (h *Hub) Accept(conn Conn, rawQuery string) (*Handle, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, Rejected{Reason: "malformed query"}
	}
	hash := values.Get("hash")
	if hash == "" {
		return nil, Rejected{Reason: "missing hash"}
	}

	sessionToken := uuid.NewString()
	m, err := h.registry.BindSession(hash, sessionToken)
	switch {
	case err == orcherr.ErrNotFound:
		return nil, Rejected{Reason: "unknown module"}
	case err == orcherr.ErrConflict:
		return nil, Rejected{Reason: "already alive"}
	case err != nil:
		return nil, Rejected{Reason: err.Error()}
	}

	h.mu.Lock()
	if h.groups[m.ID] == nil {
		h.groups[m.ID] = make(map[string]*member)
	}
	h.groups[m.ID][sessionToken] = &member{conn: conn, sess: sessionToken}
	h.mu.Unlock()

	return &Handle{SessionID: sessionToken, ModuleID: m.ID}, nil
}

// isHeartbeat reports whether payload is an empty/whitespace frame or the
// literal "ping"/"pong" (case-insensitive) — dropped silently per spec §4.4.
func isHeartbeat(payload []byte) bool {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return true
	}
	lower := strings.ToLower(s)
	return lower == "ping" || lower == "pong"
}

// OnMessage handles one inbound frame: every frame touches last_alive_time;
// heartbeats and malformed JSON are handled without disconnecting the
// session. Returns the literal reply to send back, or "" for heartbeats.
func (h *Hub) OnMessage(handle *Handle, payload []byte) string {
	h.registry.Touch(handle.SessionID)

	if isHeartbeat(payload) {
		return ""
	}

	var j map[string]any
	if err := json.Unmarshal(payload, &j); err != nil {
		errMsg, _ := json.Marshal(map[string]string{
			"status":  "error",
			"message": fmt.Sprintf("malformed json: %v", err),
		})
		return string(errMsg)
	}

	h.handleResult(handle, j)
	return "receive result"
}

// OnDisconnect unbinds the session and removes it from its group,
// regardless of the disconnect cause.
func (h *Hub) OnDisconnect(handle *Handle) {
	h.registry.Unbind(handle.SessionID)

	h.mu.Lock()
	if g, ok := h.groups[handle.ModuleID]; ok {
		delete(g, handle.SessionID)
		if len(g) == 0 {
			delete(h.groups, handle.ModuleID)
		}
	}
	h.mu.Unlock()
}

// SendToModule serializes message as JSON and delivers it to every channel
// currently bound to module_id's group. A module with no live channel is a
// silent drop (spec §5): the pending execution will be reaped by the
// execution-timeout watchdog.
func (h *Hub) SendToModule(moduleID int64, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.mu.Lock()
	members := make([]*member, 0, len(h.groups[moduleID]))
	for _, mem := range h.groups[moduleID] {
		members = append(members, mem)
	}
	h.mu.Unlock()

	for _, mem := range members {
		if err := mem.conn.WriteMessage(data); err != nil {
			h.log.Warn("failed to deliver message to module", "module_id", moduleID, "error", err)
		}
	}
	return nil
}

// GroupSize reports how many live channels are bound to module_id's group.
func (h *Hub) GroupSize(moduleID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[moduleID])
}

// CloseModule instructs every channel in module_id's group to close cleanly.
// Each closing channel's OnDisconnect call (driven by the transport loop
// observing the close) unbinds it before removal from the group.
func (h *Hub) CloseModule(moduleID int64) {
	h.mu.Lock()
	members := make([]*member, 0, len(h.groups[moduleID]))
	for _, mem := range h.groups[moduleID] {
		members = append(members, mem)
	}
	h.mu.Unlock()

	for _, mem := range members {
		if err := mem.conn.Close(); err != nil {
			h.log.Debug("error closing module channel", "module_id", moduleID, "error", err)
		}
	}
}

var failureStatuses = map[string]bool{
	"failure": true,
	"failed":  true,
	"error":   true,
	"fail":    true,
}

// handleResult implements the result handler of spec §4.4: clear the
// matching pending execution and, on failure, emit an ExecutionFailure
// notification.
func (h *Hub) handleResult(handle *Handle, j map[string]any) {
	executionID := stringField(j, "execution_id")
	if executionID == "" {
		if meta, ok := j["meta"].(map[string]any); ok {
			executionID = stringField(meta, "execution_id")
		}
	}
	if executionID != "" {
		h.tracker.Clear(executionID)
	}

	status := stringField(j, "status")
	_, isResult := j["type"]
	if stringField(j, "type") != "result" && status == "" && !isResult {
		return
	}
	if !failureStatuses[strings.ToLower(status)] {
		return
	}

	m, err := h.registry.LookupBySession(handle.SessionID)
	if err != nil {
		return
	}

	errMsg := stringField(j, "error")
	if errMsg == "" {
		errMsg = stringField(j, "message")
	}
	if errMsg == "" {
		errMsg = stringField(j, "error_message")
	}
	if errMsg == "" {
		errMsg = "unspecified failure"
	}

	workflowName, workflowID := workflowRef(j)

	h.notifier.Notify(notify.Payload{
		Kind:         notify.KindExecutionFailure,
		WorkflowName: workflowName,
		WorkflowID:   workflowID,
		ModuleName:   m.Name,
		ModuleID:     m.ID,
		ErrorMessage: errMsg,
		FailureTime:  h.clock.NowLocal(),
	})
}

func workflowRef(j map[string]any) (name string, id int64) {
	meta, _ := j["meta"].(map[string]any)
	if meta == nil {
		meta = j
	}
	name = stringField(meta, "workflow_name")
	switch v := meta["workflow_id"].(type) {
	case float64:
		id = int64(v)
	case string:
		var parsed int64
		_, _ = fmt.Sscanf(v, "%d", &parsed)
		id = parsed
	}
	return name, id
}

func stringField(j map[string]any, key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}
