package session

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/domain"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/tracker"
)

func pendingExecutionFor(executionID string, moduleID int64) domain.PendingExecution {
	return domain.PendingExecution{ExecutionID: executionID, ModuleID: moduleID, SentTime: time.Now()}
}

type fakeConn struct {
	written [][]byte
	closed  bool
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeNotifier struct {
	calls []notify.Payload
}

func (f *fakeNotifier) Notify(p notify.Payload) bool {
	f.calls = append(f.calls, p)
	return true
}

func newTestHub(t *testing.T) (*Hub, *registry.Registry, *tracker.Tracker, *fakeNotifier) {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	model := clock.New(fc, time.UTC, false)
	log := slog.New(slog.NewTextHandler(discard{}, nil))

	r := registry.New(model, log)
	tr := tracker.New()
	n := &fakeNotifier{}
	h := New(r, tr, n, model, log)
	return h, r, tr, n
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAccept_BindsAndJoinsGroup(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)

	conn := &fakeConn{}
	handle, err := h.Accept(conn, "hash="+m.Hash)
	require.NoError(t, err)
	assert.Equal(t, m.ID, handle.ModuleID)
	assert.Equal(t, 1, h.GroupSize(m.ID))
}

func TestAccept_RejectsMissingHash(t *testing.T) {
	t.Parallel()
	h, _, _, _ := newTestHub(t)

	_, err := h.Accept(&fakeConn{}, "")
	require.Error(t, err)
}

func TestAccept_RejectsUnknownModule(t *testing.T) {
	t.Parallel()
	h, _, _, _ := newTestHub(t)

	_, err := h.Accept(&fakeConn{}, "hash=does-not-exist")
	require.Error(t, err)
}

func TestOnMessage_DropsHeartbeat(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	handle, err := h.Accept(&fakeConn{}, "hash="+m.Hash)
	require.NoError(t, err)

	assert.Equal(t, "", h.OnMessage(handle, []byte("ping")))
	assert.Equal(t, "", h.OnMessage(handle, []byte("  ")))
}

func TestOnMessage_MalformedJSONRepliesWithError(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	handle, err := h.Accept(&fakeConn{}, "hash="+m.Hash)
	require.NoError(t, err)

	reply := h.OnMessage(handle, []byte("{not json"))
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(reply), &parsed))
	assert.Equal(t, "error", parsed["status"])
}

func TestOnMessage_FailureResultClearsTrackerAndNotifies(t *testing.T) {
	t.Parallel()
	h, r, tr, n := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	handle, err := h.Accept(&fakeConn{}, "hash="+m.Hash)
	require.NoError(t, err)

	tr.Record(pendingExecutionFor("exec-1", m.ID))

	payload := []byte(`{"execution_id":"exec-1","status":"failure","error":"boom","meta":{"workflow_name":"nightly","workflow_id":9}}`)
	reply := h.OnMessage(handle, payload)

	assert.Equal(t, "receive result", reply)
	assert.Equal(t, 0, tr.Len())
	require.Len(t, n.calls, 1)
	assert.Equal(t, notify.KindExecutionFailure, n.calls[0].Kind)
	assert.Equal(t, "boom", n.calls[0].ErrorMessage)
	assert.Equal(t, "nightly", n.calls[0].WorkflowName)
	assert.Equal(t, int64(9), n.calls[0].WorkflowID)
}

func TestOnMessage_SuccessResultClearsTrackerWithoutNotifying(t *testing.T) {
	t.Parallel()
	h, r, tr, n := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	handle, err := h.Accept(&fakeConn{}, "hash="+m.Hash)
	require.NoError(t, err)

	tr.Record(pendingExecutionFor("exec-2", m.ID))

	payload := []byte(`{"execution_id":"exec-2","status":"success"}`)
	h.OnMessage(handle, payload)

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, n.calls)
}

func TestOnDisconnect_RemovesFromGroupAndUnbinds(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	handle, err := h.Accept(&fakeConn{}, "hash="+m.Hash)
	require.NoError(t, err)

	h.OnDisconnect(handle)
	assert.Equal(t, 0, h.GroupSize(m.ID))

	_, err = r.LookupBySession(handle.SessionID)
	require.Error(t, err)
}

func TestSendToModule_DeliversToEveryMember(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	conn := &fakeConn{}
	_, err = h.Accept(conn, "hash="+m.Hash)
	require.NoError(t, err)

	require.NoError(t, h.SendToModule(m.ID, map[string]any{"type": "execute"}))
	require.Len(t, conn.written, 1)
	assert.Contains(t, string(conn.written[0]), "execute")
}

func TestCloseModule_ClosesEveryMember(t *testing.T) {
	t.Parallel()
	h, r, _, _ := newTestHub(t)

	m, err := r.Register("worker-1", "", "model-hash", nil, nil)
	require.NoError(t, err)
	conn := &fakeConn{}
	_, err = h.Accept(conn, "hash="+m.Hash)
	require.NoError(t, err)

	h.CloseModule(m.ID)
	assert.True(t, conn.closed)
}
