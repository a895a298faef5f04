package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/domain"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/tracker"
)

type fakeSender struct {
	sent []sentMessage
	err  error
}

type sentMessage struct {
	moduleID int64
	message  any
}

func (f *fakeSender) SendToModule(moduleID int64, message any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{moduleID: moduleID, message: message})
	return nil
}

type fakeNotifier struct {
	calls []notify.Payload
}

func (f *fakeNotifier) Notify(p notify.Payload) bool {
	f.calls = append(f.calls, p)
	return true
}

type fakeStore struct {
	workflows []*domain.Workflow
}

func (s *fakeStore) Workflows() ([]*domain.Workflow, error) { return s.workflows, nil }
func (s *fakeStore) Modules() ([]*domain.Module, error)      { return nil, nil }
func (s *fakeStore) PutWorkflow(w *domain.Workflow) error    { s.workflows = append(s.workflows, w); return nil }
func (s *fakeStore) PutModule(*domain.Module) error          { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discardJobLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestScheduler(t *testing.T) (*Scheduler, *registry.Registry, *tracker.Tracker, *fakeSender, *fakeNotifier, *fakeStore) {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	model := clock.New(fc, time.UTC, true)
	r := registry.New(model, discardLogger())
	tr := tracker.New()
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	st := &fakeStore{}

	s := New(Deps{
		Clock: model, Registry: r, Tracker: tr, Hub: sender, Notifier: notifier,
		Store: st, Log: discardLogger(), JobLog: discardJobLogger(),
	})
	return s, r, tr, sender, notifier, st
}

func TestDispatchOne_ModuleNameNotFound(t *testing.T) {
	t.Parallel()
	s, _, _, _, notifier, _ := newTestScheduler(t)

	w := &domain.Workflow{ID: 1, Name: "wf"}
	s.dispatchOne(context.Background(), w, domain.Invocation{Name: "missing-module"})

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.KindModuleNameNotFound, notifier.calls[0].Kind)
}

func TestDispatchOne_ModuleNotFoundWhenHashUnknown(t *testing.T) {
	t.Parallel()
	s, _, _, _, notifier, _ := newTestScheduler(t)

	w := &domain.Workflow{ID: 1, Name: "wf"}
	s.dispatchOne(context.Background(), w, domain.Invocation{ModuleHash: "nope"})

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.KindModuleNotFound, notifier.calls[0].Kind)
}

func TestDispatchOne_SuccessRecordsPendingExecution(t *testing.T) {
	t.Parallel()
	s, r, tr, sender, notifier, _ := newTestScheduler(t)

	m, err := r.Register("worker", "", "model-hash", nil, nil)
	require.NoError(t, err)
	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	w := &domain.Workflow{ID: 1, Name: "wf"}
	s.dispatchOne(context.Background(), w, domain.Invocation{Name: "worker", Args: map[string]any{"a": 1}})

	assert.Empty(t, notifier.calls)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, m.ID, sender.sent[0].moduleID)
	assert.Equal(t, 1, tr.Len())
}

func TestDispatchOne_DeadModuleIsTreatedAsNotFound(t *testing.T) {
	t.Parallel()
	s, r, _, _, notifier, _ := newTestScheduler(t)

	m, err := r.Register("worker", "", "model-hash", nil, nil)
	require.NoError(t, err)

	w := &domain.Workflow{ID: 1, Name: "wf"}
	s.dispatchOne(context.Background(), w, domain.Invocation{ModuleHash: m.Hash})

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.KindModuleNotFound, notifier.calls[0].Kind)
}

func TestDispatchOne_SendFailureEmitsExecutionException(t *testing.T) {
	t.Parallel()
	s, r, tr, sender, notifier, _ := newTestScheduler(t)
	sender.err = assert.AnError

	m, err := r.Register("worker", "", "model-hash", nil, nil)
	require.NoError(t, err)
	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	w := &domain.Workflow{ID: 1, Name: "wf"}
	s.dispatchOne(context.Background(), w, domain.Invocation{ModuleHash: m.Hash})

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.KindExecutionException, notifier.calls[0].Kind)
	assert.Equal(t, 0, tr.Len(), "a failed send must not leave a pending execution behind")
}

func TestExecuteWorkflow_SkipsWhenAlreadyRunning(t *testing.T) {
	t.Parallel()
	s, r, tr, _, _, _ := newTestScheduler(t)

	m, err := r.Register("worker", "", "model-hash", nil, nil)
	require.NoError(t, err)
	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	w := &domain.Workflow{
		ID: 1, Name: "wf", Enable: true,
		ExecuteModules: []domain.Invocation{{ModuleHash: m.Hash}},
	}
	s.mu.Lock()
	s.workflows[1] = w
	s.running[1] = true
	s.mu.Unlock()

	s.executeWorkflow(context.Background(), 1)

	assert.Equal(t, 0, tr.Len(), "a fire skipped by the max_instances=1 guard must not dispatch")
}

func TestListJobs_EmptyWithoutCronEntries(t *testing.T) {
	t.Parallel()
	s, _, _, _, _, _ := newTestScheduler(t)

	s.mu.Lock()
	s.workflows[1] = &domain.Workflow{ID: 1, Name: "known"}
	s.mu.Unlock()

	jobs := s.ListJobs()
	assert.Empty(t, jobs, "no cron entries registered yet, ListJobs reflects cron state not the cache")
}

func TestRunJob_UnknownWorkflow(t *testing.T) {
	t.Parallel()
	s, _, _, _, _, _ := newTestScheduler(t)

	err := s.RunJob(context.Background(), 999)
	require.Error(t, err)
}
