// Package scheduler implements the workflow scheduler (C6): loading
// workflows, registering cron-union jobs, and firing execute_workflow on
// trigger (spec §4.6), adapted from the teacher's core.Scheduler
// (core/scheduler.go) with Docker/middleware execution replaced by
// module dispatch over the session hub.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cron "github.com/netresearch/go-cron"
	"github.com/sirupsen/logrus"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/cronutil"
	"github.com/modulehub/orchestrator/internal/domain"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/orcherr"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/store"
	"github.com/modulehub/orchestrator/internal/tracker"
)

// jobPrefix names every workflow job "workflow_{id}" (spec §4.6), used both
// to identify a job and to recognize orphans during reload_all.
const jobPrefix = "workflow_"

func jobName(workflowID int64) string {
	return jobPrefix + strconv.FormatInt(workflowID, 10)
}

// Sender is the subset of the session hub the scheduler needs to dispatch.
type Sender interface {
	SendToModule(moduleID int64, message any) error
}

// Scheduler owns the registered-jobs table exclusively (spec §3 ownership).
type Scheduler struct {
	cron        *cron.Cron
	unionParser *cronutil.Registry
	log         *slog.Logger
	jobLog      *logrus.Logger
	clockM      *clock.Model
	registry    *registry.Registry
	tracker     *tracker.Tracker
	hub         Sender
	notifier    notify.Notifier
	store       store.Store

	mu        sync.Mutex
	entryID   map[int64]cron.EntryID
	workflows map[int64]*domain.Workflow
	running   map[int64]bool // max_instances=1 guard, keyed by workflow id
}

// Deps bundles the collaborators the scheduler dispatches through.
type Deps struct {
	Clock    *clock.Model
	Registry *registry.Registry
	Tracker  *tracker.Tracker
	Hub      Sender
	Notifier notify.Notifier
	Store    store.Store
	Log      *slog.Logger
	JobLog   *logrus.Logger
}

// New builds a Scheduler. Its go-cron engine is configured with a capacity
// hint and a slog-backed logger/panic-recovery chain, matching the teacher's
// newSchedulerInternal.
func New(d Deps) *Scheduler {
	cronLogger := cronutil.Logger{L: d.Log}
	unionParser := cronutil.NewRegistry()
	c := cron.New(
		cron.WithParser(unionParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
		cron.WithCapacity(64),
	)

	return &Scheduler{
		cron:        c,
		unionParser: unionParser,
		log:         d.Log,
		jobLog:      d.JobLog,
		clockM:      d.Clock,
		registry:    d.Registry,
		tracker:     d.Tracker,
		hub:         d.Hub,
		notifier:    d.Notifier,
		store:       d.Store,
		entryID:     make(map[int64]cron.EntryID),
		workflows:   make(map[int64]*domain.Workflow),
		running:     make(map[int64]bool),
	}
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop gracefully stops the cron engine, waiting up to timeout for any
// in-flight fire to complete (adapted from the teacher's
// Scheduler.StopWithTimeout).
func (s *Scheduler) Stop(timeout time.Duration) bool {
	return s.cron.StopWithTimeout(timeout)
}

// AddJob registers w's union trigger if w.Enable; a disabled workflow is a
// no-op (spec §4.6).
func (s *Scheduler) AddJob(w *domain.Workflow) error {
	if !w.Enable {
		return nil
	}

	trigger, err := cronutil.NewUnionTrigger(
		w.ExecuteCronList, w.ExecuteShiftTime, clock.Unit(w.ExecuteShiftUnit), s.clockM, s.log,
	)
	if err != nil {
		s.log.Warn("workflow has no valid schedule, not registered", "workflow_id", w.ID, "workflow_name", w.Name)
		return err
	}

	s.unionParser.Put(w.ID, trigger)
	id, err := s.cron.AddJob(cronutil.UnionSpec(w.ID), &fireJob{s: s, workflowID: w.ID}, cron.WithName(jobName(w.ID)), cron.WithTags(jobPrefix))
	if err != nil {
		s.unionParser.Delete(w.ID)
		return fmt.Errorf("schedule workflow %d: %w", w.ID, err)
	}

	s.mu.Lock()
	s.entryID[w.ID] = id
	s.workflows[w.ID] = w
	s.mu.Unlock()

	s.log.Info("workflow job registered", "workflow_id", w.ID, "workflow_name", w.Name)
	return nil
}

// RemoveJob deregisters w's job, if any, waiting for any in-flight fire to
// finish before returning.
func (s *Scheduler) RemoveJob(workflowID int64) {
	name := jobName(workflowID)
	s.cron.RemoveByName(name)
	s.cron.WaitForJobByName(name)
	s.unionParser.Delete(workflowID)

	s.mu.Lock()
	delete(s.entryID, workflowID)
	delete(s.workflows, workflowID)
	s.mu.Unlock()
}

// ReloadAll is the reconciliation primitive of spec §4.6: after it returns,
// the registered job set equals exactly {w : w.Enable}, with any job whose
// id starts with "workflow_" and has no backing workflow purged as an
// orphan.
func (s *Scheduler) ReloadAll() error {
	workflows, err := s.store.Workflows()
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	valid := make(map[string]bool, len(workflows))
	for _, w := range workflows {
		valid[jobName(w.ID)] = true
	}

	s.mu.Lock()
	ids := make([]int64, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.RemoveJob(id)
	}

	for _, entry := range s.cron.Entries() {
		if strings.HasPrefix(entry.Name, jobPrefix) && !valid[entry.Name] {
			s.cron.RemoveByName(entry.Name)
			s.cron.WaitForJobByName(entry.Name)
			if id, err := strconv.ParseInt(strings.TrimPrefix(entry.Name, jobPrefix), 10, 64); err == nil {
				s.unionParser.Delete(id)
			}
			s.log.Info("purged orphan workflow job", "job_name", entry.Name)
		}
	}

	for _, w := range workflows {
		if !w.Enable {
			continue
		}
		if err := s.AddJob(w); err != nil {
			s.log.Warn("failed to (re)register workflow job", "workflow_id", w.ID, "error", err)
		}
	}
	return nil
}

// JobInfo is one row of the list_jobs admin entry point (spec §6).
type JobInfo struct {
	WorkflowID      int64
	NextRunTime     time.Time
	TriggerDesc     string
	WorkflowNotFound bool
}

// ListJobs enumerates workflow_id -> {next_run_time, trigger description},
// flagging orphans via WorkflowNotFound.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	workflows := make(map[int64]*domain.Workflow, len(s.workflows))
	for id, w := range s.workflows {
		workflows[id] = w
	}
	s.mu.Unlock()

	var out []JobInfo
	for _, entry := range s.cron.Entries() {
		if !strings.HasPrefix(entry.Name, jobPrefix) {
			continue
		}
		idStr := strings.TrimPrefix(entry.Name, jobPrefix)
		id, _ := strconv.ParseInt(idStr, 10, 64)
		w, known := workflows[id]

		info := JobInfo{WorkflowID: id, NextRunTime: entry.Next, WorkflowNotFound: !known}
		if known {
			info.TriggerDesc = strings.Join(w.ExecuteCronList, " | ")
		}
		out = append(out, info)
	}
	return out
}

// RunJob manually triggers execute_workflow(id) via the admin surface.
func (s *Scheduler) RunJob(ctx context.Context, workflowID int64) error {
	s.mu.Lock()
	_, known := s.workflows[workflowID]
	s.mu.Unlock()
	if !known {
		return orcherr.ErrNotFound
	}
	s.executeWorkflow(ctx, workflowID)
	return nil
}

// fireJob adapts a workflow id into a cron.Job/cron.JobWithContext, mirroring
// the teacher's jobWrapper.
type fireJob struct {
	s          *Scheduler
	workflowID int64
}

var _ cron.JobWithContext = (*fireJob)(nil)

func (f *fireJob) Run() { f.RunWithContext(context.Background()) }

func (f *fireJob) RunWithContext(ctx context.Context) {
	f.s.executeWorkflow(ctx, f.workflowID)
}

// executeWorkflow implements the fire handler of spec §4.6, including the
// max_instances=1 guard (a still-running fire prevents a new one) and the
// coalesce=true / disabled-misfire-grace semantics: a skipped fire is simply
// not replayed, matching go-cron's own "fire only at/after Next()" model.
func (s *Scheduler) executeWorkflow(ctx context.Context, workflowID int64) {
	s.mu.Lock()
	if s.running[workflowID] {
		s.mu.Unlock()
		s.log.Debug("workflow fire skipped, previous fire still running", "workflow_id", workflowID)
		return
	}
	w, known := s.workflows[workflowID]
	if !known {
		s.mu.Unlock()
		s.log.Warn("workflow fire for unknown workflow, skipping", "workflow_id", workflowID)
		return
	}
	s.running[workflowID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[workflowID] = false
		s.mu.Unlock()
	}()

	for _, inv := range w.ExecuteModules {
		s.dispatchOne(ctx, w, inv)
	}
}

// dispatchOne resolves and sends one invocation, catching any exception
// per-module so one bad module cannot abort a workflow's other modules
// (spec §4.6 step 3 / rationale).
func (s *Scheduler) dispatchOne(ctx context.Context, w *domain.Workflow, inv domain.Invocation) {
	defer func() {
		if r := recover(); r != nil {
			s.jobLog.WithFields(logrus.Fields{"workflow_id": w.ID, "workflow_name": w.Name}).
				Errorf("panic dispatching invocation: %v", r)
			s.notifier.Notify(notify.Payload{
				Kind: notify.KindExecutionException, WorkflowName: w.Name, WorkflowID: w.ID,
				ExceptionMessage: fmt.Sprintf("panic: %v", r), FailureTime: s.clockM.NowLocal(),
			})
		}
	}()

	hash := inv.ModuleHash
	if hash == "" {
		m, err := s.registry.LookupByName(inv.Name)
		if err != nil {
			s.notifier.Notify(notify.Payload{
				Kind: notify.KindModuleNameNotFound, WorkflowName: w.Name, WorkflowID: w.ID,
				ModuleName: inv.Name, FailureTime: s.clockM.NowLocal(),
			})
			return
		}
		hash = m.Hash
	}
	if hash == "" {
		s.notifier.Notify(notify.Payload{
			Kind: notify.KindModuleInfoInvalid, WorkflowName: w.Name, WorkflowID: w.ID,
			ModuleInfo: fmt.Sprintf("%+v", inv), FailureTime: s.clockM.NowLocal(),
		})
		return
	}

	m, err := s.registry.LookupByHash(hash)
	if err != nil || !m.Alive {
		s.notifier.Notify(notify.Payload{
			Kind: notify.KindModuleNotFound, WorkflowName: w.Name, WorkflowID: w.ID,
			ModuleName: inv.Name, FailureTime: s.clockM.NowLocal(),
		})
		return
	}

	now := s.clockM.NowLocal()
	s.registry.MarkExecuted(m.ID, now)

	executionID := uuid.NewString()
	message := map[string]any{
		"type": "execute",
		"meta": map[string]any{
			"execution_id":   executionID,
			"execution_time": now.Format("2006-01-02T15:04:05.000000"),
			"workflow_id":    w.ID,
			"workflow_name":  w.Name,
		},
		"args": inv.Args,
	}

	if err := s.hub.SendToModule(m.ID, message); err != nil {
		s.jobLog.WithFields(logrus.Fields{"workflow_id": w.ID, "module_id": m.ID}).
			Errorf("dispatch exception: %v", err)
		s.notifier.Notify(notify.Payload{
			Kind: notify.KindExecutionException, WorkflowName: w.Name, WorkflowID: w.ID,
			ModuleID: m.ID, ModuleName: m.Name, ExceptionMessage: err.Error(), FailureTime: now,
		})
		return
	}

	s.tracker.Record(domain.PendingExecution{
		ExecutionID: executionID, ModuleID: m.ID, WorkflowID: w.ID,
		WorkflowName: w.Name, ModuleName: m.Name, SentTime: now,
	})

	_ = ctx // reserved for future cancellation propagation into the dispatch path
}
