// Package orcherr collects the sentinel error kinds surfaced by the core
// (spec §7), following the teacher's plain errors.New + fmt.Errorf wrapping
// style (core/errors.go) instead of a custom error-code hierarchy.
package orcherr

import "errors"

var (
	// ErrBadCronExpression marks a cron string that failed to parse. Raised by
	// internal/cronutil; logged per-expression and the expression is skipped.
	ErrBadCronExpression = errors.New("bad cron expression")

	// ErrAlreadyRegistered marks a duplicate module_hash on register().
	ErrAlreadyRegistered = errors.New("module already registered")

	// ErrInvalidModule marks a register() call with a missing required field
	// (currently: name).
	ErrInvalidModule = errors.New("invalid module registration")

	// ErrConflict marks bind_session on an already-alive module (M3).
	ErrConflict = errors.New("module session already bound")

	// ErrNotFound marks a missing module, workflow, or job.
	ErrNotFound = errors.New("not found")

	// ErrDispatchException marks a per-module failure during a workflow fire;
	// caught, logged, and turned into an ExecutionException notification.
	ErrDispatchException = errors.New("dispatch exception")

	// ErrNotifierFailure marks a failed outbound notification delivery. Never
	// propagated past internal/notify — logged only.
	ErrNotifierFailure = errors.New("notifier failure")

	// ErrEmptySchedule marks a workflow with no valid cron expression in its
	// union (spec §4.2 step 2: "a spec with no valid expression yields None").
	ErrEmptySchedule = errors.New("no valid cron expression in schedule union")
)
