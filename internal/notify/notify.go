// Package notify implements the Notifier Port (C8): a closed set of
// notification kinds rendered to human-readable subject/body pairs and
// delivered through an outbound mail gateway (spec §4.8).
package notify

import "time"

// Kind is the closed set of notification kinds the core emits.
type Kind string

const (
	KindExecutionFailure  Kind = "ExecutionFailure"
	KindModuleNotFound    Kind = "ModuleNotFound"
	KindModuleNameNotFound Kind = "ModuleNameNotFound"
	KindModuleInfoInvalid Kind = "ModuleInfoInvalid"
	KindExecutionException Kind = "ExecutionException"
	KindExecutionTimeout  Kind = "ExecutionTimeout"
)

// Payload carries the union of fields any Kind may need; only the fields
// relevant to Kind are expected to be populated (see the table in spec
// §4.8).
type Payload struct {
	Kind Kind

	WorkflowName string
	WorkflowID   int64
	ModuleName   string
	ModuleID     int64
	ModuleInfo   string

	ErrorMessage     string
	ExceptionMessage string

	ExecutionID    string
	ElapsedSeconds float64
	TimeoutSeconds float64

	FailureTime time.Time
}

// Notifier is the abstract capability consumed by C6/C7. Delivery failure
// must never propagate to the caller: implementations log it and return
// false.
type Notifier interface {
	Notify(p Payload) bool
}

// NopNotifier discards every notification; useful for tests and for daemons
// started without NOTIFICATION_EMAIL/EMAIL_API_URL configured.
type NopNotifier struct{}

func (NopNotifier) Notify(Payload) bool { return true }
