// Package store defines the persistence port (spec §6) the core consumes —
// listing and insert-or-replace of modules and workflows with dense,
// monotonically assigned ids — plus a YAML-backed in-memory reference adapter
// used by cmd/orchestratord and by tests. The port has no delete operation,
// and the YAML adapter does not enforce uniqueness of module hashes.
// Production deployments may swap in any other Store implementation (SQL,
// KV, ...).
package store

import "github.com/modulehub/orchestrator/internal/domain"

// Store is the persistence port the scheduler's reload_all reads workflows
// from. The admin surface registers modules through the registry, not
// through this port.
type Store interface {
	// Workflows returns every currently-stored workflow, enabled or not.
	Workflows() ([]*domain.Workflow, error)
	// Modules returns every currently-stored module.
	Modules() ([]*domain.Module, error)
	// PutWorkflow inserts or replaces a workflow, assigning a dense id on
	// first insert.
	PutWorkflow(w *domain.Workflow) error
	// PutModule inserts or replaces a module, assigning a dense id on first
	// insert.
	PutModule(m *domain.Module) error
}
