// Package registry implements the module registry (C3): the source of truth
// for module identity, liveness, and session binding (spec §4.3).
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/domain"
	"github.com/modulehub/orchestrator/internal/orcherr"
)

// Registry owns the module table exclusively; all mutation goes through its
// methods, each atomic with respect to registry state (spec §5).
type Registry struct {
	mu         sync.Mutex
	clock      *clock.Model
	log        *slog.Logger
	nextID     int64
	byID       map[int64]*domain.Module
	byHash     map[string]*domain.Module
	bySession  map[string]*domain.Module
	insertOrder []*domain.Module
}

// New returns an empty Registry.
func New(c *clock.Model, log *slog.Logger) *Registry {
	return &Registry{
		clock:     c,
		log:       log,
		byID:      make(map[int64]*domain.Module),
		byHash:    make(map[string]*domain.Module),
		bySession: make(map[string]*domain.Module),
	}
}

// StableHash computes module_hash := stable_hash(name, description, modelHash).
func StableHash(name, description, modelHash string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(description))
	h.Write([]byte{0})
	h.Write([]byte(modelHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Register creates a module row. module_id is (max existing)+1, starting at
// 1. Duplicate module_hash fails with ErrAlreadyRegistered.
func (r *Registry) Register(
	name, description, modelHash string, input, output []domain.DataRequirement,
) (*domain.Module, error) {
	if name == "" {
		return nil, orcherr.ErrInvalidModule
	}
	hash := StableHash(name, description, modelHash)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[hash]; ok {
		return nil, orcherr.ErrAlreadyRegistered
	}

	r.nextID++
	m := &domain.Module{
		ID:          r.nextID,
		Hash:        hash,
		Name:        name,
		Description: description,
		InputData:   input,
		OutputData:  output,
	}
	r.byID[m.ID] = m
	r.byHash[m.Hash] = m
	r.insertOrder = append(r.insertOrder, m)
	return m, nil
}

// BindSession sets alive=true, session_id=token for the module identified by
// hash. Rejects with ErrConflict if already alive, ErrNotFound if unknown.
func (r *Registry) BindSession(hash, sessionToken string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byHash[hash]
	if !ok {
		return nil, orcherr.ErrNotFound
	}
	if m.Alive {
		return nil, orcherr.ErrConflict
	}

	now := r.clock.NowLocal()
	m.Alive = true
	m.SessionID = sessionToken
	m.LastLoginTime = now
	m.LastAliveTime = now
	r.bySession[sessionToken] = m
	return m, nil
}

// Touch advances last_alive_time for the module bound to session. No-op if
// the session is unknown (already unbound, or never existed).
func (r *Registry) Touch(sessionToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySession[sessionToken]
	if !ok {
		return
	}
	m.LastAliveTime = r.clock.NowLocal()
}

// Unbind clears session_id and sets alive=false for the module bound to
// session. No-op if unknown.
func (r *Registry) Unbind(sessionToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySession[sessionToken]
	if !ok {
		return
	}
	m.Alive = false
	m.SessionID = ""
	delete(r.bySession, sessionToken)
}

// LookupByHash returns the module with the given hash, or ErrNotFound.
func (r *Registry) LookupByHash(hash string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byHash[hash]
	if !ok {
		return nil, orcherr.ErrNotFound
	}
	return m, nil
}

// LookupByID returns the module with the given id, or ErrNotFound.
func (r *Registry) LookupByID(id int64) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, orcherr.ErrNotFound
	}
	return m, nil
}

// LookupBySession returns the module currently bound to session, or
// ErrNotFound.
func (r *Registry) LookupBySession(sessionToken string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySession[sessionToken]
	if !ok {
		return nil, orcherr.ErrNotFound
	}
	return m, nil
}

// LookupByName returns the first module with the given name by insertion
// order, logging a warning if the name is not unique (spec §4.3 tie-break).
func (r *Registry) LookupByName(name string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.Module
	matches := 0
	for _, m := range r.insertOrder {
		if m.Name == name {
			matches++
			if found == nil {
				found = m
			}
		}
	}
	if found == nil {
		return nil, orcherr.ErrNotFound
	}
	if matches > 1 {
		r.log.Warn("module name is not unique, dispatching to first by insertion order",
			"name", name, "matches", matches, "module_id", found.ID)
	}
	return found, nil
}

// MarkExecuted sets last_execution_time for the given module.
func (r *Registry) MarkExecuted(moduleID int64, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[moduleID]; ok {
		m.LastExecutionTime = t
	}
}

// ReapStale marks every alive module whose last_alive_time is before
// threshold (or zero) as no longer alive, returning the reaped set.
func (r *Registry) ReapStale(threshold time.Time) []*domain.Module {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*domain.Module
	for _, m := range r.byID {
		if !m.Alive {
			continue
		}
		if m.LastAliveTime.IsZero() || m.LastAliveTime.Before(threshold) {
			if m.SessionID != "" {
				delete(r.bySession, m.SessionID)
			}
			m.Alive = false
			m.SessionID = ""
			reaped = append(reaped, m)
		}
	}
	return reaped
}

// AliveModules returns a snapshot of every module currently marked alive.
func (r *Registry) AliveModules() []*domain.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Module
	for _, m := range r.byID {
		if m.Alive {
			out = append(out, m)
		}
	}
	return out
}
