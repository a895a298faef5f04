package store

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/modulehub/orchestrator/internal/domain"
)

// document is the on-disk shape loaded/saved by YAMLStore, following the
// teacher's idiom of a single declarative file (cli/daemon.go's
// BuildFromFile) rather than a schema-mapping decoder — there is one shape
// here, not five job types, so no mapstructure layer is warranted.
type document struct {
	Workflows []*domain.Workflow `yaml:"workflows"`
	Modules   []*domain.Module   `yaml:"modules"`
}

// YAMLStore is an in-memory Store optionally seeded from a YAML file. It
// satisfies the persistence port (spec §6) well enough for local runs and
// tests; it does not persist mutations back to disk.
type YAMLStore struct {
	mu        sync.Mutex
	workflows map[int64]*domain.Workflow
	modules   map[int64]*domain.Module
	nextWfID  int64
	nextModID int64
}

// NewYAMLStore returns an empty store.
func NewYAMLStore() *YAMLStore {
	return &YAMLStore{
		workflows: make(map[int64]*domain.Workflow),
		modules:   make(map[int64]*domain.Module),
	}
}

// LoadFile seeds the store from a YAML document at path.
func LoadFile(path string) (*YAMLStore, error) {
	s := NewYAMLStore()
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse workflows file: %w", err)
	}

	for _, w := range doc.Workflows {
		if err := s.PutWorkflow(w); err != nil {
			return nil, err
		}
	}
	for _, m := range doc.Modules {
		if err := s.PutModule(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *YAMLStore) Workflows() ([]*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (s *YAMLStore) Modules() ([]*domain.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	return out, nil
}

func (s *YAMLStore) PutWorkflow(w *domain.Workflow) error {
	if err := domain.ValidateWorkflow(w); err != nil {
		return fmt.Errorf("invalid workflow %q: %w", w.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		s.nextWfID++
		w.ID = s.nextWfID
	} else if w.ID > s.nextWfID {
		s.nextWfID = w.ID
	}
	s.workflows[w.ID] = w
	return nil
}

func (s *YAMLStore) PutModule(m *domain.Module) error {
	if err := domain.ValidateModule(m); err != nil {
		return fmt.Errorf("invalid module %q: %w", m.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextModID++
		m.ID = s.nextModID
	} else if m.ID > s.nextModID {
		s.nextModID = m.ID
	}
	s.modules[m.ID] = m
	return nil
}
