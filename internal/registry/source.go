// Package registry resolves workflow definitions by ID and version.
package registry

import (
	"sync"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// Source resolves workflow definitions. An empty version selects the
// latest registered version of the definition.
type Source interface {
	GetDefinition(id, version string) (*schema.WorkflowDefinition, error)
	List() []*schema.WorkflowDefinition
}

// MemorySource is an in-memory Source. Safe for concurrent use.
type MemorySource struct {
	mu   sync.RWMutex
	defs map[string]map[string]*schema.WorkflowDefinition
	// latest[id] is the most recently registered version per definition.
	latest map[string]string
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		defs:   make(map[string]map[string]*schema.WorkflowDefinition),
		latest: make(map[string]string),
	}
}

// Register adds or replaces a definition. The definition's own ID and
// Version fields key the entry.
func (s *MemorySource) Register(def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.defs[def.ID]
	if !ok {
		versions = make(map[string]*schema.WorkflowDefinition)
		s.defs[def.ID] = versions
	}
	versions[def.Version] = def
	s.latest[def.ID] = def.Version
	return nil
}

func (s *MemorySource) GetDefinition(id, version string) (*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.defs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "definition %q not found", id)
	}
	if version == "" {
		version = s.latest[id]
	}
	def, ok := versions[version]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound,
			"definition %q has no version %q", id, version)
	}
	return def, nil
}

func (s *MemorySource) List() []*schema.WorkflowDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.WorkflowDefinition
	for id, version := range s.latest {
		if def, ok := s.defs[id][version]; ok {
			out = append(out, def)
		}
	}
	return out
}

var _ Source = (*MemorySource)(nil)
