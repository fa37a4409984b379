package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// LoadDirectory reads every *.yaml, *.yml and *.json file in dir (non
// recursive) and registers the definitions it finds into a MemorySource.
// YAML files are decoded through an intermediate JSON round-trip so that
// both formats share the same struct tags.
func LoadDirectory(dir string) (*MemorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definition directory: %w", err)
	}

	src := NewMemorySource()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := src.Register(def); err != nil {
			return nil, fmt.Errorf("register %s: %w", entry.Name(), err)
		}
	}
	return src, nil
}

// LoadFile parses a single definition file. The format is chosen by
// extension; anything that is not JSON is treated as YAML.
func LoadFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}

	var def schema.WorkflowDefinition
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parse %s: %s", filepath.Base(path), err.Error())
		}
	} else {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parse %s: %s", filepath.Base(path), err.Error())
		}
		jsonBytes, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
		}
		if err := json.Unmarshal(jsonBytes, &def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parse %s: %s", filepath.Base(path), err.Error())
		}
	}

	if def.ID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: definition has no id", filepath.Base(path))
	}
	return &def, nil
}

// normalizeYAML rewrites map[any]any keys (yaml.v3 emits them for non-string
// keys) into map[string]any so the value survives json.Marshal.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
