package validation

import "github.com/tideflow-io/tideflow/pkg/schema"

// DefinitionValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node refs, branch targets, loop bodies)
// 3. Graph (reachability from the start node)
type DefinitionValidator struct {
	structural *structuralValidator
}

// NewDefinitionValidator compiles the embedded workflow schema.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	sv, err := newStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{structural: sv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (dv *DefinitionValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := dv.structural.validate(def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}
