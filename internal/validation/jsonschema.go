package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tideflow.io/schemas/workflow.json",
  "type": "object",
  "required": ["id", "start_node", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "version": { "type": "string" },
    "name": { "type": "string" },
    "start_node": { "type": "string", "minLength": 1 },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "variables": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["agent", "user_input", "code", "http_request", "file_operation", "conditional", "loop", "sub_workflow"]
        },
        "config": {},
        "inputs": {
          "type": "array",
          "items": { "$ref": "#/$defs/input_mapping" }
        },
        "outputs": {
          "type": "array",
          "items": { "$ref": "#/$defs/output_mapping" }
        },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "skip_condition": { "type": "string" },
        "next": { "type": "string" },
        "on_reject": { "type": "string" }
      },
      "additionalProperties": false
    },
    "input_mapping": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": { "type": "string", "minLength": 1 },
        "from": { "type": "string" },
        "value": {},
        "default": {},
        "transform": { "type": "string" }
      },
      "additionalProperties": false
    },
    "output_mapping": {
      "type": "object",
      "required": ["variable"],
      "properties": {
        "variable": { "type": "string", "minLength": 1 },
        "path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_retries"],
      "properties": {
        "max_retries": { "type": "integer", "minimum": 0 },
        "base_delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "backoff_multiplier": { "type": "number", "minimum": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// structuralValidator validates definitions against the embedded JSON Schema
// (Draft 2020-12). Safe for concurrent use after construction.
type structuralValidator struct {
	compiled *jsonschema.Schema
}

func newStructuralValidator() (*structuralValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://tideflow.io/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://tideflow.io/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &structuralValidator{compiled: compiled}, nil
}

// validate checks the definition against the JSON Schema and reports each
// leaf violation as its own error.
func (sv *structuralValidator) validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize workflow definition: "+err.Error())
		return result
	}

	err = sv.compiled.Validate(doc)
	if err == nil {
		return result
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	for _, v := range collectViolations(verr) {
		result.AddError(v.loc, schema.ErrCodeValidation, v.msg)
	}
	return result
}

type violation struct {
	loc string
	msg string
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{loc: loc, msg: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
