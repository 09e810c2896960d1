// Package validation checks pipeline configuration documents against an
// embedded JSON Schema before the engine is wired up. Catching a bad
// option type or a malformed source block here produces a far better
// error than a skipped step at runtime.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/recflow/pkg/schema"
)

// pipelineSchemaJSON is the JSON Schema for pipeline configuration files.
// Embedded as a constant to avoid filesystem dependencies.
const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://recflow.dev/schemas/pipeline.json",
  "type": "object",
  "properties": {
    "debug": { "type": "boolean" },
    "log_level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "error"]
    },
    "workers": {
      "type": "integer",
      "minimum": 1
    },
    "options": {
      "type": "object",
      "additionalProperties": {
        "type": ["boolean", "number", "string", "array"]
      }
    },
    "source": { "$ref": "#/$defs/source" },
    "taxonomy": { "$ref": "#/$defs/taxonomy" },
    "sink": { "$ref": "#/$defs/sink" }
  },
  "additionalProperties": false,
  "$defs": {
    "source": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {
          "type": "string",
          "minLength": 1
        },
        "query": { "type": "string" },
        "page_size": {
          "type": "integer",
          "minimum": 1
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "max_retries": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    },
    "taxonomy": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {
          "type": "string",
          "minLength": 1
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        }
      },
      "additionalProperties": false
    },
    "sink": {
      "type": "object",
      "required": ["path"],
      "properties": {
        "path": {
          "type": "string",
          "minLength": 1
        }
      },
      "additionalProperties": false
    }
  }
}`

// PipelineValidator validates pipeline configuration documents against the
// embedded schema. The schema is compiled once at construction.
type PipelineValidator struct {
	pipelineSchema *jsonschema.Schema
}

// NewPipelineValidator creates a validator with the pipeline schema precompiled.
func NewPipelineValidator() (*PipelineValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pipelineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline schema: %w", err)
	}

	const url = "https://recflow.dev/schemas/pipeline.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add pipeline schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}

	return &PipelineValidator{pipelineSchema: compiled}, nil
}

// Validate checks a decoded pipeline configuration against the schema.
// The value is round-tripped through JSON so YAML-decoded documents
// carry the numeric representation the schema library expects.
func (v *PipelineValidator) Validate(cfg any) error {
	if cfg == nil {
		return schema.NewError(schema.ErrCodeConfig, "pipeline configuration is nil")
	}

	doc, err := toJSONValue(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "failed to serialize pipeline configuration").WithCause(err)
	}

	if err := v.pipelineSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return nil
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

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// one message per violated constraint and its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("pipeline configuration failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
