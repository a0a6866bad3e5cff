// Package schema compiles and applies the JSON Schemas that gate every
// worker-written artifact before FileEventSource trusts it, using
// github.com/santhosh-tekuri/jsonschema/v5. A failure to validate is
// reported as a WatchError carrying the file path and message rather than
// silently coercing partial data, per SPEC_FULL.md §9's re-architecture note.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind identifies which compiled schema applies to a given artifact.
type Kind string

const (
	KindAgentOutput    Kind = "agent-output"
	KindErrorFlag      Kind = "error-flag"
	KindVerdict        Kind = "verdict"
	KindCRP            Kind = "crp"
	KindVCR            Kind = "vcr"
	KindTestConfig     Kind = "test-config"
	KindTestOutput     Kind = "test-output"
	KindVerifierResult Kind = "verifier-results"
)

var rawSchemas = map[Kind]string{
	KindAgentOutput: `{
		"type": "object",
		"properties": {
			"usage": {
				"type": "object",
				"properties": {
					"input_tokens": {"type": "integer"},
					"output_tokens": {"type": "integer"},
					"cache_creation_input_tokens": {"type": "integer"},
					"cache_read_input_tokens": {"type": "integer"},
					"total_cost_usd": {"type": "number"}
				}
			}
		}
	}`,
	KindErrorFlag: `{
		"type": "object",
		"required": ["agent", "error_type", "message", "timestamp", "recoverable"],
		"properties": {
			"agent": {"type": "string"},
			"error_type": {"enum": ["crash", "timeout", "validation", "permission", "resource"]},
			"message": {"type": "string"},
			"stack": {"type": "string"},
			"timestamp": {"type": "string"},
			"recoverable": {"type": "boolean"}
		}
	}`,
	KindVerdict: `{
		"type": "object",
		"required": ["verdict"],
		"properties": {
			"verdict": {"enum": ["PASS", "FAIL", "MINOR_FAIL", "NEEDS_HUMAN"]}
		}
	}`,
	KindCRP: `{
		"type": "object",
		"required": ["crp_id", "created_by", "created_at", "status", "type"],
		"properties": {
			"crp_id": {"type": "string"},
			"created_by": {"type": "string"},
			"created_at": {"type": "string"},
			"status": {"enum": ["pending", "resolved"]},
			"type": {"type": "string"},
			"questions": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "question"],
					"properties": {
						"id": {"type": "string"},
						"question": {"type": "string"},
						"required": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	KindVCR: `{
		"type": "object",
		"required": ["vcr_id", "crp_id", "created_at", "decision"],
		"properties": {
			"vcr_id": {"type": "string"},
			"crp_id": {"type": "string"},
			"created_at": {"type": "string"}
		}
	}`,
	KindTestConfig: `{
		"type": "object",
		"required": ["test_command"],
		"properties": {
			"test_command": {"type": "string"},
			"test_directory": {"type": "string"},
			"timeout_ms": {"type": "integer"}
		}
	}`,
	KindTestOutput: `{
		"type": "object",
		"required": ["exit_code", "executed_at"],
		"properties": {
			"exit_code": {"type": "integer"},
			"stdout": {"type": "string"},
			"stderr": {"type": "string"},
			"duration_ms": {"type": "integer"},
			"executed_at": {"type": "string"}
		}
	}`,
	KindVerifierResult: `{
		"type": "object",
		"required": ["total", "passed", "failed"],
		"properties": {
			"total": {"type": "integer"},
			"passed": {"type": "integer"},
			"failed": {"type": "integer"}
		}
	}`,
}

// Registry compiles every known schema once at construction.
type Registry struct {
	schemas map[Kind]*jsonschema.Schema
}

// NewRegistry compiles all built-in schemas, returning an error describing
// which one failed rather than panicking — these are static strings, so a
// compile failure here is a programmer error caught in tests, not at runtime.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: make(map[Kind]*jsonschema.Schema, len(rawSchemas))}
	for kind, raw := range rawSchemas {
		c := jsonschema.NewCompiler()
		url := "mem://" + string(kind) + ".json"
		if err := c.AddResource(url, bytes.NewReader([]byte(raw))); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		r.schemas[kind] = compiled
	}
	return r, nil
}

// Validate decodes data as JSON and validates it against kind's schema. The
// returned error, when non-nil, is safe to surface verbatim as a WatchError
// message.
func (r *Registry) Validate(kind Kind, data []byte) error {
	schema, ok := r.schemas[kind]
	if !ok {
		return fmt.Errorf("schema: unknown kind %q", kind)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", kind, err)
	}
	return nil
}
