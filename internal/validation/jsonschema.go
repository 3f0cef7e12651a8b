package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/cascade/pkg/schema"
)

const workflowSchemaURL = "https://cascade.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascade.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "version": { "type": "integer", "minimum": 0 },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "outcomes": {
          "type": "array",
          "items": { "$ref": "#/$defs/outcome" }
        },
        "children": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "cancel_condition": { "$ref": "#/$defs/condition" },
        "proceed_on_cancel": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "outcome": {
      "type": "object",
      "required": ["next"],
      "properties": {
        "next": { "type": "string", "minLength": 1 },
        "value": {}
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["expression"],
      "properties": {
        "engine": { "type": "string", "enum": ["", "cel", "expr", "jq"] },
        "expression": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates definitions against the workflow JSON Schema
// (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	r := &schema.ValidationResult{Errors: v.Issues(def)}
	return r.ToError()
}

// Issues returns one error-severity issue per leaf schema violation. Paths
// use the same locator form as the semantic checks, e.g.
// "steps[1].cancel_condition.engine", and carry the step ID when the
// violation sits inside a step.
func (v *JSONSchemaValidator) Issues(def *schema.WorkflowDefinition) []schema.ValidationIssue {
	if def == nil {
		return []schema.ValidationIssue{rootIssue("workflow definition is nil")}
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return []schema.ValidationIssue{rootIssue("serialize workflow definition: " + err.Error())}
	}

	err = v.workflowSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []schema.ValidationIssue{rootIssue(err.Error())}
	}

	var issues []schema.ValidationIssue
	for _, leaf := range leaves(verr) {
		issues = append(issues, schema.ValidationIssue{
			Path:     locator(leaf.InstanceLocation),
			StepID:   stepAt(def, leaf.InstanceLocation),
			Code:     schema.ErrCodeValidation,
			Message:  leaf.Error(),
			Severity: schema.SeverityError,
		})
	}
	return issues
}

func rootIssue(msg string) schema.ValidationIssue {
	return schema.ValidationIssue{Path: "/", Code: schema.ErrCodeValidation, Message: msg, Severity: schema.SeverityError}
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func leaves(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

// locator turns a JSON pointer split into tokens into "steps[1].name".
func locator(tokens []string) string {
	if len(tokens) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, tok := range tokens {
		if _, err := strconv.Atoi(tok); err == nil {
			fmt.Fprintf(&b, "[%s]", tok)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func stepAt(def *schema.WorkflowDefinition, tokens []string) string {
	if len(tokens) < 2 || tokens[0] != "steps" {
		return ""
	}
	i, err := strconv.Atoi(tokens[1])
	if err != nil || i < 0 || i >= len(def.Steps) {
		return ""
	}
	return def.Steps[i].ID
}
