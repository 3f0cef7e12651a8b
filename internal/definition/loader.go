package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/cascade/internal/expressions"
	"github.com/rendis/cascade/internal/validation"
	"github.com/rendis/cascade/pkg/schema"
)

// Document formats accepted by the Loader.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Loader parses definition documents, validates them and compiles their
// cancel conditions.
type Loader struct {
	compiler  *expressions.Compiler
	validator *validation.WorkflowValidator
}

// NewLoader creates a Loader backed by the given condition compiler.
func NewLoader(compiler *expressions.Compiler) (*Loader, error) {
	v, err := validation.NewWorkflowValidator(compiler)
	if err != nil {
		return nil, err
	}
	return &Loader{compiler: compiler, validator: v}, nil
}

// ReadDocument reads one definition file, picking the format from its
// extension.
func ReadDocument(path string) (body []byte, format string, err error) {
	format = FormatOf(path)
	if format == "" {
		return nil, "", schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported definition file %q (want .json, .yaml or .yml)", path)
	}
	body, err = os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return body, format, nil
}

// WalkDocuments calls fn for every *.json, *.yaml and *.yml document under
// dir, recursively and in lexical order, skipping hidden directories. The
// walk stops at the first error.
func WalkDocuments(dir string, fn func(path string, body []byte, format string) error) error {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if FormatOf(path) == "" {
			return nil
		}
		body, format, err := ReadDocument(path)
		if err != nil {
			return err
		}
		if err := fn(path, body, format); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning directory %s: %w", dir, err)
	}
	return nil
}

// Parse decodes a document and returns the compiled Workflow.
func (l *Loader) Parse(data []byte, format string) (*Workflow, error) {
	def, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return l.Compile(def)
}

// Compile validates def and compiles each step's cancel condition.
func (l *Loader) Compile(def *schema.WorkflowDefinition) (*Workflow, error) {
	if err := l.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}

	steps := make([]*Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		pred, err := l.compiler.Compile(sd.CancelCondition)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"compile cancel condition: %s", err.Error()).WithStep(sd.ID).WithCause(err)
		}
		steps = append(steps, &Step{StepDefinition: sd, CancelCondition: pred})
	}

	wf := NewWorkflow(def.ID, def.Version, steps...)
	wf.Description = def.Description
	wf.Source = def
	return wf, nil
}

// Decode parses a JSON or YAML document into a WorkflowDefinition.
func Decode(data []byte, format string) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid JSON definition").WithCause(err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid YAML definition").WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported definition format %q", format)
	}
	return &def, nil
}

// FormatOf maps a file extension to a document format, or "" if unsupported.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}
