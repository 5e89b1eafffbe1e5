package validator

// =============================================================================
// VALIDATOR PHILOSOPHY: FAIL EARLY, FAIL LOUD
// =============================================================================
//
// The CUE schemas are the contract between the engines and everything that
// reads their inputs or outputs: binding YAML going into the type loader,
// the persisted context list, and the symbol index consumed by policy rules.
//
// Without validation a renamed field or a wrong type turns into an absent
// value: a binding property silently loses its type, a rego rule never
// fires. With validation the offending file is reported with a path to the
// bad field, e.g. "properties.reg.type: 3 errors in empty disjunction".
//
// When validation fails, fix the producer (or the schema, when the format
// really changed). Do not relax the schema to make an error go away.
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed binding_schema.cue contexts_schema.cue facts_schema.cue
var schemaFS embed.FS

// Validator checks values against one definition of an embedded schema.
// It is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
	def    string
	label  string
}

// NewBindingValidator validates decoded binding documents (#Binding).
func NewBindingValidator() (*Validator, error) {
	return newValidator("binding_schema.cue", "#Binding", "binding")
}

// NewContextsValidator validates the contexts file (#ContextsFile).
func NewContextsValidator() (*Validator, error) {
	return newValidator("contexts_schema.cue", "#ContextsFile", "contexts")
}

// NewFactsValidator validates symbol index tables (#FactTables).
func NewFactsValidator() (*Validator, error) {
	return newValidator("facts_schema.cue", "#FactTables", "facts")
}

func newValidator(file, def, label string) (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading embedded %s schema: %w", label, err)
	}

	schema := ctx.CompileBytes(schemaBytes, cue.Filename(file))
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", label, schema.Err())
	}
	if d := schema.LookupPath(cue.ParsePath(def)); d.Err() != nil {
		return nil, fmt.Errorf("looking up %s definition: %w", def, d.Err())
	}

	return &Validator{ctx: ctx, schema: schema, def: def, label: label}, nil
}

// Validate checks that data, marshaled to JSON, conforms to the schema.
// Returns nil if valid, or an error naming every failing field.
func (v *Validator) Validate(data any) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", v.label, err)
	}
	return v.ValidateJSON(jsonBytes)
}

// ValidateJSON validates JSON bytes directly against the schema.
func (v *Validator) ValidateJSON(jsonBytes []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	unified, err := v.unify(jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", v.label, err)
	}
	return nil
}

// ValidationErrors returns one message per failing field, or nil.
func (v *Validator) ValidationErrors(data any) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	unified, err := v.unify(jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		errs = append(errs, msg)
	}
	return errs
}

func (v *Validator) unify(jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling %s as CUE: %w", v.label, dataValue.Err())
	}
	return v.schema.LookupPath(cue.ParsePath(v.def)).Unify(dataValue), nil
}
