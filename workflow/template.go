package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// templatePattern matches {{ reference }} placeholders in node config.
var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// Resolver resolves {{...}} template references against a run context.
//
// Supported forms:
//
//	{{contact.field}}   field of the triggering contact snapshot
//	{{step_N.field}}    field of node N's recorded output
//	{{var.name}}        run-scoped variable, then global variable
//
// A reference to a step that has not executed yet is an error, never an
// empty substitution: forward references indicate a miswired graph.
type Resolver struct {
	run *Run

	// lookupGlobal resolves a global-scoped variable. Nil disables
	// global lookup.
	lookupGlobal func(name string) (interface{}, bool, error)
}

// NewResolver creates a resolver over a run. lookupGlobal may be nil.
func NewResolver(run *Run, lookupGlobal func(name string) (interface{}, bool, error)) *Resolver {
	return &Resolver{run: run, lookupGlobal: lookupGlobal}
}

// Resolve substitutes every template reference in text. The first
// unresolvable reference fails the whole resolution.
func (r *Resolver) Resolve(text string) (string, error) {
	var firstErr error
	resolved := templatePattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		ref := templatePattern.FindStringSubmatch(match)[1]
		value, err := r.Lookup(ref)
		if err != nil {
			firstErr = err
			return match
		}
		return stringify(value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return resolved, nil
}

// Lookup resolves a single dotted reference to its value.
func (r *Resolver) Lookup(ref string) (interface{}, error) {
	head, rest, _ := strings.Cut(ref, ".")

	switch {
	case head == "contact":
		if rest == "" {
			return r.run.Contact, nil
		}
		value, ok := lookupPath(r.run.Contact, rest)
		if !ok {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown contact field %q", rest)
		}
		return value, nil

	case head == "var":
		if rest == "" {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "variable reference missing a name")
		}
		name, path, _ := strings.Cut(rest, ".")
		if value, ok := r.run.Variables[name]; ok {
			return descend(value, path, ref)
		}
		if r.lookupGlobal != nil {
			value, ok, err := r.lookupGlobal(name)
			if err != nil {
				return nil, err
			}
			if ok {
				return descend(value, path, ref)
			}
		}
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown variable %q", name)

	case strings.HasPrefix(head, "step_"):
		stepID := strings.TrimPrefix(head, "step_")
		output, executed := r.run.StepOutputs[stepID]
		if !executed {
			return nil, errors.Wrapf(errors.ErrInvalidRequest,
				"reference %q points at step %s which has not executed", ref, stepID)
		}
		var decoded interface{}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &decoded); err != nil {
				return nil, errors.Wrapf(err, "step %s output is not valid JSON", stepID)
			}
		}
		return descend(decoded, rest, ref)

	default:
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown template reference %q", ref)
	}
}

// ResolveData resolves every string value in a decoded config map,
// recursing into nested maps and slices.
func (r *Resolver) ResolveData(data map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := r.resolveValue(data)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]interface{}), nil
}

func (r *Resolver) resolveValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.Resolve(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			resolved, err := r.resolveValue(inner)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			resolved, err := r.resolveValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func descend(value interface{}, path, ref string) (interface{}, error) {
	if path == "" {
		return value, nil
	}
	result, ok := lookupPath(value, path)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "reference %q has no field %q", ref, path)
	}
	return result, nil
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(value interface{}, path string) (interface{}, bool) {
	current := value
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing .0
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
