package script

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// RisorCompiler compiles condition expressions with a fixed set of base
// globals that are always visible to scripts.
type RisorCompiler struct {
	globals map[string]any
}

// NewRisorCompiler creates a Risor-backed compiler. The provided globals are
// merged under any evaluation-time globals.
func NewRisorCompiler(globals map[string]any) *RisorCompiler {
	if globals == nil {
		globals = DefaultGlobals()
	}
	return &RisorCompiler{globals: globals}
}

// Compile parses and compiles an expression
func (c *RisorCompiler) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", code, err)
	}

	var globalNames []string
	for name := range c.globals {
		globalNames = append(globalNames, name)
	}
	// Evaluation-time globals are declared here too so compilation sees them
	for _, name := range evalGlobalNames {
		globalNames = append(globalNames, name)
	}
	sort.Strings(globalNames)

	compiledCode, err := compiler.Compile(ast, compiler.WithGlobalNames(globalNames))
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", code, err)
	}
	return &risorScript{compiler: c, code: compiledCode}, nil
}

// evalGlobalNames are the state globals the engine injects per evaluation.
var evalGlobalNames = []string{
	"input",
	"outputs",
	"history",
	"errors",
	"retry_count",
	"current_step",
	"completed",
	"failed",
}

// DefaultGlobals returns the Risor builtins available to condition scripts
func DefaultGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	return globals
}

type risorScript struct {
	compiler *RisorCompiler
	code     *compiler.Code
}

// Evaluate runs the compiled expression against the merged globals
func (s *risorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combined := make(map[string]any, len(s.compiler.globals)+len(globals))
	for name, value := range s.compiler.globals {
		combined[name] = value
	}
	for name, value := range globals {
		combined[name] = value
	}
	// Unset evaluation globals must still resolve
	for _, name := range evalGlobalNames {
		if _, ok := combined[name]; !ok {
			combined[name] = nil
		}
	}
	// risor v1.3.2's type converter cannot handle untyped nil globals
	for name, value := range combined {
		if value == nil {
			combined[name] = object.Nil
		}
	}
	value, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(combined))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return &risorValue{obj: value}, nil
}

type risorValue struct {
	obj object.Object
}

// Value converts the Risor result to a plain Go value
func (v *risorValue) Value() any {
	return convertToGo(v.obj)
}

// IsTruthy reports whether the result is truthy for condition routing
func (v *risorValue) IsTruthy() bool {
	switch obj := v.obj.(type) {
	case *object.Bool:
		return obj.Value()
	case *object.Int:
		return obj.Value() != 0
	case *object.Float:
		return obj.Value() != 0.0
	case *object.List:
		return len(obj.Value()) > 0
	case *object.Map:
		return len(obj.Value()) > 0
	case *object.String:
		val := obj.Value()
		return val != "" && strings.ToLower(val) != "false"
	case *object.NilType:
		return false
	default:
		return obj.IsTruthy()
	}
}

// convertToGo converts a Risor object to a Go value
func convertToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any)
		for key, value := range o.Value() {
			result[key] = convertToGo(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	default:
		// Fallback to string representation
		return obj.Inspect()
	}
}
