/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package expr

import (
	"fmt"
	"math"
	"sync"

	"github.com/PaesslerAG/gval"
)

// Func is a pure, allow-listed function callable from within a branch
// condition. Implementations must be total, deterministic, and free of I/O,
// clock reads, and randomness (spec.md section 4.2): the same arguments
// always produce the same result or the same DSLEvaluationError.
type Func func(args []any) (any, error)

// Registry holds the builtin functions plus any deployment-registered
// extensions. Builtins can never be shadowed.
type Registry struct {
	mu       sync.RWMutex
	extra    map[string]Func
	gvalLang gval.Language
}

// NewRegistry returns a Registry seeded with the fixed builtin set.
func NewRegistry() *Registry {
	return &Registry{
		extra:    make(map[string]Func),
		gvalLang: gval.Base(),
	}
}

// RegisterExpressionFunction adds a named pure function whose body is an
// admin-authored gval expression string, evaluated against its positional
// arguments bound as arg0, arg1, .... This is a distinct, operator-
// controlled trust boundary from the untrusted UOW-attribute-driven branch
// conditions this package otherwise evaluates: the expression text here
// comes from deployment configuration, never from a template author acting
// on live UOW data, so gval's fuller operator set (including the
// arithmetic and comparison operators already in gval.Base()) is an
// acceptable, well-justified use of the library rather than a back door
// around the grammar's restrictions.
func (r *Registry) RegisterExpressionFunction(name, gvalExpr string) error {
	if _, ok := builtins[name]; ok {
		return fmt.Errorf("expr: cannot shadow builtin function %q", name)
	}
	eval, err := r.gvalLang.NewEvaluable(gvalExpr)
	if err != nil {
		return fmt.Errorf("expr: invalid expression for function %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extra[name] = func(args []any) (any, error) {
		bound := make(map[string]any, len(args))
		for i, a := range args {
			bound[fmt.Sprintf("arg%d", i)] = a
		}
		return eval(nil, bound)
	}
	return nil
}

func (r *Registry) lookup(name string) (Func, bool) {
	if fn, ok := builtins[name]; ok {
		return fn, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.extra[name]
	return fn, ok
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return DSLEvaluationError("%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func asFloat(name string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, DSLEvaluationError("%s(): expected a number, got %T", name, v)
	}
}

var builtins = map[string]Func{
	"abs": func(args []any) (any, error) {
		if err := arity("abs", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("abs", args[0])
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	},
	"min": func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, DSLEvaluationError("min() requires at least one argument")
		}
		best, err := asFloat("min", args[0])
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			f, err := asFloat("min", a)
			if err != nil {
				return nil, err
			}
			if f < best {
				best = f
			}
		}
		return best, nil
	},
	"max": func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, DSLEvaluationError("max() requires at least one argument")
		}
		best, err := asFloat("max", args[0])
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			f, err := asFloat("max", a)
			if err != nil {
				return nil, err
			}
			if f > best {
				best = f
			}
		}
		return best, nil
	},
	"round": func(args []any) (any, error) {
		if err := arity("round", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("round", args[0])
		if err != nil {
			return nil, err
		}
		return math.Round(f), nil
	},
	"floor": func(args []any) (any, error) {
		if err := arity("floor", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("floor", args[0])
		if err != nil {
			return nil, err
		}
		return math.Floor(f), nil
	},
	"ceil": func(args []any) (any, error) {
		if err := arity("ceil", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("ceil", args[0])
		if err != nil {
			return nil, err
		}
		return math.Ceil(f), nil
	},
	"sqrt": func(args []any) (any, error) {
		if err := arity("sqrt", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("sqrt", args[0])
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return nil, DSLEvaluationError("sqrt(): argument must not be negative")
		}
		return math.Sqrt(f), nil
	},
	"pow": func(args []any) (any, error) {
		if err := arity("pow", args, 2); err != nil {
			return nil, err
		}
		base, err := asFloat("pow", args[0])
		if err != nil {
			return nil, err
		}
		exp, err := asFloat("pow", args[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(base, exp), nil
	},
	"len": func(args []any) (any, error) {
		if err := arity("len", args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		default:
			return nil, DSLEvaluationError("len(): expected a string or list, got %T", args[0])
		}
	},
	"sum": func(args []any) (any, error) {
		if err := arity("sum", args, 1); err != nil {
			return nil, err
		}
		items, ok := args[0].([]any)
		if !ok {
			return nil, DSLEvaluationError("sum(): expected a list, got %T", args[0])
		}
		var total float64
		for _, it := range items {
			f, err := asFloat("sum", it)
			if err != nil {
				return nil, err
			}
			total += f
		}
		return total, nil
	},
	"all": func(args []any) (any, error) {
		if err := arity("all", args, 1); err != nil {
			return nil, err
		}
		items, ok := args[0].([]any)
		if !ok {
			return nil, DSLEvaluationError("all(): expected a list, got %T", args[0])
		}
		for _, it := range items {
			b, ok := it.(bool)
			if !ok || !b {
				return false, nil
			}
		}
		return true, nil
	},
	"any": func(args []any) (any, error) {
		if err := arity("any", args, 1); err != nil {
			return nil, err
		}
		items, ok := args[0].([]any)
		if !ok {
			return nil, DSLEvaluationError("any(): expected a list, got %T", args[0])
		}
		for _, it := range items {
			if b, ok := it.(bool); ok && b {
				return true, nil
			}
		}
		return false, nil
	},
	"str": func(args []any) (any, error) {
		if err := arity("str", args, 1); err != nil {
			return nil, err
		}
		return fmt.Sprintf("%v", args[0]), nil
	},
	"int": func(args []any) (any, error) {
		if err := arity("int", args, 1); err != nil {
			return nil, err
		}
		f, err := asFloat("int", args[0])
		if err != nil {
			return nil, err
		}
		return math.Trunc(f), nil
	},
	"float": func(args []any) (any, error) {
		if err := arity("float", args, 1); err != nil {
			return nil, err
		}
		return asFloat("float", args[0])
	},
}
