package routingslip

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// TypedExecuteFunc runs an activity with its arguments decoded into A. The
// fields of the returned R are merged into the slip variables.
type TypedExecuteFunc[A, R any] func(ctx context.Context, ectx ExecuteContext, args A) (R, error)

// TypedCompensateFunc undoes a typed activity. out is decoded from the
// variables snapshot recorded when the activity completed.
type TypedCompensateFunc[A, R any] func(ctx context.Context, cctx CompensateContext, args A, out R) error

// NewTypedActivity builds an activity whose arguments and outputs are Go
// structs. Fields are matched by their `mapstructure` tag, or by name.
func NewTypedActivity[A, R any](name ActivityName, execute TypedExecuteFunc[A, R], compensate TypedCompensateFunc[A, R]) *ActivityFunc {
	exec := func(ctx context.Context, ectx ExecuteContext) (Result, error) {
		var args A
		if err := ectx.DecodeArguments(&args); err != nil {
			return Result{}, fmt.Errorf("%s arguments: %w", name, err)
		}
		out, err := execute(ctx, ectx, args)
		if err != nil {
			return Result{}, err
		}
		vars, err := VariablesOf(out)
		if err != nil {
			return Result{}, fmt.Errorf("%s output: %w", name, err)
		}
		return Complete(vars), nil
	}

	if compensate == nil {
		return NewExecuteOnlyActivity(name, exec)
	}
	return NewActivityFunc(name, exec, func(ctx context.Context, cctx CompensateContext) error {
		var args A
		if err := cctx.DecodeArguments(&args); err != nil {
			return fmt.Errorf("%s arguments: %w", name, err)
		}
		var out R
		if err := cctx.Variables.Decode(&out); err != nil {
			return fmt.Errorf("%s output: %w", name, err)
		}
		return compensate(ctx, cctx, args, out)
	})
}

// VariablesOf converts a struct, a pointer to one, or a map with string keys
// into a bag. Struct fields tagged `mapstructure:"-"` and unexported fields
// are skipped; a nil pointer yields an empty bag.
func VariablesOf(v any) (*Variables, error) {
	vars := NewVariables()
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return vars, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Invalid:
		return vars, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not a string", rv.Type().Key())
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := vars.SetAny(iter.Key().String(), iter.Value().Interface()); err != nil {
				return nil, err
			}
		}
	case reflect.Struct:
		rt := rv.Type()
		for i := range rt.NumField() {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ","); tag == "-" {
				continue
			} else if tag != "" {
				name = tag
			}
			if err := vars.SetAny(name, rv.Field(i).Interface()); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("cannot convert %s to variables", rv.Type())
	}
	return vars, nil
}

// Lookup returns the variable name converted to T. Json values are
// unmarshalled; other kinds are converted with weak typing, so an int
// variable can be read as an int or a string.
func Lookup[T any](vars *Variables, name string) (T, bool) {
	var zero T
	value, ok := vars.Get(name)
	if !ok || value.IsNull() {
		return zero, false
	}

	raw := value.Interface()
	if typed, ok := raw.(T); ok {
		return typed, true
	}
	var out T
	if value.Kind() == KindJSON {
		if err := value.DecodeJSON(&out); err != nil {
			return zero, false
		}
		return out, true
	}
	if err := mapstructure.WeakDecode(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}
