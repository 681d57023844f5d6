package routingslip

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/btree"
)

// Variables is the bag of named values threaded through a routing slip.
//
// Names are kept ordered so that iteration and serialization are
// deterministic. Reads, Clone included, never modify the bag, so a bag may be
// read from many goroutines as long as nobody writes to it.
// A nil *Variables behaves as an empty, read-only bag.
type Variables struct {
	tree *btree.Map[string, Value]
}

// NewVariables creates an empty bag.
func NewVariables() *Variables {
	return &Variables{tree: btree.NewMap[string, Value](16)}
}

// VariablesFrom converts a plain map into a bag. Every value must be
// convertible with ValueOf.
func VariablesFrom(values map[string]any) (*Variables, error) {
	vars := NewVariables()
	for name, raw := range values {
		if err := vars.SetAny(name, raw); err != nil {
			return nil, err
		}
	}
	return vars, nil
}

// MustVariables is like VariablesFrom but panics on error.
func MustVariables(values map[string]any) *Variables {
	vars, err := VariablesFrom(values)
	if err != nil {
		panic(err)
	}
	return vars
}

func (v *Variables) ensure() {
	if v.tree == nil {
		v.tree = btree.NewMap[string, Value](16)
	}
}

// Set stores value under name, replacing any previous value.
func (v *Variables) Set(name string, value Value) {
	v.ensure()
	v.tree.Set(name, value)
}

// SetAny converts raw with ValueOf and stores it under name.
func (v *Variables) SetAny(name string, raw any) error {
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	value, err := ValueOf(raw)
	if err != nil {
		return fmt.Errorf("variable %q: %w", name, err)
	}
	v.Set(name, value)
	return nil
}

// Get returns the value stored under name.
func (v *Variables) Get(name string) (Value, bool) {
	if v == nil || v.tree == nil {
		return Value{}, false
	}
	return v.tree.Get(name)
}

// Delete removes name from the bag.
func (v *Variables) Delete(name string) {
	if v == nil || v.tree == nil {
		return
	}
	v.tree.Delete(name)
}

// Len returns the number of variables.
func (v *Variables) Len() int {
	if v == nil || v.tree == nil {
		return 0
	}
	return v.tree.Len()
}

// Names returns the variable names in order.
func (v *Variables) Names() []string {
	if v == nil || v.tree == nil {
		return nil
	}
	return v.tree.Keys()
}

// Range calls fn for each variable in name order until fn returns false.
func (v *Variables) Range(fn func(name string, value Value) bool) {
	if v == nil || v.tree == nil {
		return
	}
	v.tree.Scan(fn)
}

// Merge copies every variable of other into v. On a name collision the value
// from other wins.
func (v *Variables) Merge(other *Variables) {
	if other.Len() == 0 {
		return
	}
	v.ensure()
	other.Range(func(name string, value Value) bool {
		v.tree.Set(name, value)
		return true
	})
}

// Clone returns an independent copy of the bag.
func (v *Variables) Clone() *Variables {
	out := NewVariables()
	// btree's Copy resets the isolation id of the source tree, which is a
	// write. Scan is read-only and yields names in order for Load.
	v.Range(func(name string, value Value) bool {
		out.tree.Load(name, value)
		return true
	})
	return out
}

// Equal reports whether both bags hold the same names and values.
func (v *Variables) Equal(o *Variables) bool {
	if v.Len() != o.Len() {
		return false
	}
	equal := true
	v.Range(func(name string, value Value) bool {
		other, ok := o.Get(name)
		equal = ok && value.Equal(other)
		return equal
	})
	return equal
}

// Map returns the bag as plain Go values, see Value.Interface.
func (v *Variables) Map() map[string]any {
	out := make(map[string]any, v.Len())
	v.Range(func(name string, value Value) bool {
		out[name] = value.Interface()
		return true
	})
	return out
}

// Decode copies the bag into out, which is usually a pointer to a struct, by
// matching variable names against field names or `mapstructure` tags.
func (v *Variables) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05.999999999Z07:00"),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(v.Map()); err != nil {
		return fmt.Errorf("decode variables: %w", err)
	}
	return nil
}

// MarshalJSON encodes the bag as an object of name to tagged value.
func (v *Variables) MarshalJSON() ([]byte, error) {
	values := make(map[string]Value, v.Len())
	v.Range(func(name string, value Value) bool {
		values[name] = value
		return true
	})
	return json.Marshal(values)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Variables) UnmarshalJSON(data []byte) error {
	var values map[string]Value
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	v.tree = btree.NewMap[string, Value](16)
	for name, value := range values {
		v.tree.Set(name, value)
	}
	return nil
}

// String implements fmt.Stringer.
func (v *Variables) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Variables(%d)", v.Len())
	}
	return string(data)
}
