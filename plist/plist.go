// Package plist is a nested key/value parameter structure read from YAML.
package plist

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/ghodss/yaml"
)

var ErrBadParameter = errors.New("bad parameter")

// ParameterList is a named map of parameters. Values are scalars or nested
// lists. A nil list is empty and every getter returns its default.
type ParameterList struct {
	name   string
	params map[string]interface{}
}

func New(name string) *ParameterList {
	return &ParameterList{name: name, params: make(map[string]interface{})}
}

// FromMap wraps m without copying it.
func FromMap(name string, m map[string]interface{}) *ParameterList {
	if m == nil {
		m = make(map[string]interface{})
	}
	return &ParameterList{name: name, params: m}
}

// Parse reads a parameter list from YAML.
func Parse(name string, data []byte) (pl *ParameterList, err error) {
	var m map[string]interface{}
	if err = yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plist.Parse(%s): %w", name, err)
	}
	return FromMap(name, m), nil
}

func ReadFile(path string) (pl *ParameterList, err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return
	}
	return Parse(path, data)
}

func (pl *ParameterList) Name() string {
	if pl == nil {
		return ""
	}
	return pl.name
}

func (pl *ParameterList) IsParameter(key string) bool {
	if pl == nil {
		return false
	}
	_, ok := pl.params[key]
	return ok
}

func (pl *ParameterList) IsSublist(key string) bool {
	if pl == nil {
		return false
	}
	switch pl.params[key].(type) {
	case map[string]interface{}, *ParameterList:
		return true
	}
	return false
}

// Keys returns the parameter names in sorted order.
func (pl *ParameterList) Keys() (keys []string) {
	if pl == nil {
		return
	}
	for k := range pl.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return
}

func (pl *ParameterList) Set(key string, value interface{}) *ParameterList {
	pl.params[key] = value
	return pl
}

// Sublist returns the nested list under key, creating it if absent. A key
// holding a scalar is ErrBadParameter.
func (pl *ParameterList) Sublist(key string) (sub *ParameterList, err error) {
	if pl == nil {
		return New(key), nil
	}
	v, ok := pl.params[key]
	if !ok {
		sub = New(key)
		pl.params[key] = sub.params
		return
	}
	switch val := v.(type) {
	case map[string]interface{}:
		return FromMap(key, val), nil
	case *ParameterList:
		return val, nil
	case nil:
		sub = New(key)
		pl.params[key] = sub.params
		return
	}
	return nil, fmt.Errorf("%s: %q is a %T, not a sublist: %w", pl.name, key, v, ErrBadParameter)
}

func (pl *ParameterList) GetString(key, def string) (string, error) {
	v, ok := pl.lookup(key)
	if !ok {
		return def, nil
	}
	s, isString := v.(string)
	if !isString {
		return def, pl.mismatch(key, v, "string")
	}
	return s, nil
}

func (pl *ParameterList) GetFloat(key string, def float64) (float64, error) {
	v, ok := pl.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	}
	return def, pl.mismatch(key, v, "number")
}

func (pl *ParameterList) GetInt(key string, def int) (int, error) {
	v, ok := pl.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case float64:
		// YAML numbers decode as float64
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int(val), nil
		}
	}
	return def, pl.mismatch(key, v, "integer")
}

func (pl *ParameterList) GetBool(key string, def bool) (bool, error) {
	v, ok := pl.lookup(key)
	if !ok {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return def, pl.mismatch(key, v, "bool")
	}
	return b, nil
}

func (pl *ParameterList) lookup(key string) (v interface{}, ok bool) {
	if pl == nil {
		return
	}
	v, ok = pl.params[key]
	return
}

func (pl *ParameterList) mismatch(key string, v interface{}, want string) error {
	return fmt.Errorf("%s: %q = %v is not a %s: %w", pl.name, key, v, want, ErrBadParameter)
}

// Print writes the list as YAML to stdout.
func (pl *ParameterList) Print() {
	if pl == nil {
		return
	}
	out, err := yaml.Marshal(pl.params)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s:\n%s", pl.name, indent(string(out)))
}

func indent(s string) (out string) {
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out += "  " + s[start:i+1]
			start = i + 1
		}
	}
	if start < len(s) {
		out += "  " + s[start:]
	}
	return
}
