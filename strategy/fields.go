package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrBadField is returned when a stored or configured value does not fit
// the declared field.
var ErrBadField = errors.New("bad field")

// Field is one strategy-declared serializable value with a typed setter.
type Field struct {
	Name string
	get  func() any
	set  func(json.RawMessage) error
}

func typed[T any](name string, p *T) Field {
	return Field{
		Name: name,
		get:  func() any { return *p },
		set: func(raw json.RawMessage) error {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*p = v
			return nil
		},
	}
}

func Float(name string, p *float64) Field { return typed(name, p) }
func Int(name string, p *int) Field { return typed(name, p) }
func Bool(name string, p *bool) Field { return typed(name, p) }
func String(name string, p *string) Field { return typed(name, p) }
func Time(name string, p *time.Time) Field { return typed(name, p) }

// Duration stores a time.Duration as its string form ("2m0s").
func Duration(name string, p *time.Duration) Field {
	return Field{
		Name: name,
		get:  func() any { return p.String() },
		set: func(raw json.RawMessage) error {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return err
			}
			*p = d
			return nil
		},
	}
}

type Fields []Field

func (fs Fields) Names() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func (fs Fields) Encode() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fs))
	for _, f := range fs {
		raw, err := json.Marshal(f.get())
		if err != nil {
			return nil, fmt.Errorf("%w: encode %s: %v", ErrBadField, f.Name, err)
		}
		out[f.Name] = raw
	}
	return out, nil
}

// Decode applies every known entry of m. Names no field declares are not
// applied and are returned, sorted, so the caller can report them. Fields
// missing from m keep their current value.
func (fs Fields) Decode(m map[string]json.RawMessage) ([]string, error) {
	byName := make(map[string]Field, len(fs))
	for _, f := range fs {
		byName[f.Name] = f
	}

	var unknown []string
	for name, raw := range m {
		f, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if err := f.set(raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadField, name, err)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// Apply sets fields from loosely typed configuration values. Unlike
// Decode, unknown names are an error.
func (fs Fields) Apply(params map[string]any) error {
	m := make(map[string]json.RawMessage, len(params))
	for k, v := range params {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadField, k, err)
		}
		m[k] = raw
	}
	unknown, err := fs.Decode(m)
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown parameters %v", ErrBadField, unknown)
	}
	return nil
}
