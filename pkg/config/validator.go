package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Field paths use dot notation ("Pool.Size") and walk through nested
// structs and struct pointers.

// RequiredFields rejects configs where any of the named fields holds its
// zero value. All missing fields are reported together.
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, path := range fields {
			v, err := field(config, path)
			if err != nil {
				return err
			}
			if v.IsZero() {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator checks that a numeric field lies in [min, max].
func RangeValidator(path string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := field(config, path)
		if err != nil {
			return err
		}

		var n float64
		switch {
		case v.CanInt():
			n = float64(v.Int())
		case v.CanUint():
			n = float64(v.Uint())
		case v.CanFloat():
			n = v.Float()
		default:
			return fmt.Errorf("field %s is not numeric", path)
		}

		if n < min || n > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", path, n, min, max)
		}
		return nil
	})
}

// DurationValidator checks that string fields are empty or parse with
// time.ParseDuration to a non-negative duration.
func DurationValidator(paths ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		for _, path := range paths {
			v, err := field(config, path)
			if err != nil {
				return err
			}
			if v.Kind() != reflect.String {
				return fmt.Errorf("field %s is not a string", path)
			}
			s := v.String()
			if s == "" {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("field %s: invalid duration %q: %w", path, s, err)
			}
			if d < 0 {
				return fmt.Errorf("field %s: negative duration %q", path, s)
			}
		}
		return nil
	})
}

// OneOfValidator checks that a field equals one of allowed. Strings compare
// case-insensitively.
func OneOfValidator(path string, allowed ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := field(config, path)
		if err != nil {
			return err
		}

		got := v.Interface()
		for _, a := range allowed {
			if reflect.DeepEqual(got, a) {
				return nil
			}
			if s, ok := got.(string); ok {
				if as, ok := a.(string); ok && strings.EqualFold(s, as) {
					return nil
				}
			}
		}
		return fmt.Errorf("field %s value %v is not one of allowed values: %v", path, got, allowed)
	})
}

// field resolves a dotted path against config.
func field(config interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	for _, name := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("field %s: nil pointer before %s", path, name)
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s: %s is not inside a struct", path, name)
		}
		v = v.FieldByName(name)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found in config struct", path)
		}
	}
	return v, nil
}
