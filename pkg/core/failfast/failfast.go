// Package failfast turns programmer errors into immediate panics at the
// point where a required dependency is wired in.
package failfast

import (
	"fmt"
	"reflect"
)

// NotNil panics if v is nil, including typed nil pointers, funcs, maps,
// channels and interfaces wrapped in an interface value.
func NotNil(v interface{}, name string) {
	if isNil(v) {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
