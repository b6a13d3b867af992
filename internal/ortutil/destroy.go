// Package ortutil holds small helpers shared by packages that own ONNX
// Runtime resources.
package ortutil

import (
	"errors"
	"reflect"
)

// Destroyer is implemented by ONNX Runtime resources that must be explicitly released.
type Destroyer interface {
	Destroy() error
}

// DestroyAll releases resources in order and joins every error.
// Nil interfaces and typed nil pointers are skipped.
func DestroyAll(resources ...Destroyer) error {
	var errs []error
	for _, r := range resources {
		if isNil(r) {
			continue
		}
		if err := r.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DestroySlice releases every element of resources, see DestroyAll.
func DestroySlice[T Destroyer](resources []T) error {
	ds := make([]Destroyer, len(resources))
	for i, r := range resources {
		ds[i] = r
	}
	return DestroyAll(ds...)
}

func isNil(r Destroyer) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
